package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Status is the coarse-grained lifecycle state of a whole migration
type Status string

// Migration lifecycle states
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// validTransitions encodes the lifecycle state machine. A migration
// only ever moves along these edges.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:  {StatusRunning, StatusCancelled},
	// A failed migration can be resumed; checkpoints make re-runs safe.
	// It cannot be cancelled: cancel is for work in flight.
	StatusFailed:    {StatusRunning},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransitionTo reports whether the lifecycle state machine allows
// moving from s to target
func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// MigrationError is one entry of a migration's accumulated error list
type MigrationError struct {
	Module    Module    `json:"module"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// MigrationErrors is the append-only error list, stored as a JSON column
type MigrationErrors []MigrationError

// Value implements driver.Valuer for JSON storage
func (e MigrationErrors) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner for JSON storage
func (e *MigrationErrors) Scan(value interface{}) error {
	if value == nil {
		*e = MigrationErrors{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, e)
	case string:
		return json.Unmarshal([]byte(v), e)
	default:
		return fmt.Errorf("cannot scan %T into MigrationErrors", value)
	}
}

// Migration identifies one source-to-destination copy operation and
// owns its checkpoint items and logs
type Migration struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	UserID             uint            `gorm:"not null;index" json:"user_id"`
	SourceStoreID      uint            `gorm:"not null" json:"source_store_id"`
	DestinationStoreID uint            `gorm:"not null" json:"destination_store_id"`
	SelectedModules    ModuleSelection `gorm:"type:jsonb;not null" json:"selected_modules"`
	Status             Status          `gorm:"index;not null;default:'pending'" json:"status"`
	Errors             MigrationErrors `gorm:"type:jsonb" json:"errors"`
	StartedAt          *time.Time      `json:"started_at"`
	CompletedAt        *time.Time      `json:"completed_at"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// Associations
	SourceStore      *Store `gorm:"foreignKey:SourceStoreID" json:"-"`
	DestinationStore *Store `gorm:"foreignKey:DestinationStoreID" json:"-"`
}

// TableName ensures consistent table naming
func (Migration) TableName() string {
	return "migrations"
}

// Validate checks the migration's invariants
func (m *Migration) Validate() error {
	if m.SourceStoreID == 0 {
		return fmt.Errorf("source store is required")
	}
	if m.DestinationStoreID == 0 {
		return fmt.Errorf("destination store is required")
	}
	if m.SourceStoreID == m.DestinationStoreID {
		return fmt.Errorf("source and destination stores must be different")
	}
	return m.SelectedModules.Validate()
}

// BeforeCreate runs validation before saving a new migration
func (m *Migration) BeforeCreate(tx *gorm.DB) error {
	if m.Status == "" {
		m.Status = StatusPending
	}
	return m.Validate()
}

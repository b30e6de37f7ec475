package models

import (
	"time"
)

// ItemStatus is the checkpoint state of one migrated item
type ItemStatus string

// Checkpoint item states
const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemFailed    ItemStatus = "failed"
)

// MigrationItem is the durable checkpoint record for a single source
// item, uniquely keyed by (migration, module, source id). Upsert
// semantics keep at most one row per key, which is what makes
// re-running a module after interruption safe: completed items are
// skipped by lookup instead of being re-created.
type MigrationItem struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	MigrationID   uint       `gorm:"not null;uniqueIndex:idx_migration_items_key" json:"migration_id"`
	Module        Module     `gorm:"not null;uniqueIndex:idx_migration_items_key" json:"module"`
	SourceID      string     `gorm:"not null;uniqueIndex:idx_migration_items_key" json:"source_id"`
	DestinationID string     `json:"destination_id"`
	Status        ItemStatus `gorm:"index;not null;default:'pending'" json:"status"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount    int        `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName ensures consistent table naming
func (MigrationItem) TableName() string {
	return "migration_items"
}

// Migrated reports whether the item already has a destination mapping
// and can be skipped on a re-run
func (i *MigrationItem) Migrated() bool {
	return i.DestinationID != "" && i.Status == ItemCompleted
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// LogLevel is the severity of a migration log entry
type LogLevel string

// Migration log levels
const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
	LogSuccess LogLevel = "success"
)

// LogMetadata carries structured context for a log entry, stored as a
// JSON column
type LogMetadata map[string]interface{}

// Value implements driver.Valuer for JSON storage
func (m LogMetadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSON storage
func (m *LogMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = LogMetadata{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("cannot scan %T into LogMetadata", value)
	}
}

// MigrationLog is an append-only audit record. Rows are never mutated
// or deleted; they also feed the live log stream.
type MigrationLog struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	MigrationID uint        `gorm:"not null;index" json:"migration_id"`
	Module      Module      `gorm:"not null" json:"module"`
	Level       LogLevel    `gorm:"not null" json:"level"`
	Message     string      `gorm:"type:text;not null" json:"message"`
	Metadata    LogMetadata `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TableName ensures consistent table naming
func (MigrationLog) TableName() string {
	return "migration_logs"
}

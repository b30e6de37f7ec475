package models

import (
	"time"
)

// MigrationProgress is the per-module progress sub-record, keyed
// uniquely by (migration, module) and written only by the module job
// that owns it. Keeping one row per key and updating through an
// upsert avoids lost updates when several module jobs of the same
// migration complete concurrently.
type MigrationProgress struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	MigrationID uint      `gorm:"not null;uniqueIndex:idx_migration_progress_key" json:"migration_id"`
	Module      Module    `gorm:"not null;uniqueIndex:idx_migration_progress_key" json:"module"`
	Percentage  int       `gorm:"not null;default:0" json:"percentage"`
	Processed   int       `gorm:"not null;default:0" json:"processed"`
	Total       int       `gorm:"not null;default:0" json:"total"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName ensures consistent table naming
func (MigrationProgress) TableName() string {
	return "migration_progress"
}

// Complete reports whether the module has reached 100 percent
func (p MigrationProgress) Complete() bool {
	return p.Percentage >= 100
}

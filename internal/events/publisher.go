// Package events fans progress, log and completion events out to
// dashboard subscribers of a migration. Delivery is best effort and
// at most once per call; a failed publish never fails the migration.
package events

import (
	"context"
	"time"

	"github.com/storesync/storesync/internal/models"
)

// ProgressEvent is pushed on every progress update of a module
type ProgressEvent struct {
	Module     models.Module `json:"module"`
	Percentage int           `json:"percentage"`
	Processed  int           `json:"processed"`
	Total      int           `json:"total"`
}

// LogEvent mirrors a migration log entry to live subscribers
type LogEvent struct {
	Module    models.Module      `json:"module"`
	Level     models.LogLevel    `json:"level"`
	Message   string             `json:"message"`
	Metadata  models.LogMetadata `json:"metadata,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// CompletionEvent announces that a migration reached its terminal
// completed state
type CompletionEvent struct {
	MigrationID uint      `json:"migration_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher is the boundary to the real-time transport. Implementations
// must be safe for concurrent use.
type Publisher interface {
	PublishProgress(ctx context.Context, migrationID uint, event ProgressEvent) error
	PublishLog(ctx context.Context, migrationID uint, event LogEvent) error
	PublishCompletion(ctx context.Context, migrationID uint) error
}

// NopPublisher discards all events. Used in tests and when no
// real-time transport is configured.
type NopPublisher struct{}

func (NopPublisher) PublishProgress(context.Context, uint, ProgressEvent) error { return nil }
func (NopPublisher) PublishLog(context.Context, uint, LogEvent) error           { return nil }
func (NopPublisher) PublishCompletion(context.Context, uint) error              { return nil }

// Package queue provides the migration job queue and the worker pool
// that drains it. One job covers one module of one migration, so a
// migration with four selected modules fans out into four jobs that
// workers can pick up independently.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/storesync/storesync/internal/models"
)

// Job is one unit of migration work: a single module of a single
// migration
type Job struct {
	ID          string        `json:"id"`
	MigrationID uint          `json:"migration_id"`
	Module      models.Module `json:"module"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
}

// NewJob builds a job for one module of a migration
func NewJob(migrationID uint, module models.Module) Job {
	return Job{
		ID:          uuid.New().String(),
		MigrationID: migrationID,
		Module:      module,
		EnqueuedAt:  time.Now().UTC(),
	}
}

// Queue is the transport between the API process that accepts
// migrations and the worker pool that executes them
type Queue interface {
	// Enqueue pushes a job onto the queue
	Enqueue(ctx context.Context, job Job) error

	// Dequeue blocks until a job is available or the context is
	// cancelled
	Dequeue(ctx context.Context) (Job, error)

	// Close releases the underlying transport
	Close() error
}

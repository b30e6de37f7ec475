// Package migrator implements the per-module resource migrators that
// copy store resources from a source to a destination account. Each
// migrator is stateless across jobs: all durable state lives in the
// checkpoint ledger, so any instance can resume any migration on any
// worker.
package migrator

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/shopify"
	"github.com/storesync/storesync/internal/utils"
)

// ErrPaused is returned from the item loop when the migration was
// paused by the user. The scheduler treats it as a cooperative stop,
// not a failure.
var ErrPaused = errors.New("migration paused")

// ErrCancelled is returned from the item loop when the migration was
// cancelled.
var ErrCancelled = errors.New("migration cancelled")

// Summary is the result of one module migration run
type Summary struct {
	Succeeded bool `json:"succeeded"`
	Total     int  `json:"total"`
	Processed int  `json:"processed"`
}

// Gate is consulted once per item; it returns ErrPaused or ErrCancelled
// when the migration should stop cooperatively
type Gate func(ctx context.Context) error

// Env carries the collaborators a migrator borrows for the duration of
// one job execution. Migrators hold no state of their own beyond it.
type Env struct {
	MigrationID uint
	Source      *shopify.Client
	Destination *shopify.Client
	Checkpoints *CheckpointStore
	Progress    *Tracker
	Recorder    *Recorder
	Gate        Gate
	Logger      zerolog.Logger
}

func (e *Env) checkGate(ctx context.Context) error {
	if e.Gate == nil {
		return nil
	}
	return e.Gate(ctx)
}

// Migrator copies one category of store resource. Implementations
// tolerate individual item failures (recorded per item in the
// checkpoint ledger) and abort only on module-level fatal errors.
type Migrator interface {
	Module() models.Module
	Migrate(ctx context.Context) (*Summary, error)
}

// Constructor builds a migrator bound to one job's environment
type Constructor func(env *Env) Migrator

// registry is the closed dispatch table from module to implementation
var registry = map[models.Module]Constructor{
	models.ModuleTheme:       func(env *Env) Migrator { return &themeMigrator{env: env} },
	models.ModuleProducts:    func(env *Env) Migrator { return &productMigrator{env: env} },
	models.ModuleCollections: func(env *Env) Migrator { return &collectionMigrator{env: env} },
	models.ModulePages:       func(env *Env) Migrator { return &pageMigrator{env: env} },
	models.ModuleMedia:       func(env *Env) Migrator { return &mediaMigrator{env: env} },
}

// New resolves the migrator for a module. An unknown module is a
// module-level fatal error.
func New(module models.Module, env *Env) (Migrator, error) {
	constructor, ok := registry[module]
	if !ok {
		return nil, utils.WrapModuleError(module.String(), "unknown module", nil)
	}
	return constructor(env), nil
}

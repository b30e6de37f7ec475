package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/storesync/storesync/internal/config"
	"github.com/storesync/storesync/internal/events"
	"github.com/storesync/storesync/internal/migrator"
	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/shopify"
)

// WorkerPool drains the job queue with a fixed number of concurrent
// workers. Each job runs one module migrator; a transient module
// failure is retried with exponential backoff before the migration is
// marked failed.
type WorkerPool struct {
	db        *gorm.DB
	queue     Queue
	publisher events.Publisher
	cfg       *config.Config
	logger    zerolog.Logger
}

// NewWorkerPool creates a worker pool over the given queue
func NewWorkerPool(db *gorm.DB, q Queue, publisher events.Publisher, cfg *config.Config, logger zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		db:        db,
		queue:     q,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Run blocks until the context is cancelled, processing jobs with
// Queue.Concurrency workers
func (w *WorkerPool) Run(ctx context.Context) error {
	w.logger.Info().
		Int("concurrency", w.cfg.Queue.Concurrency).
		Str("queue", w.cfg.Queue.Key).
		Msg("Starting worker pool")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Queue.Concurrency; i++ {
		worker := i
		g.Go(func() error {
			return w.run(ctx, worker)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *WorkerPool) run(ctx context.Context, worker int) error {
	logger := w.logger.With().Int("worker", worker).Logger()

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrQueueClosed) {
				return ctx.Err()
			}
			logger.Error().Err(err).Msg("Failed to dequeue job")
			continue
		}

		logger.Info().
			Str("job_id", job.ID).
			Uint("migration_id", job.MigrationID).
			Str("module", job.Module.String()).
			Msg("Processing job")

		if err := w.process(ctx, job, logger); err != nil {
			logger.Error().Err(err).
				Str("job_id", job.ID).
				Msg("Job processing failed")
		}
	}
}

// process runs one module of one migration to completion, pause, or
// failure
func (w *WorkerPool) process(ctx context.Context, job Job, logger zerolog.Logger) error {
	var migration models.Migration
	err := w.db.WithContext(ctx).
		Preload("SourceStore").
		Preload("DestinationStore").
		First(&migration, job.MigrationID).Error
	if err != nil {
		return fmt.Errorf("failed to load migration %d: %w", job.MigrationID, err)
	}

	// Jobs for paused or terminal migrations are stale; resume
	// re-enqueues fresh ones. A failed migration is not terminal:
	// one module failing must not starve the others still queued.
	if migration.Status.IsTerminal() || migration.Status == models.StatusPaused {
		logger.Info().
			Uint("migration_id", migration.ID).
			Str("status", string(migration.Status)).
			Msg("Skipping job for inactive migration")
		return nil
	}

	if migration.Status == models.StatusPending {
		now := time.Now().UTC()
		err := w.db.WithContext(ctx).Model(&models.Migration{}).
			Where("id = ? AND status = ?", migration.ID, models.StatusPending).
			Updates(map[string]interface{}{
				"status":     models.StatusRunning,
				"started_at": now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to start migration: %w", err)
		}
	}

	if migration.SourceStore == nil || migration.DestinationStore == nil {
		return w.fail(ctx, &migration, job.Module, errors.New("migration stores not found"))
	}

	env := &migrator.Env{
		MigrationID: migration.ID,
		Source:      shopify.NewClient(migration.SourceStore.StoreURL, migration.SourceStore.AccessToken, w.cfg.Shopify, logger),
		Destination: shopify.NewClient(migration.DestinationStore.StoreURL, migration.DestinationStore.AccessToken, w.cfg.Shopify, logger),
		Checkpoints: migrator.NewCheckpointStore(w.db),
		Progress:    migrator.NewTracker(w.db, w.publisher, logger, migration.ID),
		Recorder:    migrator.NewRecorder(w.db, w.publisher, logger, migration.ID),
		Gate:        w.gate(migration.ID),
		Logger:      logger,
	}

	m, err := migrator.New(job.Module, env)
	if err != nil {
		return w.fail(ctx, &migration, job.Module, err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.Queue.MaxAttempts; attempt++ {
		summary, err := m.Migrate(ctx)
		if err == nil {
			logger.Info().
				Str("module", job.Module.String()).
				Int("total", summary.Total).
				Int("processed", summary.Processed).
				Msg("Module migration finished")
			return w.checkCompletion(ctx, migration.ID)
		}

		// A gate stop is cooperative, not a failure; the status was
		// already changed by the API side.
		if errors.Is(err, migrator.ErrPaused) || errors.Is(err, migrator.ErrCancelled) {
			logger.Info().
				Str("module", job.Module.String()).
				Err(err).
				Msg("Module migration stopped")
			return nil
		}

		lastErr = err
		if attempt < w.cfg.Queue.MaxAttempts {
			backoff := w.cfg.Queue.BackoffBase << (attempt - 1)
			logger.Warn().Err(err).
				Str("module", job.Module.String()).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Module migration failed, retrying")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return w.fail(ctx, &migration, job.Module, lastErr)
}

// gate re-reads the migration status so pause and cancel requests made
// through the API take effect between items
func (w *WorkerPool) gate(migrationID uint) migrator.Gate {
	return func(ctx context.Context) error {
		var status models.Status
		err := w.db.WithContext(ctx).Model(&models.Migration{}).
			Where("id = ?", migrationID).
			Pluck("status", &status).Error
		if err != nil {
			// Status check failures must not kill the migration.
			return nil
		}

		switch status {
		case models.StatusPaused:
			return migrator.ErrPaused
		case models.StatusCancelled:
			return migrator.ErrCancelled
		default:
			return nil
		}
	}
}

// fail records the module error on the migration and moves it to
// failed. Other modules of the same migration keep running and record
// their own outcomes; only pause and cancel stop work in flight.
func (w *WorkerPool) fail(ctx context.Context, migration *models.Migration, module models.Module, cause error) error {
	w.logger.Error().Err(cause).
		Uint("migration_id", migration.ID).
		Str("module", module.String()).
		Msg("Module migration failed permanently")

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Migration
		if err := tx.First(&current, migration.ID).Error; err != nil {
			return err
		}

		current.Errors = append(current.Errors, models.MigrationError{
			Module:    module,
			Error:     cause.Error(),
			Timestamp: time.Now().UTC(),
		})

		updates := map[string]interface{}{"errors": current.Errors}
		if current.Status.CanTransitionTo(models.StatusFailed) {
			updates["status"] = models.StatusFailed
		}
		return tx.Model(&models.Migration{}).
			Where("id = ?", migration.ID).
			Updates(updates).Error
	})
}

// checkCompletion marks the migration completed once every selected
// module reports 100 percent. The conditional update keeps concurrently
// finishing modules from racing: only one of them lands the transition.
func (w *WorkerPool) checkCompletion(ctx context.Context, migrationID uint) error {
	var migration models.Migration
	if err := w.db.WithContext(ctx).First(&migration, migrationID).Error; err != nil {
		return fmt.Errorf("failed to load migration %d: %w", migrationID, err)
	}
	if migration.Status != models.StatusRunning {
		return nil
	}

	var rows []models.MigrationProgress
	err := w.db.WithContext(ctx).
		Where("migration_id = ?", migrationID).
		Find(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to load progress: %w", err)
	}

	progress := make(map[models.Module]int, len(rows))
	for _, row := range rows {
		progress[row.Module] = row.Percentage
	}

	for _, module := range migration.SelectedModules.Selected() {
		if progress[module] < 100 {
			return nil
		}
	}

	now := time.Now().UTC()
	result := w.db.WithContext(ctx).Model(&models.Migration{}).
		Where("id = ? AND status = ?", migrationID, models.StatusRunning).
		Updates(map[string]interface{}{
			"status":       models.StatusCompleted,
			"completed_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete migration: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		w.logger.Info().Uint("migration_id", migrationID).Msg("Migration completed")
		if err := w.publisher.PublishCompletion(ctx, migrationID); err != nil {
			w.logger.Warn().Err(err).Uint("migration_id", migrationID).Msg("Failed to publish completion event")
		}
	}
	return nil
}

// Package services holds the business logic between the HTTP layer and
// the persistence and queue layers.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/queue"
	"github.com/storesync/storesync/internal/utils"
)

// MigrationService owns the migration lifecycle: creation, the
// pause/resume/cancel transitions, and the read-side queries the API
// exposes. Module execution itself happens in the worker pool; the
// service only moves status and enqueues jobs.
type MigrationService struct {
	db     *gorm.DB
	queue  queue.Queue
	logger zerolog.Logger
}

// NewMigrationService creates a new migration service
func NewMigrationService(db *gorm.DB, q queue.Queue, logger zerolog.Logger) *MigrationService {
	return &MigrationService{
		db:     db,
		queue:  q,
		logger: logger.With().Str("component", "migration_service").Logger(),
	}
}

// StartRequest describes a new migration
type StartRequest struct {
	SourceStoreID      uint                   `json:"source_store_id" binding:"required"`
	DestinationStoreID uint                   `json:"destination_store_id" binding:"required"`
	SelectedModules    models.ModuleSelection `json:"selected_modules" binding:"required"`
}

// Start validates the request, creates the migration, and enqueues one
// job per selected module
func (s *MigrationService) Start(ctx context.Context, userID uint, req *StartRequest) (*models.Migration, error) {
	source, err := s.loadStore(ctx, userID, req.SourceStoreID)
	if err != nil {
		return nil, err
	}
	destination, err := s.loadStore(ctx, userID, req.DestinationStoreID)
	if err != nil {
		return nil, err
	}

	migration := &models.Migration{
		UserID:             userID,
		SourceStoreID:      source.ID,
		DestinationStoreID: destination.ID,
		SelectedModules:    req.SelectedModules,
		Status:             models.StatusPending,
	}

	if err := migration.Validate(); err != nil {
		return nil, utils.WrapValidationError("migration", err.Error())
	}

	if err := s.db.WithContext(ctx).Create(migration).Error; err != nil {
		return nil, utils.WrapDatabaseError("create migration", err)
	}

	if err := s.enqueueModules(ctx, migration); err != nil {
		return nil, err
	}

	// Jobs are queued, so the migration is underway from the caller's
	// point of view. The update is conditional on the row still being
	// pending: a fast worker may already have advanced it, and its
	// writes win.
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.Migration{}).
		Where("id = ? AND status = ?", migration.ID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":     models.StatusRunning,
			"started_at": now,
		})
	if result.Error != nil {
		return nil, utils.WrapDatabaseError("update migration", result.Error)
	}
	if result.RowsAffected > 0 {
		migration.Status = models.StatusRunning
		migration.StartedAt = &now
	} else if err := s.db.WithContext(ctx).First(migration, migration.ID).Error; err != nil {
		return nil, utils.WrapDatabaseError("reload migration", err)
	}

	s.logger.Info().
		Uint("migration_id", migration.ID).
		Uint("source_store", source.ID).
		Uint("destination_store", destination.ID).
		Int("modules", len(migration.SelectedModules.Selected())).
		Msg("Migration started")

	return migration, nil
}

// Pause moves a running migration to paused. Workers notice at their
// next per-item status check.
func (s *MigrationService) Pause(ctx context.Context, userID, migrationID uint) (*models.Migration, error) {
	return s.transition(ctx, userID, migrationID, models.StatusPaused, nil)
}

// Resume moves a paused or failed migration back to running and
// re-enqueues every selected module. Checkpoints make the re-run
// skip everything already migrated.
func (s *MigrationService) Resume(ctx context.Context, userID, migrationID uint) (*models.Migration, error) {
	migration, err := s.transition(ctx, userID, migrationID, models.StatusRunning, func(m *models.Migration) {
		if m.StartedAt == nil {
			now := time.Now().UTC()
			m.StartedAt = &now
		}
	})
	if err != nil {
		return nil, err
	}

	if err := s.enqueueModules(ctx, migration); err != nil {
		return nil, err
	}

	s.logger.Info().Uint("migration_id", migration.ID).Msg("Migration resumed")
	return migration, nil
}

// Cancel moves a pending, running, or paused migration to cancelled.
// Completed, failed, and already cancelled migrations reject the
// request.
func (s *MigrationService) Cancel(ctx context.Context, userID, migrationID uint) (*models.Migration, error) {
	migration, err := s.transition(ctx, userID, migrationID, models.StatusCancelled, func(m *models.Migration) {
		now := time.Now().UTC()
		m.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Uint("migration_id", migration.ID).Msg("Migration cancelled")
	return migration, nil
}

// Get loads one migration owned by the user
func (s *MigrationService) Get(ctx context.Context, userID, migrationID uint) (*models.Migration, error) {
	var migration models.Migration
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", migrationID, userID).
		First(&migration).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.WrapNotFoundError("migration", fmt.Sprintf("%d", migrationID))
	}
	if err != nil {
		return nil, utils.WrapDatabaseError("get migration", err)
	}
	return &migration, nil
}

// List returns the user's migrations, newest first
func (s *MigrationService) List(ctx context.Context, userID uint) ([]models.Migration, error) {
	var migrations []models.Migration
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&migrations).Error
	if err != nil {
		return nil, utils.WrapDatabaseError("list migrations", err)
	}
	return migrations, nil
}

// Logs returns a page of the migration's log entries, newest first
func (s *MigrationService) Logs(ctx context.Context, userID, migrationID uint, limit, offset int) ([]models.MigrationLog, error) {
	if _, err := s.Get(ctx, userID, migrationID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var logs []models.MigrationLog
	err := s.db.WithContext(ctx).
		Where("migration_id = ?", migrationID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&logs).Error
	if err != nil {
		return nil, utils.WrapDatabaseError("list migration logs", err)
	}
	return logs, nil
}

// ProgressReport is the per-module and overall progress of a migration
type ProgressReport struct {
	MigrationID uint                                       `json:"migration_id"`
	Status      models.Status                              `json:"status"`
	Overall     int                                        `json:"overall"`
	Modules     map[models.Module]models.MigrationProgress `json:"modules"`
}

// Progress assembles the per-module progress rows into one report
func (s *MigrationService) Progress(ctx context.Context, userID, migrationID uint) (*ProgressReport, error) {
	migration, err := s.Get(ctx, userID, migrationID)
	if err != nil {
		return nil, err
	}

	var rows []models.MigrationProgress
	err = s.db.WithContext(ctx).
		Where("migration_id = ?", migrationID).
		Find(&rows).Error
	if err != nil {
		return nil, utils.WrapDatabaseError("get migration progress", err)
	}

	modules := make(map[models.Module]models.MigrationProgress, len(rows))
	for _, row := range rows {
		modules[row.Module] = row
	}

	selected := migration.SelectedModules.Selected()
	overall := 0
	for _, module := range selected {
		overall += modules[module].Percentage
	}
	if len(selected) > 0 {
		overall /= len(selected)
	}

	return &ProgressReport{
		MigrationID: migration.ID,
		Status:      migration.Status,
		Overall:     overall,
		Modules:     modules,
	}, nil
}

// ModuleSummary is the per-module item tally of an export
type ModuleSummary struct {
	Module    models.Module `json:"module"`
	Completed int64         `json:"completed"`
	Failed    int64         `json:"failed"`
	Pending   int64         `json:"pending"`
}

// ExportReport is a snapshot of a migration suitable for download
type ExportReport struct {
	Migration *models.Migration      `json:"migration"`
	Summary   []ModuleSummary        `json:"summary"`
	Items     []models.MigrationItem `json:"items"`
}

// Export produces a full item-level report of the migration
func (s *MigrationService) Export(ctx context.Context, userID, migrationID uint) (*ExportReport, error) {
	migration, err := s.Get(ctx, userID, migrationID)
	if err != nil {
		return nil, err
	}

	var items []models.MigrationItem
	err = s.db.WithContext(ctx).
		Where("migration_id = ?", migrationID).
		Order("module, source_id").
		Find(&items).Error
	if err != nil {
		return nil, utils.WrapDatabaseError("export migration items", err)
	}

	tallies := make(map[models.Module]*ModuleSummary)
	for _, item := range items {
		tally, ok := tallies[item.Module]
		if !ok {
			tally = &ModuleSummary{Module: item.Module}
			tallies[item.Module] = tally
		}
		switch item.Status {
		case models.ItemCompleted:
			tally.Completed++
		case models.ItemFailed:
			tally.Failed++
		default:
			tally.Pending++
		}
	}

	summary := make([]ModuleSummary, 0, len(tallies))
	for _, module := range models.AllModules() {
		if tally, ok := tallies[module]; ok {
			summary = append(summary, *tally)
		}
	}

	return &ExportReport{
		Migration: migration,
		Summary:   summary,
		Items:     items,
	}, nil
}

// transition applies a status change inside a transaction, validating
// it against the lifecycle state machine
func (s *MigrationService) transition(ctx context.Context, userID, migrationID uint, target models.Status, mutate func(*models.Migration)) (*models.Migration, error) {
	var migration models.Migration

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ? AND user_id = ?", migrationID, userID).
			First(&migration).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.WrapNotFoundError("migration", fmt.Sprintf("%d", migrationID))
		}
		if err != nil {
			return utils.WrapDatabaseError("get migration", err)
		}

		if !migration.Status.CanTransitionTo(target) {
			return utils.WrapValidationError("status",
				fmt.Sprintf("cannot move migration from %s to %s", migration.Status, target))
		}

		migration.Status = target
		if mutate != nil {
			mutate(&migration)
		}
		if err := tx.Save(&migration).Error; err != nil {
			return utils.WrapDatabaseError("update migration", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &migration, nil
}

func (s *MigrationService) loadStore(ctx context.Context, userID, storeID uint) (*models.Store, error) {
	var store models.Store
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", storeID, userID).
		First(&store).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.WrapNotFoundError("store", fmt.Sprintf("%d", storeID))
	}
	if err != nil {
		return nil, utils.WrapDatabaseError("get store", err)
	}
	return &store, nil
}

func (s *MigrationService) enqueueModules(ctx context.Context, migration *models.Migration) error {
	for _, module := range migration.SelectedModules.Selected() {
		job := queue.NewJob(migration.ID, module)
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue %s job: %w", module, err)
		}
	}
	return nil
}

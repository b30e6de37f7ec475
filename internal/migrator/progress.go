package migrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storesync/storesync/internal/events"
	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/utils"
)

// Tracker converts per-module counters into normalized percentages and
// publishes incremental updates. Each module writes only its own
// (migration, module) row, through an atomic upsert-by-key, so
// concurrently completing modules never clobber each other.
//
// Tracking failures are logged and swallowed: losing one progress tick
// must never abort a migration.
type Tracker struct {
	db          *gorm.DB
	publisher   events.Publisher
	logger      zerolog.Logger
	migrationID uint
}

// NewTracker creates a progress tracker for one migration
func NewTracker(db *gorm.DB, publisher events.Publisher, logger zerolog.Logger, migrationID uint) *Tracker {
	return &Tracker{
		db:          db,
		publisher:   publisher,
		logger:      logger.With().Uint("migration_id", migrationID).Logger(),
		migrationID: migrationID,
	}
}

var progressKey = []clause.Column{
	{Name: "migration_id"},
	{Name: "module"},
}

// SetTotal registers the module's item count before processing begins
func (t *Tracker) SetTotal(ctx context.Context, module models.Module, total int) {
	row := models.MigrationProgress{
		MigrationID: t.migrationID,
		Module:      module,
		Total:       total,
	}

	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: progressKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"total":      total,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&row).Error
	if err != nil {
		t.logger.Warn().Err(err).Str("module", module.String()).Msg("failed to set progress total")
	}
}

// Update records processed/total for a module, derives the percentage
// and publishes a progress event
func (t *Tracker) Update(ctx context.Context, module models.Module, processed, total int) {
	if processed > total {
		processed = total
	}
	percentage := 0
	if total > 0 {
		percentage = processed * 100 / total
	}

	row := models.MigrationProgress{
		MigrationID: t.migrationID,
		Module:      module,
		Percentage:  percentage,
		Processed:   processed,
		Total:       total,
	}

	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: progressKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"percentage": percentage,
			"processed":  processed,
			"total":      total,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&row).Error
	if err != nil {
		t.logger.Warn().Err(err).Str("module", module.String()).Msg("failed to update progress")
		return
	}

	// Best effort: a dropped event only delays the dashboard.
	if err := t.publisher.PublishProgress(ctx, t.migrationID, events.ProgressEvent{
		Module:     module,
		Percentage: percentage,
		Processed:  processed,
		Total:      total,
	}); err != nil {
		t.logger.Warn().Err(err).Str("module", module.String()).Msg("failed to publish progress event")
	}
}

// Snapshot returns the progress rows of the migration keyed by module
func (t *Tracker) Snapshot(ctx context.Context) (map[models.Module]models.MigrationProgress, error) {
	var rows []models.MigrationProgress
	err := t.db.WithContext(ctx).
		Where("migration_id = ?", t.migrationID).
		Find(&rows).Error
	if err != nil {
		return nil, utils.WrapDatabaseError("load progress snapshot", err)
	}

	snapshot := make(map[models.Module]models.MigrationProgress, len(rows))
	for _, row := range rows {
		snapshot[row.Module] = row
	}
	return snapshot, nil
}

// Overall computes the migration-wide percentage as the mean of the
// selected modules' percentages
func (t *Tracker) Overall(ctx context.Context) (int, error) {
	var migration models.Migration
	err := t.db.WithContext(ctx).First(&migration, t.migrationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, utils.WrapNotFoundError("migration", "")
		}
		return 0, utils.WrapDatabaseError("load migration", err)
	}

	selected := migration.SelectedModules.Selected()
	if len(selected) == 0 {
		return 0, nil
	}

	snapshot, err := t.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	sum := 0
	for _, module := range selected {
		sum += snapshot[module].Percentage
	}
	return sum / len(selected), nil
}

package migrator

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storesync/storesync/internal/models"
	"github.com/storesync/storesync/internal/utils"
)

// CheckpointStore is the durable idempotency ledger. It is the single
// source of truth for "has this item been migrated": no in-memory
// caching, because jobs may run on different workers or be resumed
// after a process restart.
type CheckpointStore struct {
	db *gorm.DB
}

// NewCheckpointStore creates a checkpoint store on the given database
func NewCheckpointStore(db *gorm.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

var checkpointKey = []clause.Column{
	{Name: "migration_id"},
	{Name: "module"},
	{Name: "source_id"},
}

// Get returns the checkpoint record for one source item, or nil when
// the item has never been attempted
func (s *CheckpointStore) Get(ctx context.Context, migrationID uint, module models.Module, sourceID string) (*models.MigrationItem, error) {
	var item models.MigrationItem
	err := s.db.WithContext(ctx).
		Where("migration_id = ? AND module = ? AND source_id = ?", migrationID, module, sourceID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, utils.WrapDatabaseError("get checkpoint", err)
	}
	return &item, nil
}

// MarkCompleted records a successful transfer, keyed by
// (migration, module, source id). Last write wins.
func (s *CheckpointStore) MarkCompleted(ctx context.Context, migrationID uint, module models.Module, sourceID, destinationID string) error {
	item := models.MigrationItem{
		MigrationID:   migrationID,
		Module:        module,
		SourceID:      sourceID,
		DestinationID: destinationID,
		Status:        models.ItemCompleted,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: checkpointKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"destination_id": destinationID,
			"status":         models.ItemCompleted,
			"error_message":  "",
			"updated_at":     time.Now().UTC(),
		}),
	}).Create(&item).Error
	if err != nil {
		return utils.WrapDatabaseError("upsert checkpoint", err)
	}
	return nil
}

// MarkFailed records an item failure: status flips to failed, the
// retry count increments, and any previously recorded destination id
// is left untouched.
func (s *CheckpointStore) MarkFailed(ctx context.Context, migrationID uint, module models.Module, sourceID, message string) error {
	item := models.MigrationItem{
		MigrationID:  migrationID,
		Module:       module,
		SourceID:     sourceID,
		Status:       models.ItemFailed,
		ErrorMessage: message,
		RetryCount:   1,
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: checkpointKey,
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":        models.ItemFailed,
			"error_message": message,
			"retry_count":   gorm.Expr("migration_items.retry_count + 1"),
			"updated_at":    time.Now().UTC(),
		}),
	}).Create(&item).Error
	if err != nil {
		return utils.WrapDatabaseError("record checkpoint failure", err)
	}
	return nil
}

// CompletedMapping builds a source-id to destination-id lookup from
// the completed rows of one module. Dependent modules use it to
// translate references to already migrated items.
func (s *CheckpointStore) CompletedMapping(ctx context.Context, migrationID uint, module models.Module) (map[string]string, error) {
	var items []models.MigrationItem
	err := s.db.WithContext(ctx).
		Select("source_id", "destination_id").
		Where("migration_id = ? AND module = ? AND status = ?", migrationID, module, models.ItemCompleted).
		Find(&items).Error
	if err != nil {
		return nil, utils.WrapDatabaseError("load completed mapping", err)
	}

	mapping := make(map[string]string, len(items))
	for _, item := range items {
		mapping[item.SourceID] = item.DestinationID
	}
	return mapping, nil
}

// StatusCount is one (module, status, count) aggregation row
type StatusCount struct {
	Module models.Module     `json:"module"`
	Status models.ItemStatus `json:"status"`
	Count  int64             `json:"count"`
}

// StatusCounts aggregates a migration's checkpoint rows per module and
// status, for inspection and export
func (s *CheckpointStore) StatusCounts(ctx context.Context, migrationID uint) ([]StatusCount, error) {
	var counts []StatusCount
	err := s.db.WithContext(ctx).
		Model(&models.MigrationItem{}).
		Select("module, status, COUNT(*) as count").
		Where("migration_id = ?", migrationID).
		Group("module, status").
		Find(&counts).Error
	if err != nil {
		return nil, utils.WrapDatabaseError("count checkpoints", err)
	}
	return counts, nil
}

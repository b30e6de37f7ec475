package migrator

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storesync/storesync/internal/events"
	"github.com/storesync/storesync/internal/models"
)

// capturePublisher records published events for assertions
type capturePublisher struct {
	mu       sync.Mutex
	progress []events.ProgressEvent
	logs     []events.LogEvent
	complete []uint
}

func (p *capturePublisher) PublishProgress(_ context.Context, _ uint, event events.ProgressEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, event)
	return nil
}

func (p *capturePublisher) PublishLog(_ context.Context, _ uint, event events.LogEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logs = append(p.logs, event)
	return nil
}

func (p *capturePublisher) PublishCompletion(_ context.Context, migrationID uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.complete = append(p.complete, migrationID)
	return nil
}

func TestTracker_Update(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	pub := &capturePublisher{}
	tracker := NewTracker(db, pub, testLogger(), 1)

	t.Run("derives the percentage", func(t *testing.T) {
		tracker.SetTotal(ctx, models.ModuleProducts, 4)
		tracker.Update(ctx, models.ModuleProducts, 1, 4)

		snapshot, err := tracker.Snapshot(ctx)
		require.NoError(t, err)
		row := snapshot[models.ModuleProducts]
		assert.Equal(t, 25, row.Percentage)
		assert.Equal(t, 1, row.Processed)
		assert.Equal(t, 4, row.Total)
	})

	t.Run("keeps one row per module", func(t *testing.T) {
		tracker.Update(ctx, models.ModuleProducts, 2, 4)
		tracker.Update(ctx, models.ModuleProducts, 4, 4)

		var count int64
		db.Model(&models.MigrationProgress{}).
			Where("migration_id = ? AND module = ?", 1, models.ModuleProducts).
			Count(&count)
		assert.Equal(t, int64(1), count)

		snapshot, err := tracker.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100, snapshot[models.ModuleProducts].Percentage)
		assert.True(t, snapshot[models.ModuleProducts].Complete())
	})

	t.Run("clamps processed to total", func(t *testing.T) {
		tracker.Update(ctx, models.ModulePages, 7, 5)

		snapshot, err := tracker.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, snapshot[models.ModulePages].Processed)
		assert.Equal(t, 100, snapshot[models.ModulePages].Percentage)
	})

	t.Run("zero total never divides", func(t *testing.T) {
		tracker.Update(ctx, models.ModuleMedia, 0, 0)

		snapshot, err := tracker.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, snapshot[models.ModuleMedia].Percentage)
	})

	t.Run("publishes progress events", func(t *testing.T) {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		require.NotEmpty(t, pub.progress)
		last := pub.progress[len(pub.progress)-1]
		assert.Equal(t, models.ModuleMedia, last.Module)
	})
}

func TestTracker_Overall(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	stores := []models.Store{
		{UserID: 1, Name: "source", StoreURL: "source.example.com", AccessToken: "a"},
		{UserID: 1, Name: "destination", StoreURL: "dest.example.com", AccessToken: "b"},
	}
	for i := range stores {
		require.NoError(t, db.Create(&stores[i]).Error)
	}

	migration := models.Migration{
		UserID:             1,
		SourceStoreID:      stores[0].ID,
		DestinationStoreID: stores[1].ID,
		SelectedModules: models.ModuleSelection{
			models.ModuleProducts: true,
			models.ModulePages:    true,
		},
	}
	require.NoError(t, db.Create(&migration).Error)

	tracker := NewTracker(db, &capturePublisher{}, testLogger(), migration.ID)

	tracker.Update(ctx, models.ModuleProducts, 10, 10)
	tracker.Update(ctx, models.ModulePages, 1, 2)
	// Progress of an unselected module must not skew the mean.
	tracker.Update(ctx, models.ModuleMedia, 0, 10)

	overall, err := tracker.Overall(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75, overall)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	pub := &capturePublisher{}
	recorder := NewRecorder(db, pub, testLogger(), 7)

	recorder.Info(ctx, models.ModuleProducts, "starting", nil)
	recorder.Error(ctx, models.ModuleProducts, "item failed", models.LogMetadata{"source_id": "5"})
	recorder.Success(ctx, models.ModuleProducts, "done", nil)

	var logs []models.MigrationLog
	require.NoError(t, db.Where("migration_id = ?", 7).Order("id").Find(&logs).Error)
	require.Len(t, logs, 3)
	assert.Equal(t, models.LogInfo, logs[0].Level)
	assert.Equal(t, models.LogError, logs[1].Level)
	assert.Equal(t, models.LogSuccess, logs[2].Level)
	assert.Equal(t, "item failed", logs[1].Message)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Len(t, pub.logs, 3)
}

package migrator

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/storesync/storesync/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Store{},
		&models.Migration{},
		&models.MigrationItem{},
		&models.MigrationProgress{},
		&models.MigrationLog{},
	)
	require.NoError(t, err)

	return db
}

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func TestCheckpointStore_MarkCompleted(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewCheckpointStore(db)

	t.Run("records a completed transfer", func(t *testing.T) {
		err := store.MarkCompleted(ctx, 1, models.ModuleProducts, "100", "900")
		require.NoError(t, err)

		item, err := store.Get(ctx, 1, models.ModuleProducts, "100")
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "900", item.DestinationID)
		assert.Equal(t, models.ItemCompleted, item.Status)
		assert.True(t, item.Migrated())
	})

	t.Run("repeated completion keeps one row per key", func(t *testing.T) {
		err := store.MarkCompleted(ctx, 1, models.ModuleProducts, "100", "901")
		require.NoError(t, err)

		var count int64
		db.Model(&models.MigrationItem{}).
			Where("migration_id = ? AND module = ? AND source_id = ?", 1, models.ModuleProducts, "100").
			Count(&count)
		assert.Equal(t, int64(1), count)

		item, err := store.Get(ctx, 1, models.ModuleProducts, "100")
		require.NoError(t, err)
		assert.Equal(t, "901", item.DestinationID)
	})

	t.Run("same source id in another module is a separate row", func(t *testing.T) {
		err := store.MarkCompleted(ctx, 1, models.ModulePages, "100", "800")
		require.NoError(t, err)

		var count int64
		db.Model(&models.MigrationItem{}).Where("migration_id = ?", 1).Count(&count)
		assert.Equal(t, int64(2), count)
	})
}

func TestCheckpointStore_MarkFailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	store := NewCheckpointStore(db)

	t.Run("first failure creates the row with retry count 1", func(t *testing.T) {
		err := store.MarkFailed(ctx, 1, models.ModuleProducts, "200", "boom")
		require.NoError(t, err)

		item, err := store.Get(ctx, 1, models.ModuleProducts, "200")
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, models.ItemFailed, item.Status)
		assert.Equal(t, "boom", item.ErrorMessage)
		assert.Equal(t, 1, item.RetryCount)
		assert.False(t, item.Migrated())
	})

	t.Run("repeated failure increments retry count", func(t *testing.T) {
		err := store.MarkFailed(ctx, 1, models.ModuleProducts, "200", "boom again")
		require.NoError(t, err)

		item, err := store.Get(ctx, 1, models.ModuleProducts, "200")
		require.NoError(t, err)
		assert.Equal(t, 2, item.RetryCount)
		assert.Equal(t, "boom again", item.ErrorMessage)
	})

	t.Run("failure after completion keeps the destination id", func(t *testing.T) {
		require.NoError(t, store.MarkCompleted(ctx, 1, models.ModuleProducts, "300", "950"))
		require.NoError(t, store.MarkFailed(ctx, 1, models.ModuleProducts, "300", "update failed"))

		item, err := store.Get(ctx, 1, models.ModuleProducts, "300")
		require.NoError(t, err)
		assert.Equal(t, "950", item.DestinationID)
		assert.Equal(t, models.ItemFailed, item.Status)
	})

	t.Run("completion after failure clears the error", func(t *testing.T) {
		require.NoError(t, store.MarkFailed(ctx, 1, models.ModuleProducts, "400", "transient"))
		require.NoError(t, store.MarkCompleted(ctx, 1, models.ModuleProducts, "400", "960"))

		item, err := store.Get(ctx, 1, models.ModuleProducts, "400")
		require.NoError(t, err)
		assert.Equal(t, models.ItemCompleted, item.Status)
		assert.Empty(t, item.ErrorMessage)
		assert.True(t, item.Migrated())
	})
}

func TestCheckpointStore_Get(t *testing.T) {
	ctx := context.Background()
	store := NewCheckpointStore(setupTestDB(t))

	item, err := store.Get(ctx, 42, models.ModuleTheme, "missing")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestCheckpointStore_CompletedMapping(t *testing.T) {
	ctx := context.Background()
	store := NewCheckpointStore(setupTestDB(t))

	require.NoError(t, store.MarkCompleted(ctx, 1, models.ModuleProducts, "10", "110"))
	require.NoError(t, store.MarkCompleted(ctx, 1, models.ModuleProducts, "20", "120"))
	require.NoError(t, store.MarkFailed(ctx, 1, models.ModuleProducts, "30", "nope"))
	require.NoError(t, store.MarkCompleted(ctx, 2, models.ModuleProducts, "10", "999"))

	mapping, err := store.CompletedMapping(ctx, 1, models.ModuleProducts)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"10": "110", "20": "120"}, mapping)
}

func TestCheckpointStore_StatusCounts(t *testing.T) {
	ctx := context.Background()
	store := NewCheckpointStore(setupTestDB(t))

	require.NoError(t, store.MarkCompleted(ctx, 1, models.ModuleProducts, "1", "101"))
	require.NoError(t, store.MarkCompleted(ctx, 1, models.ModuleProducts, "2", "102"))
	require.NoError(t, store.MarkFailed(ctx, 1, models.ModuleProducts, "3", "err"))
	require.NoError(t, store.MarkCompleted(ctx, 1, models.ModulePages, "1", "201"))

	counts, err := store.StatusCounts(ctx, 1)
	require.NoError(t, err)

	byKey := make(map[string]int64)
	for _, c := range counts {
		byKey[c.Module.String()+"/"+string(c.Status)] = c.Count
	}
	assert.Equal(t, int64(2), byKey["products/completed"])
	assert.Equal(t, int64(1), byKey["products/failed"])
	assert.Equal(t, int64(1), byKey["pages/completed"])
}

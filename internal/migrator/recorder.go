package migrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/storesync/storesync/internal/events"
	"github.com/storesync/storesync/internal/models"
)

// Recorder appends entries to the migration's audit log, mirrors them
// to the process logger and pushes them to live subscribers. A failed
// write is itself logged and swallowed: the audit trail is best effort
// relative to the migration's forward progress.
type Recorder struct {
	db          *gorm.DB
	publisher   events.Publisher
	logger      zerolog.Logger
	migrationID uint
}

// NewRecorder creates a log recorder for one migration
func NewRecorder(db *gorm.DB, publisher events.Publisher, logger zerolog.Logger, migrationID uint) *Recorder {
	return &Recorder{
		db:          db,
		publisher:   publisher,
		logger:      logger.With().Uint("migration_id", migrationID).Logger(),
		migrationID: migrationID,
	}
}

// Info records an informational entry
func (r *Recorder) Info(ctx context.Context, module models.Module, message string, metadata models.LogMetadata) {
	r.record(ctx, module, models.LogInfo, message, metadata)
}

// Warning records a warning entry
func (r *Recorder) Warning(ctx context.Context, module models.Module, message string, metadata models.LogMetadata) {
	r.record(ctx, module, models.LogWarning, message, metadata)
}

// Error records an error entry
func (r *Recorder) Error(ctx context.Context, module models.Module, message string, metadata models.LogMetadata) {
	r.record(ctx, module, models.LogError, message, metadata)
}

// Success records a success entry
func (r *Recorder) Success(ctx context.Context, module models.Module, message string, metadata models.LogMetadata) {
	r.record(ctx, module, models.LogSuccess, message, metadata)
}

func (r *Recorder) record(ctx context.Context, module models.Module, level models.LogLevel, message string, metadata models.LogMetadata) {
	entry := models.MigrationLog{
		MigrationID: r.migrationID,
		Module:      module,
		Level:       level,
		Message:     message,
		Metadata:    metadata,
	}

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.logger.Error().Err(err).Str("module", module.String()).Msg("failed to write migration log")
	}

	event := r.logger.Info()
	switch level {
	case models.LogWarning:
		event = r.logger.Warn()
	case models.LogError:
		event = r.logger.Error()
	}
	event.Str("module", module.String()).Str("level", string(level)).
		Interface("metadata", metadata).Msg(message)

	if err := r.publisher.PublishLog(ctx, r.migrationID, events.LogEvent{
		Module:    module,
		Level:     level,
		Message:   message,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		r.logger.Warn().Err(err).Msg("failed to publish log event")
	}
}

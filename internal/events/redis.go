package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel names follow the migration:<kind>:<id> convention consumed
// by the dashboard gateway.
const (
	channelProgress = "migration:progress:%d"
	channelLog      = "migration:log:%d"
	channelComplete = "migration:complete:%d"
)

// RedisPublisher publishes migration events on redis pub/sub channels
// keyed by migration identifier
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher creates a publisher on an existing redis client
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// PublishProgress pushes a progress update for one module
func (p *RedisPublisher) PublishProgress(ctx context.Context, migrationID uint, event ProgressEvent) error {
	return p.publish(ctx, fmt.Sprintf(channelProgress, migrationID), event)
}

// PublishLog pushes a log entry to live subscribers
func (p *RedisPublisher) PublishLog(ctx context.Context, migrationID uint, event LogEvent) error {
	return p.publish(ctx, fmt.Sprintf(channelLog, migrationID), event)
}

// PublishCompletion announces terminal completion of a migration
func (p *RedisPublisher) PublishCompletion(ctx context.Context, migrationID uint) error {
	return p.publish(ctx, fmt.Sprintf(channelComplete, migrationID), CompletionEvent{
		MigrationID: migrationID,
		CompletedAt: time.Now().UTC(),
	})
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", channel, err)
	}
	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

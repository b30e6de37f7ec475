package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// dequeueBlock bounds each BRPOP so a cancelled context is noticed
// promptly even when the queue is idle.
const dequeueBlock = 5 * time.Second

// RedisQueue is a Redis list used as a FIFO job queue. Producers LPUSH,
// workers BRPOP, so jobs survive process restarts and multiple workers
// can drain the same list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a queue backed by the given Redis client
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{
		client: client,
		key:    key,
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}

		result, err := q.client.BRPop(ctx, dequeueBlock, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return Job{}, fmt.Errorf("failed to dequeue job: %w", err)
		}

		// BRPOP returns [key, value]
		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			return Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

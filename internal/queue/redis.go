// Package queue provides the durable job queue backing the scrape workers.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

const (
	queueKey = "scraper:queue"
	// popTimeout bounds each BRPOP so Dequeue keeps observing ctx.
	popTimeout = 2 * time.Second
)

// RedisQueue is a Redis-list-backed job queue. Payloads are serialized JSON
// list elements; Remove deletes a still-queued payload by job id so a
// cancelled job never reaches a worker.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue builds a queue over an existing client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// NewRedisQueueFromURL connects to Redis and verifies the connection.
func NewRedisQueueFromURL(ctx context.Context, redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisQueue{client: client}, nil
}

// Enqueue pushes a payload onto the left of the list.
func (q *RedisQueue) Enqueue(ctx context.Context, payload scraper.QueuePayload) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey, encoded).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

// Dequeue blocks until a payload is available or ctx ends. The right side of
// the list is the consumption end, giving FIFO order.
func (q *RedisQueue) Dequeue(ctx context.Context) (scraper.QueuePayload, error) {
	for {
		if err := ctx.Err(); err != nil {
			return scraper.QueuePayload{}, fmt.Errorf("dequeue canceled: %w", err)
		}
		vals, err := q.client.BRPop(ctx, popTimeout, queueKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return scraper.QueuePayload{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			}
			return scraper.QueuePayload{}, fmt.Errorf("brpop: %w", err)
		}

		var payload scraper.QueuePayload
		if err := json.Unmarshal([]byte(vals[1]), &payload); err != nil {
			// A corrupt element should not wedge the queue.
			continue
		}
		return payload, nil
	}
}

// Remove scans the queue for the job's payload and deletes it. Returns true
// when an element was removed, meaning the job never started.
func (q *RedisQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	elements, err := q.client.LRange(ctx, queueKey, 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("lrange: %w", err)
	}
	for _, element := range elements {
		var payload scraper.QueuePayload
		if err := json.Unmarshal([]byte(element), &payload); err != nil {
			continue
		}
		if payload.JobID != jobID {
			continue
		}
		removed, err := q.client.LRem(ctx, queueKey, 1, element).Result()
		if err != nil {
			return false, fmt.Errorf("lrem: %w", err)
		}
		return removed > 0, nil
	}
	return false, nil
}

// Size returns the number of queued payloads.
func (q *RedisQueue) Size(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, queueKey).Result()
}

// Close releases the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

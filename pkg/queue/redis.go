package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue over a Redis sorted set: the set's score is
// the item's next-visible-at unix-milli timestamp, so both "enqueue for
// later" and "hide until visibility timeout expires" are the same ZADD
// operation. A companion hash carries the (jobID, attempts) payload the
// sorted-set member id alone can't.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

const (
	keySet     = "queue:set"
	keyMeta    = "queue:meta"
	keyByJobID = "queue:byjob"
)

func NewRedisQueue(client *redis.Client, keyPrefix string) *RedisQueue {
	return &RedisQueue{client: client, prefix: keyPrefix}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) key(suffix string) string {
	if q.prefix == "" {
		return suffix
	}
	return q.prefix + ":" + suffix
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, visibleAt time.Time) error {
	existing, err := q.client.HGet(ctx, q.key(keyByJobID), jobID).Result()
	if err == nil && existing != "" {
		return q.client.ZAdd(ctx, q.key(keySet), redis.Z{
			Score:  float64(visibleAt.UnixMilli()),
			Member: existing,
		}).Err()
	}
	if err != nil && err != redis.Nil {
		return fmt.Errorf("queue: enqueue: lookup existing: %w", err)
	}

	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.key(keySet), redis.Z{Score: float64(visibleAt.UnixMilli()), Member: id})
	pipe.HSet(ctx, q.key(keyMeta), id, jobID)
	pipe.HSet(ctx, q.key(keyByJobID), jobID, id)
	pipe.HSet(ctx, q.key(keyMeta)+":attempts", id, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, visibility time.Duration) (*Item, error) {
	now := float64(time.Now().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, q.key(keySet), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", now),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: scan: %w", err)
	}
	if len(ids) == 0 {
		return nil, ErrEmpty
	}
	id := ids[0]

	jobID, err := q.client.HGet(ctx, q.key(keyMeta), id).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: load jobID: %w", err)
	}
	attempts, err := q.client.HIncrBy(ctx, q.key(keyMeta)+":attempts", id, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue: incr attempts: %w", err)
	}

	newScore := float64(time.Now().Add(visibility).UnixMilli())
	if err := q.client.ZAdd(ctx, q.key(keySet), redis.Z{Score: newScore, Member: id}).Err(); err != nil {
		return nil, fmt.Errorf("queue: dequeue: hide: %w", err)
	}

	return &Item{ID: id, JobID: jobID, Attempts: int(attempts)}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, itemID string) error {
	jobID, err := q.client.HGet(ctx, q.key(keyMeta), itemID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("queue: ack: lookup: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key(keySet), itemID)
	pipe.HDel(ctx, q.key(keyMeta), itemID)
	pipe.HDel(ctx, q.key(keyMeta)+":attempts", itemID)
	if jobID != "" {
		pipe.HDel(ctx, q.key(keyByJobID), jobID)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: ack: %w", err)
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, itemID string) error {
	if err := q.client.ZAdd(ctx, q.key(keySet), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: itemID,
	}).Err(); err != nil {
		return fmt.Errorf("queue: nack: %w", err)
	}
	return nil
}

func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.ZCard(ctx, q.key(keySet)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return int(n), nil
}

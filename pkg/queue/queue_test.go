package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueDequeueAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", time.Now()))

	item, err := q.Dequeue(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "job-1", item.JobID)
	assert.Equal(t, 1, item.Attempts)

	_, err = q.Dequeue(ctx, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.Ack(ctx, item.ID))
}

func TestMemoryQueue_VisibilityTimeoutReleasesItem(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "job-1", time.Now()))

	_, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	item, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Attempts)
}

func TestMemoryQueue_EnqueueIsIdempotentPerJob(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "job-1", time.Now()))
	require.NoError(t, q.Enqueue(ctx, "job-1", time.Now().Add(time.Hour)))

	assert.Len(t, q.items, 1)
}

func newTestRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client, "test")
}

func TestRedisQueue_EnqueueDequeueAck(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", time.Now()))

	item, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "job-1", item.JobID)
	assert.Equal(t, 1, item.Attempts)

	_, err = q.Dequeue(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.Ack(ctx, item.ID))
}

func TestRedisQueue_NackMakesItemImmediatelyVisible(t *testing.T) {
	q := newTestRedisQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1", time.Now()))
	item, err := q.Dequeue(ctx, time.Hour)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, item.ID))

	again, err := q.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, item.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dermosul/catalog-scraper/internal/scraper"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, scraper.QueuePayload{JobID: "a"}))
	require.NoError(t, q.Enqueue(ctx, scraper.QueuePayload{JobID: "b"}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", first.JobID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "b", second.JobID)
}

func TestQueueDequeueBlocksUntilEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	got := make(chan scraper.QueuePayload, 1)
	go func() {
		payload, err := q.Dequeue(context.Background())
		if err == nil {
			got <- payload
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), scraper.QueuePayload{JobID: "late"}))

	select {
	case payload := <-got:
		require.Equal(t, "late", payload.JobID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return payload")
	}
}

func TestQueueDequeueObservesContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueRemoveQueuedJob(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, scraper.QueuePayload{JobID: "keep"}))
	require.NoError(t, q.Enqueue(ctx, scraper.QueuePayload{JobID: "drop"}))

	removed, err := q.Remove(ctx, "drop")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = q.Remove(ctx, "drop")
	require.NoError(t, err)
	require.False(t, removed)

	payload, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "keep", payload.JobID)
	require.Zero(t, q.Size())
}

func TestQueueFullRejectsEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, scraper.QueuePayload{JobID: "a"}))
	require.Error(t, q.Enqueue(ctx, scraper.QueuePayload{JobID: "b"}))
}

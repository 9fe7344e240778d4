package queue

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narvanalabs/buildgraph/internal/models"
)

func request(id string) *models.DispatchRequest {
	return &models.DispatchRequest{TaskID: id, Configuration: models.BuildConfiguration{ID: 1}}
}

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Enqueue(ctx, request("a")))
	require.NoError(t, q.Enqueue(ctx, request("b")))
	require.ErrorIs(t, q.Enqueue(ctx, request("a")), ErrDuplicateJob)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first.TaskID)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second.TaskID)

	_, err = q.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrNoJobs)

	require.NoError(t, q.Ack(ctx, "a"))
	assert.ErrorIs(t, q.Ack(ctx, "a"), ErrJobNotFound)
	assert.Equal(t, 1, q.Len())
}

func TestMemoryQueueNackDelaysRetry(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(ctx, request("a")))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	attempts, err := q.Nack(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrNoJobs)

	now = now.Add(Backoff(1))
	req, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", req.TaskID)

	attempts, err = q.Nack(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestMemoryQueueRemoveSkipsProcessing(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	require.NoError(t, q.Enqueue(ctx, request("a")))
	require.NoError(t, q.Enqueue(ctx, request("b")))
	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	removed, err := q.Remove(ctx, "a")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = q.Remove(ctx, "b")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = q.Remove(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, removed)
}

// **Retry backoff is monotonic and bounded**
// For any number of failed attempts the delay never shrinks as attempts grow
// and never exceeds the maximum backoff.
func TestBackoffProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("backoff grows monotonically up to the cap", prop.ForAll(
		func(attempts int) bool {
			d := Backoff(attempts)
			return d >= Backoff(attempts-1) && d <= maxBackoff && d > 0
		},
		gen.IntRange(1, 64),
	))

	properties.TestingRun(t)
}

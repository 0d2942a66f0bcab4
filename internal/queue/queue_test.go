package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattetre/reservoir-indexer/internal/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, name string, defaults Options) (*Queue, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clk := newFakeClock()
	q := newQueue(name, client, defaults.apply(nil))
	q.clock = clk.Now
	return q, mr, clk
}

func delayedScore(t *testing.T, mr *miniredis.Miniredis, q *Queue, id string) time.Time {
	t.Helper()
	score, err := mr.ZScore(q.delayedKey(), id)
	require.NoError(t, err)
	return time.UnixMilli(int64(score))
}

func TestQueue_AddDeduplicatesByID(t *testing.T) {
	q, _, _ := newTestQueue(t, "order-updates-by-id", Options{})
	ctx := context.Background()

	added, err := q.Add(ctx, "job-1", map[string]string{"id": "o1"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = q.Add(ctx, "job-1", map[string]string{"id": "o1"})
	require.NoError(t, err)
	assert.False(t, added)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Wait)
}

func TestQueue_AddRejectsEmptyID(t *testing.T) {
	q, _, _ := newTestQueue(t, "q", Options{})
	_, err := q.Add(context.Background(), "", nil)
	require.Error(t, err)
}

func TestQueue_FetchIsFIFO(t *testing.T) {
	q, _, _ := newTestQueue(t, "q", Options{})
	ctx := context.Background()

	added, err := q.AddBulk(ctx, []BulkJob{
		{ID: "a", Payload: map[string]int{"n": 1}},
		{ID: "b", Payload: map[string]int{"n": 2}},
		{ID: "a", Payload: map[string]int{"n": 3}},
		{ID: "c", Payload: map[string]int{"n": 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false, true}, added)

	var got []string
	for i := 0; i < 3; i++ {
		job, err := q.fetch(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, StateActive, job.State)
		require.NotNil(t, job.ProcessedOn)
		got = append(got, job.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)

	job, err := q.fetch(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_DelayedJobWaitsForScore(t *testing.T) {
	q, _, clk := newTestQueue(t, "q", Options{})
	ctx := context.Background()

	_, err := q.Add(ctx, "later", nil, WithDelay(5*time.Second))
	require.NoError(t, err)

	n, err := q.promote(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	job, err := q.fetch(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	clk.Advance(5 * time.Second)
	n, err = q.promote(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = q.fetch(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "later", job.ID)
}

func TestQueue_PromoteEarliestFirst(t *testing.T) {
	q, _, clk := newTestQueue(t, "q", Options{})
	ctx := context.Background()

	_, err := q.Add(ctx, "second", nil, WithDelay(2*time.Second))
	require.NoError(t, err)
	_, err = q.Add(ctx, "first", nil, WithDelay(time.Second))
	require.NoError(t, err)

	clk.Advance(3 * time.Second)
	n, err := q.promote(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	first, err := q.fetch(ctx, time.Minute)
	require.NoError(t, err)
	second, err := q.fetch(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "first", first.ID)
	assert.Equal(t, "second", second.ID)
}

func TestQueue_CompleteRetention(t *testing.T) {
	t.Run("keep newest", func(t *testing.T) {
		q, _, clk := newTestQueue(t, "q", Options{RemoveOnComplete: Retention{Keep: 2}})
		ctx := context.Background()

		for _, id := range []string{"j1", "j2", "j3"} {
			_, err := q.Add(ctx, id, nil)
			require.NoError(t, err)
			job, err := q.fetch(ctx, time.Minute)
			require.NoError(t, err)
			ok, err := q.complete(ctx, job)
			require.NoError(t, err)
			require.True(t, ok)
			clk.Advance(time.Millisecond)
		}

		counts, err := q.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.Completed)
		assert.Zero(t, counts.Active)

		_, err = q.GetJob(ctx, "j1")
		assert.ErrorIs(t, err, ErrJobNotFound)

		job, err := q.GetJob(ctx, "j3")
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, job.State)
		assert.NotNil(t, job.FinishedOn)
	})

	t.Run("remove", func(t *testing.T) {
		q, _, _ := newTestQueue(t, "q", Options{RemoveOnComplete: Retention{Remove: true}})
		ctx := context.Background()

		_, err := q.Add(ctx, "j1", nil)
		require.NoError(t, err)
		job, err := q.fetch(ctx, time.Minute)
		require.NoError(t, err)
		_, err = q.complete(ctx, job)
		require.NoError(t, err)

		_, err = q.GetJob(ctx, "j1")
		assert.ErrorIs(t, err, ErrJobNotFound)

		// The id is free again once the record is gone.
		added, err := q.Add(ctx, "j1", nil)
		require.NoError(t, err)
		assert.True(t, added)
	})
}

func TestQueue_RetryBoundWithExponentialBackoff(t *testing.T) {
	q, mr, clk := newTestQueue(t, "q", Options{
		Attempts: 3,
		Backoff:  Backoff{Type: BackoffExponential, Delay: time.Second},
	})
	ctx := context.Background()

	_, err := q.Add(ctx, "flaky", nil)
	require.NoError(t, err)

	cause := errors.New("rpc unavailable")
	wantDelays := []time.Duration{time.Second, 2 * time.Second}

	for i, want := range wantDelays {
		job, err := q.fetch(ctx, time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)

		failedAt := clk.Now()
		outcome, err := q.moveToFailed(ctx, job, cause, false, time.Time{})
		require.NoError(t, err)
		require.Equal(t, FailRetried, outcome, "attempt %d", i+1)
		assert.Equal(t, failedAt.Add(want), delayedScore(t, mr, q, "flaky"))

		clk.Advance(want)
		_, err = q.promote(ctx, 10)
		require.NoError(t, err)
	}

	job, err := q.fetch(ctx, time.Minute)
	require.NoError(t, err)
	outcome, err := q.moveToFailed(ctx, job, cause, false, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, FailDeadLettered, outcome)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].AttemptsMade)
	assert.Equal(t, "rpc unavailable", failed[0].FailedReason)
	assert.Equal(t, StateFailed, failed[0].State)
}

func TestQueue_UnrecoverableSkipsRetries(t *testing.T) {
	q, _, _ := newTestQueue(t, "q", Options{Attempts: 10})
	ctx := context.Background()

	_, err := q.Add(ctx, "bad", nil)
	require.NoError(t, err)
	job, err := q.fetch(ctx, time.Minute)
	require.NoError(t, err)

	outcome, err := q.moveToFailed(ctx, job, retry.Terminal(errors.New("malformed")), true, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, FailDeadLettered, outcome)
}

func TestQueue_FailedRetentionIsBounded(t *testing.T) {
	q, _, clk := newTestQueue(t, "q", Options{Attempts: 1, RemoveOnFail: Retention{Keep: 2}})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		id := "j" + strconv.Itoa(i)
		_, err := q.Add(ctx, id, nil)
		require.NoError(t, err)
		job, err := q.fetch(ctx, time.Minute)
		require.NoError(t, err)
		_, err = q.moveToFailed(ctx, job, errors.New("boom"), false, time.Time{})
		require.NoError(t, err)
		clk.Advance(time.Millisecond)
	}

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "j3", failed[0].ID)
	assert.Equal(t, "j2", failed[1].ID)
}

func TestQueue_RetryDeadLetter(t *testing.T) {
	q, _, _ := newTestQueue(t, "q", Options{Attempts: 1})
	ctx := context.Background()

	_, err := q.Add(ctx, "dead", nil)
	require.NoError(t, err)
	job, err := q.fetch(ctx, time.Minute)
	require.NoError(t, err)
	_, err = q.moveToFailed(ctx, job, errors.New("boom"), false, time.Time{})
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, "dead"))
	assert.ErrorIs(t, q.Retry(ctx, "dead"), ErrJobNotFound)

	job, err = q.fetch(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 0, job.AttemptsMade)
	assert.Empty(t, job.FailedReason)
}

func TestQueue_FailIgnoresJobsNotActive(t *testing.T) {
	q, _, _ := newTestQueue(t, "q", Options{Attempts: 3})
	ctx := context.Background()

	_, err := q.Add(ctx, "idle", nil)
	require.NoError(t, err)

	outcome, err := q.moveToFailed(ctx, &Job{ID: "idle", Options: q.Defaults()}, errors.New("x"), false, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, FailNotOwned, outcome)
}

func TestJob_DecodeMalformedIsTerminal(t *testing.T) {
	job := &Job{Queue: "q", ID: "1", Payload: []byte(`{"id":`)}
	var v map[string]string
	err := job.Decode(&v)
	require.Error(t, err)
	assert.True(t, retry.IsExplicitTerminal(err))
}

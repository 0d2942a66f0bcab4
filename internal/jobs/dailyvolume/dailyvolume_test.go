package dailyvolume

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/mattetre/reservoir-indexer/internal/queue"
	storemocks "github.com/mattetre/reservoir-indexer/internal/store/mocks"
	redisstore "github.com/mattetre/reservoir-indexer/internal/store/redis"
)

const (
	day = int64(1_700_006_400) // 2023-11-15 00:00:00 UTC
	// secondsIntoDay puts the fake clock in the middle of the day.
	secondsIntoDay = 13*3600 + 17
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	mr      *miniredis.Miniredis
	client  *redis.Client
	queue   *queue.Queue
	tracker *Tracker
	locker  *redisstore.Locker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return &env{
		mr:      mr,
		client:  client,
		queue:   queue.NewRegistry(client, queue.RegistryConfig{}, testLogger()).Register(QueueName, DefaultOptions()),
		tracker: NewTracker(client, time.Hour),
		locker:  redisstore.NewLocker(client),
	}
}

func jobFor(t *testing.T, id string, p Payload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &queue.Job{Queue: QueueName, ID: id, Payload: raw}
}

func boolPtr(b bool) *bool { return &b }

func TestProducer_DefaultsToPreviousUTCDay(t *testing.T) {
	e := newEnv(t)
	p := NewProducer(e.queue, e.tracker)
	p.now = func() time.Time { return time.Unix(day+secondsIntoDay, 0) }

	got, err := p.AddToQueue(context.Background(), nil, true)
	require.NoError(t, err)
	assert.Equal(t, day-86400, got)

	pending, err := e.tracker.Pending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	counts, err := e.queue.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Wait)
}

func TestProducer_NormalizesStartTime(t *testing.T) {
	e := newEnv(t)
	p := NewProducer(e.queue, e.tracker)

	start := day + 5000
	got, err := p.AddToQueue(context.Background(), &start, false)
	require.NoError(t, err)
	assert.Equal(t, day, got)
}

type failingEnqueuer struct{}

func (failingEnqueuer) Add(context.Context, string, any, ...queue.Option) (bool, error) {
	return false, errors.New("redis down")
}

func TestProducer_EnqueueFailureForgetsPending(t *testing.T) {
	e := newEnv(t)
	p := NewProducer(failingEnqueuer{}, e.tracker)

	_, err := p.AddToQueue(context.Background(), nil, true)
	require.Error(t, err)

	pending, err := e.tracker.Pending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestPayload_IgnoreInsertedRowsDefaultsTrue(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"startTime":1700006400}`), &p))
	assert.True(t, p.recalculate())

	require.NoError(t, json.Unmarshal([]byte(`{"startTime":1700006400,"ignoreInsertedRows":false}`), &p))
	assert.False(t, p.recalculate())
}

func TestTracker_TickCountsDown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.tracker.AddPending(ctx, "a"))
	require.NoError(t, e.tracker.AddPending(ctx, "b"))

	n, err := e.tracker.Tick(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = e.tracker.Tick(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "ticking twice does not count twice")

	n, err = e.tracker.Tick(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTracker_DropsStaleEntries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Unix(day, 0)
	e.tracker.now = func() time.Time { return now }

	require.NoError(t, e.tracker.AddPending(ctx, "dead-lettered"))
	now = now.Add(30 * time.Minute)
	require.NoError(t, e.tracker.AddPending(ctx, "live"))

	now = now.Add(45 * time.Minute)
	n, err := e.tracker.Tick(ctx, "live")
	require.NoError(t, err)
	assert.Zero(t, n, "entry older than staleAfter no longer blocks finalization")
}

func TestHandler_SkipsExistingDayWhenNotForced(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	volumes := storemocks.NewMockDailyVolumeRepository(ctrl)
	h := NewHandler(volumes, e.tracker, e.locker, testLogger())

	require.NoError(t, e.tracker.AddPending(context.Background(), "j1"))
	volumes.EXPECT().ExistsForDay(gomock.Any(), day).Return(true, nil)
	volumes.EXPECT().UpdateCollections(gomock.Any()).Return(int64(3), nil)

	require.NoError(t, h.Handle(context.Background(), jobFor(t, "j1", Payload{StartTime: day, IgnoreInsertedRows: boolPtr(false)})))
}

func TestHandler_ForcedRecalculationSkipsExistenceCheck(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	volumes := storemocks.NewMockDailyVolumeRepository(ctrl)
	h := NewHandler(volumes, e.tracker, e.locker, testLogger())

	require.NoError(t, e.tracker.AddPending(context.Background(), "j1"))
	require.NoError(t, e.tracker.AddPending(context.Background(), "j2"))
	volumes.EXPECT().CalculateDay(gomock.Any(), day).Return(int64(12), nil)

	require.NoError(t, h.Handle(context.Background(), jobFor(t, "j1", Payload{StartTime: day})))
}

func TestHandler_FinalizesOnceAfterLastDay(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	volumes := storemocks.NewMockDailyVolumeRepository(ctrl)
	h := NewHandler(volumes, e.tracker, e.locker, testLogger())
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, e.tracker.AddPending(ctx, id))
	}
	volumes.EXPECT().CalculateDay(gomock.Any(), gomock.Any()).Return(int64(1), nil).Times(3)
	volumes.EXPECT().UpdateCollections(gomock.Any()).Return(int64(4), nil).Times(1)

	require.NoError(t, h.Handle(ctx, jobFor(t, "d1", Payload{StartTime: day - 2*86400})))
	require.NoError(t, h.Handle(ctx, jobFor(t, "d2", Payload{StartTime: day - 86400})))
	require.NoError(t, h.Handle(ctx, jobFor(t, "d3", Payload{StartTime: day})))

	assert.False(t, e.mr.Exists("lock:"+FinalizeLockKey), "finalize lock is released")
}

func TestHandler_FinalizeExtendsLockDuringSlowRollup(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	volumes := storemocks.NewMockDailyVolumeRepository(ctrl)
	h := NewHandler(volumes, e.tracker, e.locker, testLogger())
	h.extendEvery = 10 * time.Millisecond
	ctx := context.Background()

	require.NoError(t, e.tracker.AddPending(ctx, "j1"))
	volumes.EXPECT().CalculateDay(gomock.Any(), day).Return(int64(1), nil)
	volumes.EXPECT().UpdateCollections(gomock.Any()).DoAndReturn(func(context.Context) (int64, error) {
		// Leave one minute on the lease, then let the keep-alive push it out again.
		e.mr.FastForward(finalizeLockTTL - time.Minute)
		require.Eventually(t, func() bool {
			return e.mr.TTL("lock:"+FinalizeLockKey) > 2*time.Minute
		}, 2*time.Second, 5*time.Millisecond)
		return 3, nil
	})

	require.NoError(t, h.Handle(ctx, jobFor(t, "j1", Payload{StartTime: day})))
	assert.False(t, e.mr.Exists("lock:"+FinalizeLockKey), "finalize lock is released")
}

func TestHandler_BusyFinalizeLockSkips(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	volumes := storemocks.NewMockDailyVolumeRepository(ctrl)
	h := NewHandler(volumes, e.tracker, e.locker, testLogger())
	ctx := context.Background()

	held, err := e.locker.Acquire(ctx, []string{FinalizeLockKey}, time.Minute)
	require.NoError(t, err)
	require.True(t, held.Acquired())

	require.NoError(t, e.tracker.AddPending(ctx, "j1"))
	volumes.EXPECT().CalculateDay(gomock.Any(), day).Return(int64(1), nil)

	require.NoError(t, h.Handle(ctx, jobFor(t, "j1", Payload{StartTime: day})))
}

func TestHandler_CalculateErrorLeavesJobPending(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	volumes := storemocks.NewMockDailyVolumeRepository(ctrl)
	h := NewHandler(volumes, e.tracker, e.locker, testLogger())
	ctx := context.Background()

	require.NoError(t, e.tracker.AddPending(ctx, "j1"))
	volumes.EXPECT().CalculateDay(gomock.Any(), day).Return(int64(0), errors.New("statement timeout"))

	err := h.Handle(ctx, jobFor(t, "j1", Payload{StartTime: day}))
	require.Error(t, err)

	pending, err := e.tracker.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestHandler_RetryAfterFailedRollupFinalizesAgain(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	volumes := storemocks.NewMockDailyVolumeRepository(ctrl)
	h := NewHandler(volumes, e.tracker, e.locker, testLogger())
	ctx := context.Background()

	require.NoError(t, e.tracker.AddPending(ctx, "j1"))
	volumes.EXPECT().CalculateDay(gomock.Any(), day).Return(int64(1), nil).Times(2)
	gomock.InOrder(
		volumes.EXPECT().UpdateCollections(gomock.Any()).Return(int64(0), errors.New("lock timeout")),
		volumes.EXPECT().UpdateCollections(gomock.Any()).Return(int64(2), nil),
	)

	require.Error(t, h.Handle(ctx, jobFor(t, "j1", Payload{StartTime: day})))
	require.NoError(t, h.Handle(ctx, jobFor(t, "j1", Payload{StartTime: day})))
}

func TestWorker_EndToEnd(t *testing.T) {
	e := newEnv(t)
	ctrl := gomock.NewController(t)
	volumes := storemocks.NewMockDailyVolumeRepository(ctrl)
	h := NewHandler(volumes, e.tracker, e.locker, testLogger())
	p := NewProducer(e.queue, e.tracker)

	start := day
	_, err := p.AddToQueue(context.Background(), &start, true)
	require.NoError(t, err)

	done := make(chan struct{})
	volumes.EXPECT().CalculateDay(gomock.Any(), day).Return(int64(5), nil)
	volumes.EXPECT().UpdateCollections(gomock.Any()).DoAndReturn(func(context.Context) (int64, error) {
		close(done)
		return 5, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := queue.NewWorker(e.queue, Concurrency, h.Handle, testLogger(), queue.WithPollInterval(5*time.Millisecond))
	go func() { _ = w.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("daily volume job was not processed")
	}
}

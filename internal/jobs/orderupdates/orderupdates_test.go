package orderupdates

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

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/queue"
	"github.com/mattetre/reservoir-indexer/internal/store"
	storemocks "github.com/mattetre/reservoir-indexer/internal/store/mocks"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return queue.NewRegistry(client, queue.RegistryConfig{}, testLogger()).Register(QueueName, DefaultOptions())
}

type flakyEnqueuer struct {
	failures int
	err      error
	calls    int
	batches  [][]queue.BulkJob
}

func (f *flakyEnqueuer) AddBulk(_ context.Context, jobs []queue.BulkJob) ([]bool, error) {
	f.calls++
	f.batches = append(f.batches, jobs)
	if f.calls <= f.failures {
		return nil, f.err
	}
	return make([]bool, len(jobs)), nil
}

func note(jobID, orderID string, backfill bool) Notification {
	return Notification{
		JobID:    jobID,
		Info:     Info{Context: "cancelled-" + orderID, ID: orderID},
		Backfill: backfill,
	}
}

func TestNotifier_EnqueuesOneJobPerNotification(t *testing.T) {
	q := newTestQueue(t)
	n := NewNotifier(q, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, []Notification{
		note("outbox-1", "0x01", false),
		note("outbox-2", "0x02", false),
	}))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Wait)

	job, err := q.GetJob(ctx, "outbox-2")
	require.NoError(t, err)
	var info Info
	require.NoError(t, job.Decode(&info))
	assert.Equal(t, Info{Context: "cancelled-0x02", ID: "0x02"}, info)
}

func TestNotifier_RenotifyingSameJobIDEnqueuesOnce(t *testing.T) {
	q := newTestQueue(t)
	n := NewNotifier(q, testLogger())
	ctx := context.Background()

	notes := []Notification{note("outbox-7", "0x07", false)}
	require.NoError(t, n.Notify(ctx, notes))
	require.NoError(t, n.Notify(ctx, notes))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Wait)
}

func TestNotifier_EmptyIsNoop(t *testing.T) {
	f := &flakyEnqueuer{}
	n := NewNotifier(f, testLogger())

	require.NoError(t, n.Notify(context.Background(), nil))
	assert.Zero(t, f.calls)
}

func TestNotifier_BackfillPolicy(t *testing.T) {
	backfill := []Notification{note("outbox-1", "0x01", true)}

	f := &flakyEnqueuer{}
	require.NoError(t, NewNotifier(f, testLogger()).Notify(context.Background(), backfill))
	assert.Equal(t, 1, f.calls, "backfill notifies by default")

	f = &flakyEnqueuer{}
	n := NewNotifier(f, testLogger(), WithNotifyOnBackfill(false))
	require.NoError(t, n.Notify(context.Background(), backfill))
	assert.Zero(t, f.calls)

	require.NoError(t, n.Notify(context.Background(), []Notification{
		note("outbox-2", "0x02", true),
		note("outbox-3", "0x03", false),
	}))
	require.Equal(t, 1, f.calls)
	require.Len(t, f.batches[0], 1)
	assert.Equal(t, "outbox-3", f.batches[0][0].ID)
}

func TestNotifier_RetriesTransientWithStableIDs(t *testing.T) {
	f := &flakyEnqueuer{failures: 2, err: errors.New("dial tcp: connection refused")}
	n := NewNotifier(f, testLogger(), WithEnqueueRetry(3, time.Millisecond))

	err := n.Notify(context.Background(), []Notification{note("outbox-1", "a", false)})
	require.NoError(t, err)
	require.Equal(t, 3, f.calls)
	assert.Equal(t, "outbox-1", f.batches[2][0].ID, "retries reuse job ids")
}

func TestNotifier_DoesNotRetryTerminal(t *testing.T) {
	f := &flakyEnqueuer{failures: 5, err: errors.New("invalid argument")}
	n := NewNotifier(f, testLogger(), WithEnqueueRetry(3, time.Millisecond))

	err := n.Notify(context.Background(), []Notification{note("outbox-1", "a", false)})
	require.Error(t, err)
	assert.Equal(t, 1, f.calls)
}

func TestNotifier_ReturnsLastErrorAfterAttempts(t *testing.T) {
	f := &flakyEnqueuer{failures: 5, err: errors.New("i/o timeout")}
	n := NewNotifier(f, testLogger(), WithEnqueueRetry(2, time.Millisecond))

	err := n.Notify(context.Background(), []Notification{note("outbox-1", "a", false)})
	require.Error(t, err)
	assert.ErrorContains(t, err, "i/o timeout")
	assert.Equal(t, 2, f.calls)
}

type captureSink struct {
	infos  []Info
	orders []*model.Order
	err    error
}

func (c *captureSink) OrderUpdated(_ context.Context, info Info, order *model.Order) error {
	c.infos = append(c.infos, info)
	c.orders = append(c.orders, order)
	return c.err
}

func jobFor(t *testing.T, payload any) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{Queue: QueueName, ID: "job-1", Payload: raw}
}

func TestHandler_DeliversLoadedOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	orders := storemocks.NewMockOrderRepository(ctrl)
	sink := &captureSink{}
	h := NewHandler(orders, sink, testLogger())

	order := &model.Order{ID: "0x01", FillabilityStatus: model.FillabilityCancelled}
	orders.EXPECT().GetByID(gomock.Any(), "0x01").Return(order, nil)

	err := h.Handle(context.Background(), jobFor(t, Info{Context: "cancelled-0x01", ID: "0x01"}))
	require.NoError(t, err)
	require.Len(t, sink.orders, 1)
	assert.Same(t, order, sink.orders[0])
	assert.Equal(t, "cancelled-0x01", sink.infos[0].Context)
}

func TestHandler_MissingOrderIsSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	orders := storemocks.NewMockOrderRepository(ctrl)
	sink := &captureSink{}
	h := NewHandler(orders, sink, testLogger())

	orders.EXPECT().GetByID(gomock.Any(), "0x02").Return(nil, store.ErrNotFound)

	require.NoError(t, h.Handle(context.Background(), jobFor(t, Info{Context: "cancelled-0x02", ID: "0x02"})))
	assert.Empty(t, sink.orders)
}

func TestHandler_LoadErrorPropagates(t *testing.T) {
	ctrl := gomock.NewController(t)
	orders := storemocks.NewMockOrderRepository(ctrl)
	h := NewHandler(orders, &captureSink{}, testLogger())

	orders.EXPECT().GetByID(gomock.Any(), "0x03").Return(nil, errors.New("connection reset"))

	err := h.Handle(context.Background(), jobFor(t, Info{Context: "cancelled-0x03", ID: "0x03"}))
	assert.ErrorContains(t, err, "connection reset")
}

func TestHandler_RejectsEmptyID(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := NewHandler(storemocks.NewMockOrderRepository(ctrl), &captureSink{}, testLogger())

	err := h.Handle(context.Background(), jobFor(t, Info{Context: "cancelled-"}))
	require.Error(t, err)
}

// Package orderupdates fans order status changes out to the downstream
// recomputation pipeline through the order-updates-by-id queue.
package orderupdates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/queue"
	"github.com/mattetre/reservoir-indexer/internal/retry"
	"github.com/mattetre/reservoir-indexer/internal/store"
)

const QueueName = "order-updates-by-id"

// Info is the payload of an order-updates-by-id job.
type Info struct {
	Context string `json:"context"`
	ID      string `json:"id"`
}

// DefaultOptions are the job options of the order-updates-by-id queue.
func DefaultOptions() queue.Options {
	return queue.Options{
		Attempts:         10,
		Backoff:          queue.Backoff{Type: queue.BackoffExponential, Delay: 10 * time.Second},
		RemoveOnComplete: queue.Retention{Keep: 10000},
		RemoveOnFail:     queue.Retention{Keep: 10000},
		Timeout:          60 * time.Second,
	}
}

// Enqueuer is the part of queue.Queue the notifier needs.
type Enqueuer interface {
	AddBulk(ctx context.Context, jobs []queue.BulkJob) ([]bool, error)
}

type Notifier struct {
	queue            Enqueuer
	notifyOnBackfill bool
	attempts         uint
	delay            time.Duration
	logger           *slog.Logger
}

type NotifierOption func(*Notifier)

// WithNotifyOnBackfill controls whether changes caused by backfilled events
// are reported. Enabled by default.
func WithNotifyOnBackfill(v bool) NotifierOption {
	return func(n *Notifier) { n.notifyOnBackfill = v }
}

// WithEnqueueRetry sets how often a failed enqueue is retried inline.
func WithEnqueueRetry(attempts uint, delay time.Duration) NotifierOption {
	return func(n *Notifier) {
		n.attempts = attempts
		n.delay = delay
	}
}

func NewNotifier(q Enqueuer, logger *slog.Logger, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		queue:            q,
		notifyOnBackfill: true,
		attempts:         3,
		delay:            100 * time.Millisecond,
		logger:           logger.With("component", "order_updates_notifier"),
	}
	for _, o := range opts {
		o(n)
	}
	if n.attempts == 0 {
		n.attempts = 1
	}
	return n
}

// Notification is an Info bound to the job id it is enqueued under.
type Notification struct {
	JobID    string
	Info     Info
	Backfill bool
}

// Notify enqueues one job per notification. A job id that is still queued is
// not added again, so notifying the same batch twice enqueues each job once.
func (n *Notifier) Notify(ctx context.Context, notes []Notification) error {
	jobs := make([]queue.BulkJob, 0, len(notes))
	skipped := 0
	for _, note := range notes {
		if note.Backfill && !n.notifyOnBackfill {
			skipped++
			continue
		}
		jobs = append(jobs, queue.BulkJob{ID: note.JobID, Payload: note.Info})
	}
	if skipped > 0 {
		n.logger.Debug("skipping backfill notifications", "count", skipped)
	}
	if len(jobs) == 0 {
		return nil
	}

	err := retrygo.Do(
		func() error {
			_, err := n.queue.AddBulk(ctx, jobs)
			return err
		},
		retrygo.Context(ctx),
		retrygo.Attempts(n.attempts),
		retrygo.Delay(n.delay),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			return retry.Classify(err).IsTransient()
		}),
		retrygo.OnRetry(func(attempt uint, err error) {
			n.logger.Warn("enqueue order updates failed, retrying", "attempt", attempt+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("enqueue %d order updates: %w", len(jobs), err)
	}
	return nil
}

// OrderSink receives orders whose status changed.
type OrderSink interface {
	OrderUpdated(ctx context.Context, info Info, order *model.Order) error
}

// LogSink is the sink used when no downstream consumer is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) OrderUpdated(_ context.Context, info Info, order *model.Order) error {
	s.Logger.Info("order updated",
		"context", info.Context,
		"order_id", order.ID,
		"status", order.FillabilityStatus,
	)
	return nil
}

type Handler struct {
	orders store.OrderRepository
	sink   OrderSink
	logger *slog.Logger
}

func NewHandler(orders store.OrderRepository, sink OrderSink, logger *slog.Logger) *Handler {
	return &Handler{
		orders: orders,
		sink:   sink,
		logger: logger.With("component", "order_updates_handler"),
	}
}

func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	var info Info
	if err := job.Decode(&info); err != nil {
		return err
	}
	if info.ID == "" {
		return retry.Terminal(fmt.Errorf("order update %s: empty order id", job.ID))
	}

	order, err := h.orders.GetByID(ctx, info.ID)
	if errors.Is(err, store.ErrNotFound) {
		h.logger.Debug("order gone, skipping update", "order_id", info.ID, "context", info.Context)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load order %s: %w", info.ID, err)
	}

	if err := h.sink.OrderUpdated(ctx, info, order); err != nil {
		return fmt.Errorf("deliver order update %s: %w", info.Context, err)
	}
	return nil
}

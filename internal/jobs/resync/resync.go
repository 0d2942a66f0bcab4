// Package resync backfills orders.source_id_int from the raw source address
// by walking the orders table page by page through the job queue.
package resync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/metrics"
	"github.com/mattetre/reservoir-indexer/internal/queue"
	"github.com/mattetre/reservoir-indexer/internal/store"
	redisstore "github.com/mattetre/reservoir-indexer/internal/store/redis"
)

const (
	QueueName   = "resync-orders-source-queue"
	Concurrency = 1
	PageSize    = 2000

	// LockKey guards the one-time bootstrap. The lease is never released, so
	// restarts within LockTTL do not start another pass.
	LockKey = "order-resync"
	LockTTL = 30 * 24 * time.Hour

	metricLabel = "orders_source"
)

func DefaultOptions() queue.Options {
	return queue.Options{
		Attempts:         10,
		RemoveOnComplete: queue.Retention{Keep: 10000},
		RemoveOnFail:     queue.Retention{Keep: 10000},
	}
}

// Payload is the job body. An empty Continuation starts from the first order.
type Payload struct {
	Continuation string `json:"continuation"`
}

type Enqueuer interface {
	Add(ctx context.Context, id string, payload any, opts ...queue.Option) (bool, error)
}

// AddToQueue enqueues the page that starts after continuation.
func AddToQueue(ctx context.Context, q Enqueuer, continuation string) error {
	if _, err := q.Add(ctx, queue.NewJobID(), Payload{Continuation: continuation}); err != nil {
		return fmt.Errorf("enqueue resync page after %q: %w", continuation, err)
	}
	return nil
}

type Handler struct {
	orders   store.OrderRepository
	sources  model.SourceTable
	queue    Enqueuer
	limiter  *rate.Limiter
	pageSize int
	logger   *slog.Logger
}

type HandlerOption func(*Handler)

// WithRowRateLimit throttles row updates to rps per second. Zero disables it.
func WithRowRateLimit(rps float64, burst int) HandlerOption {
	return func(h *Handler) {
		if rps <= 0 {
			h.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithPageSize(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.pageSize = n
		}
	}
}

func NewHandler(orders store.OrderRepository, sources model.SourceTable, q Enqueuer, logger *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		orders:   orders,
		sources:  sources,
		queue:    q,
		pageSize: PageSize,
		logger:   logger.With("component", "resync_orders_source"),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle processes one page. Row failures are logged and skipped; only a
// failure to read the page or to enqueue the next one fails the job.
func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return err
	}

	rows, err := h.orders.ListSourcesAfter(ctx, p.Continuation, h.pageSize)
	if err != nil {
		return fmt.Errorf("list orders after %q: %w", p.Continuation, err)
	}

	var updated int
	for _, row := range rows {
		if h.limiter != nil {
			if err := h.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("resync rate limit: %w", err)
			}
		}
		if err := h.orders.UpdateSourceIDInt(ctx, row.ID, h.sourceCode(row.SourceID)); err != nil {
			metrics.ResyncRowErrors.WithLabelValues(metricLabel).Inc()
			h.logger.Error("update order source failed", "order_id", row.ID, "error", err)
			continue
		}
		updated++
	}
	metrics.ResyncRowsUpdated.WithLabelValues(metricLabel).Add(float64(updated))
	metrics.ResyncPagesProcessed.WithLabelValues(metricLabel).Inc()

	if len(rows) < h.pageSize {
		h.logger.Info("resync finished", "last_page_rows", len(rows))
		return nil
	}

	last := rows[len(rows)-1].ID
	h.logger.Info("resync page done", "updated", updated, "last_order", last)
	return AddToQueue(ctx, h.queue, last)
}

func (h *Handler) sourceCode(sourceID *string) *int {
	if sourceID == nil {
		return nil
	}
	code, ok := h.sources.Lookup(*sourceID)
	if !ok {
		return nil
	}
	return &code
}

// Locker is the part of the lock service Bootstrap needs.
type Locker interface {
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (redisstore.LockResult, error)
}

// Bootstrap starts a resync pass unless one was started within LockTTL. It
// reports whether a pass was enqueued. When the first page cannot be enqueued
// the lock is released so the next call can start the pass.
func Bootstrap(ctx context.Context, locker Locker, q Enqueuer, logger *slog.Logger) (bool, error) {
	res, err := locker.Acquire(ctx, []string{LockKey}, LockTTL)
	if err != nil {
		return false, fmt.Errorf("acquire %s lock: %w", LockKey, err)
	}
	if !res.Acquired() {
		logger.Info("order resync already started, skipping", "lock", LockKey)
		return false, nil
	}
	if err := AddToQueue(ctx, q, ""); err != nil {
		if relErr := res.Lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			logger.Warn("release resync lock failed", "lock", LockKey, "error", relErr)
		}
		return false, err
	}
	logger.Info("order resync started", "lock", LockKey, "lock_ttl", LockTTL)
	return true, nil
}

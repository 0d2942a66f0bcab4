package eventsync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattetre/reservoir-indexer/internal/jobs/orderupdates"
	"github.com/mattetre/reservoir-indexer/internal/metrics"
	"github.com/mattetre/reservoir-indexer/internal/store"
	"github.com/mattetre/reservoir-indexer/internal/store/postgres"
)

const (
	defaultRelayBatch    = 500
	defaultRelayInterval = 5 * time.Second
)

// Notifier enqueues order-update jobs under caller-chosen job ids.
type Notifier interface {
	Notify(ctx context.Context, notes []orderupdates.Notification) error
}

// OutboxRelay moves order-update outbox entries into the order-updates-by-id
// queue. An entry is deleted in the transaction that claimed it, after its job
// was enqueued. A failed enqueue leaves the entry for the next drain.
type OutboxRelay struct {
	db       store.TxBeginner
	outbox   store.OrderUpdateOutboxRepository
	notifier Notifier
	batch    int
	interval time.Duration
	logger   *slog.Logger
}

type RelayOption func(*OutboxRelay)

func WithRelayBatch(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.batch = n
		}
	}
}

// WithRelayInterval sets how often Run drains entries left behind by failed
// enqueues.
func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *OutboxRelay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func NewOutboxRelay(db store.TxBeginner, outbox store.OrderUpdateOutboxRepository, notifier Notifier, logger *slog.Logger, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		db:       db,
		outbox:   outbox,
		notifier: notifier,
		batch:    defaultRelayBatch,
		interval: defaultRelayInterval,
		logger:   logger.With("component", "order_update_relay"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Drain relays batches until the outbox is empty or an enqueue fails, and
// returns the number of entries relayed.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.drainBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batch {
			return total, nil
		}
	}
}

func (r *OutboxRelay) drainBatch(ctx context.Context) (int, error) {
	relayed := 0
	err := postgres.RunInTx(ctx, r.db, func(tx *sql.Tx) error {
		entries, err := r.outbox.ClaimTx(ctx, tx, r.batch)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		notes := make([]orderupdates.Notification, len(entries))
		ids := make([]int64, len(entries))
		for i, e := range entries {
			notes[i] = orderupdates.Notification{
				JobID:    e.JobID(),
				Info:     orderupdates.Info{Context: e.Context, ID: e.OrderID},
				Backfill: e.Backfill,
			}
			ids[i] = e.ID
		}
		if err := r.notifier.Notify(ctx, notes); err != nil {
			return err
		}
		if _, err := r.outbox.DeleteTx(ctx, tx, ids); err != nil {
			return err
		}
		relayed = len(entries)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("relay order updates: %w", err)
	}
	metrics.OrderUpdateOutboxRelayed.Add(float64(relayed))
	return relayed, nil
}

// Run drains the outbox every interval until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.logger.Info("order update relay started", "interval", r.interval, "batch", r.batch)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		n, err := r.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Warn("order update relay failed", "relayed", n, "error", err)
		} else if n > 0 {
			r.logger.Info("relayed pending order updates", "relayed", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

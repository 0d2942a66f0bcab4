package eventsync

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/metrics"
	"github.com/mattetre/reservoir-indexer/internal/store"
	"github.com/mattetre/reservoir-indexer/internal/store/postgres"
	"github.com/mattetre/reservoir-indexer/internal/tracing"
)

const tracerName = "reservoir-indexer/eventsync"

// Drainer relays committed order-update outbox entries to the queue.
type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

// BulkCancelStore records bulk-cancel events and applies them to the order book.
type BulkCancelStore struct {
	db     store.TxBeginner
	events store.BulkCancelEventRepository
	outbox store.OrderUpdateOutboxRepository
	relay  Drainer
	logger *slog.Logger
}

func NewBulkCancelStore(db store.TxBeginner, events store.BulkCancelEventRepository, outbox store.OrderUpdateOutboxRepository, relay Drainer, logger *slog.Logger) *BulkCancelStore {
	return &BulkCancelStore{
		db:     db,
		events: events,
		outbox: outbox,
		relay:  relay,
		logger: logger.With("component", "bulk_cancel_store"),
	}
}

// AddEvents stores events, cancels every order they invalidate and records one
// outbox entry per cancelled order, all in one transaction. The outbox is then
// drained into the order-updates-by-id queue. Entries left by an earlier failed
// drain are relayed as well, so replaying the same events after a failure
// still delivers their notifications.
func (s *BulkCancelStore) AddEvents(ctx context.Context, events []model.BulkCancelEvent, backfill bool) (err error) {
	if len(events) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "eventsync.bulk_cancel.add",
		attribute.Int("event_count", len(events)),
		attribute.Bool("backfill", backfill),
	)
	start := time.Now()
	defer func() {
		tracing.EndSpan(span, err)
		metrics.EventStoreLatency.WithLabelValues("bulk_cancel_add").Observe(time.Since(start).Seconds())
	}()

	metrics.BulkCancelEventsReceived.Add(float64(len(events)))

	var ids []string
	err = postgres.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		ids, err = s.events.InsertAndCancelTx(ctx, tx, events)
		if err != nil {
			return fmt.Errorf("insert bulk cancel events: %w", err)
		}
		entries := make([]model.OrderUpdateOutboxEntry, len(ids))
		for i, id := range ids {
			entries[i] = model.OrderUpdateOutboxEntry{OrderID: id, Context: "cancelled-" + id, Backfill: backfill}
		}
		return s.outbox.AppendTx(ctx, tx, entries)
	})
	if err != nil {
		return err
	}

	mode := "live"
	if backfill {
		mode = "backfill"
	}
	metrics.BulkCancelOrdersCancelled.WithLabelValues(mode).Add(float64(len(ids)))

	if len(ids) > 0 {
		s.logger.Info("orders cancelled by bulk cancel",
			"events", len(events),
			"orders", len(ids),
			"backfill", backfill,
		)
	}

	if _, err := s.relay.Drain(ctx); err != nil {
		return err
	}
	return nil
}

// RemoveEvents deletes the events of an orphaned block. Orders cancelled by
// those events keep their status.
func (s *BulkCancelStore) RemoveEvents(ctx context.Context, blockHash string) (removed int64, err error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "eventsync.bulk_cancel.remove",
		attribute.String("block_hash", blockHash),
	)
	start := time.Now()
	defer func() {
		tracing.EndSpan(span, err)
		metrics.EventStoreLatency.WithLabelValues("bulk_cancel_remove").Observe(time.Since(start).Seconds())
	}()

	removed, err = s.events.DeleteByBlockHash(ctx, blockHash)
	if err != nil {
		return 0, fmt.Errorf("remove bulk cancel events for block %s: %w", blockHash, err)
	}
	metrics.BulkCancelEventsRemoved.Add(float64(removed))
	if removed > 0 {
		s.logger.Info("removed orphaned bulk cancel events", "block_hash", blockHash, "removed", removed)
	}
	return removed, nil
}

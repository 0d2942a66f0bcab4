package eventsync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mattetre/reservoir-indexer/internal/alert"
	"github.com/mattetre/reservoir-indexer/internal/domain/event"
	"github.com/mattetre/reservoir-indexer/internal/metrics"
)

// EventRemover retracts the events of an orphaned block.
type EventRemover interface {
	RemoveEvents(ctx context.Context, blockHash string) (int64, error)
}

// ReorgConsumer retracts the events of orphaned blocks from every
// registered event store. Orders cancelled by retracted events stay cancelled.
type ReorgConsumer struct {
	removers []EventRemover
	alerter  alert.Alerter
	logger   *slog.Logger
}

func NewReorgConsumer(alerter alert.Alerter, logger *slog.Logger, removers ...EventRemover) *ReorgConsumer {
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	return &ReorgConsumer{
		removers: removers,
		alerter:  alerter,
		logger:   logger.With("component", "reorg_consumer"),
	}
}

func (c *ReorgConsumer) Handle(ctx context.Context, reorg event.Reorg) error {
	var total int64
	for _, hash := range reorg.OrphanedBlockHashes {
		for _, r := range c.removers {
			n, err := r.RemoveEvents(ctx, hash)
			if err != nil {
				return fmt.Errorf("reorg at block %d: %w", reorg.ForkBlockNumber, err)
			}
			total += n
		}
	}
	metrics.ReorgsHandled.Inc()

	c.logger.Warn("reorg handled",
		"fork_block", reorg.ForkBlockNumber,
		"orphaned_blocks", len(reorg.OrphanedBlockHashes),
		"events_removed", total,
	)

	if total == 0 {
		return nil
	}
	err := c.alerter.Send(ctx, alert.Alert{
		Type:    alert.AlertTypeReorg,
		Source:  "eventsync",
		Title:   "Orphaned events removed",
		Message: fmt.Sprintf("Removed %d events after a reorg at block %d", total, reorg.ForkBlockNumber),
		Fields: map[string]string{
			"fork_block":      strconv.FormatInt(reorg.ForkBlockNumber, 10),
			"orphaned_blocks": strconv.Itoa(len(reorg.OrphanedBlockHashes)),
			"events_removed":  strconv.FormatInt(total, 10),
		},
	})
	if err != nil {
		c.logger.Warn("reorg alert failed", "error", err)
	}
	return nil
}

package model

import (
	"strconv"
	"time"
)

// OrderUpdateOutboxEntry is an order change written in the same transaction
// that made it. It stays in the outbox until its order-updates-by-id job is
// enqueued.
type OrderUpdateOutboxEntry struct {
	ID        int64
	OrderID   string
	Context   string
	Backfill  bool
	CreatedAt time.Time
}

// JobID derives the queue job id from the outbox row, so enqueueing the same
// entry twice yields one job.
func (e OrderUpdateOutboxEntry) JobID() string {
	return "outbox-" + strconv.FormatInt(e.ID, 10)
}

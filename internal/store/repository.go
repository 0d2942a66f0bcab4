package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// TxBeginner abstracts the ability to begin a database transaction.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// BulkCancelEventRepository persists bulk-cancel events.
type BulkCancelEventRepository interface {
	// InsertAndCancelTx inserts events, skipping identities already stored,
	// and cancels the cancellable orders of each newly inserted event whose
	// nonce is below its min nonce. It returns the distinct ids of orders that
	// changed status.
	InsertAndCancelTx(ctx context.Context, tx *sql.Tx, events []model.BulkCancelEvent) ([]string, error)
	// DeleteByBlockHash removes the events of an orphaned block. Orders are
	// left untouched.
	DeleteByBlockHash(ctx context.Context, blockHash string) (int64, error)
}

// OrderUpdateOutboxRepository stages order-update notifications next to the
// order mutations that caused them.
type OrderUpdateOutboxRepository interface {
	AppendTx(ctx context.Context, tx *sql.Tx, entries []model.OrderUpdateOutboxEntry) error
	// ClaimTx locks up to limit of the oldest entries for the life of tx.
	// Entries locked by another transaction are skipped.
	ClaimTx(ctx context.Context, tx *sql.Tx, limit int) ([]model.OrderUpdateOutboxEntry, error)
	DeleteTx(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error)
}

// OrderRepository provides access to orders.
type OrderRepository interface {
	GetByID(ctx context.Context, id string) (*model.Order, error)
	// ListSourcesAfter returns up to limit orders with id strictly greater
	// than afterID, ordered by id.
	ListSourcesAfter(ctx context.Context, afterID string, limit int) ([]model.OrderSource, error)
	UpdateSourceIDInt(ctx context.Context, id string, sourceIDInt *int) error
}

// DailyVolumeRepository aggregates fills into per-collection daily volumes.
type DailyVolumeRepository interface {
	ExistsForDay(ctx context.Context, dayStart int64) (bool, error)
	// CalculateDay upserts the volume of every collection traded in
	// [dayStart, dayStart+1d) and returns the number of rows written.
	CalculateDay(ctx context.Context, dayStart int64) (int64, error)
	GetDay(ctx context.Context, dayStart int64) ([]model.DailyVolume, error)
	// UpdateCollections rolls daily volumes up into the collections table.
	UpdateCollections(ctx context.Context) (int64, error)
}

// AttributeRepository reads collection attributes.
type AttributeRepository interface {
	GetStaticAttributes(ctx context.Context, collectionID string) ([]model.StaticAttribute, error)
}

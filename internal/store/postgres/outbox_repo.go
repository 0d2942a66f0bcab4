package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
)

// OrderUpdateOutboxRepo works only inside caller transactions: entries must
// commit or roll back together with the order changes they describe.
type OrderUpdateOutboxRepo struct{}

func NewOrderUpdateOutboxRepo() *OrderUpdateOutboxRepo {
	return &OrderUpdateOutboxRepo{}
}

func (r *OrderUpdateOutboxRepo) AppendTx(ctx context.Context, tx *sql.Tx, entries []model.OrderUpdateOutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}

	orderIDs := make([]string, len(entries))
	contexts := make([]string, len(entries))
	backfills := make([]bool, len(entries))
	for i, e := range entries {
		orderIDs[i] = e.OrderID
		contexts[i] = e.Context
		backfills[i] = e.Backfill
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_update_outbox (order_id, context, backfill)
		SELECT * FROM unnest($1::text[], $2::text[], $3::boolean[])
	`, pq.Array(orderIDs), pq.Array(contexts), pq.Array(backfills))
	if err != nil {
		return fmt.Errorf("append %d order update outbox entries: %w", len(entries), err)
	}
	return nil
}

func (r *OrderUpdateOutboxRepo) ClaimTx(ctx context.Context, tx *sql.Tx, limit int) ([]model.OrderUpdateOutboxEntry, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, order_id, context, backfill, created_at
		FROM order_update_outbox
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim order update outbox: %w", err)
	}
	defer rows.Close()

	var entries []model.OrderUpdateOutboxEntry
	for rows.Next() {
		var e model.OrderUpdateOutboxEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Context, &e.Backfill, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order update outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order update outbox: %w", err)
	}
	return entries, nil
}

func (r *OrderUpdateOutboxRepo) DeleteTx(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM order_update_outbox WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete order update outbox entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

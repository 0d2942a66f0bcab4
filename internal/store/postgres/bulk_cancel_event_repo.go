package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
)

const (
	bulkCancelColumnCount = 11
	// bulkCancelChunkSize keeps a single statement well below the 65535
	// bind parameter limit.
	bulkCancelChunkSize = 1000
)

type BulkCancelEventRepo struct {
	db *DB
}

func NewBulkCancelEventRepo(db *DB) *BulkCancelEventRepo {
	return &BulkCancelEventRepo{db: db}
}

// InsertAndCancelTx inserts the events and, in the same statement, cancels
// the orders each newly inserted event invalidates. Events whose identity is
// already stored insert nothing and therefore cancel nothing.
func (r *BulkCancelEventRepo) InsertAndCancelTx(ctx context.Context, tx *sql.Tx, events []model.BulkCancelEvent) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var ids []string

	for start := 0; start < len(events); start += bulkCancelChunkSize {
		end := start + bulkCancelChunkSize
		if end > len(events) {
			end = len(events)
		}

		query, args := buildInsertAndCancelQuery(events[start:end])
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("insert bulk cancel events: %w", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan cancelled order id: %w", err)
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate cancelled orders: %w", err)
		}
		rows.Close()
	}

	return ids, nil
}

func buildInsertAndCancelQuery(events []model.BulkCancelEvent) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(events)*bulkCancelColumnCount+1)

	sb.WriteString(`
		WITH x AS (
			INSERT INTO bulk_cancel_events (
				address, block, block_hash, tx_hash, tx_index, log_index,
				timestamp, batch_index, order_kind, maker, min_nonce
			) VALUES `)

	for i, ev := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * bulkCancelColumnCount
		sb.WriteString("(")
		for c := 1; c <= bulkCancelColumnCount; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+c)
		}
		sb.WriteString(")")

		args = append(args,
			strings.ToLower(ev.Address),
			ev.Block,
			strings.ToLower(ev.BlockHash),
			strings.ToLower(ev.TxHash),
			ev.TxIndex,
			ev.LogIndex,
			ev.Timestamp,
			ev.BatchIndex,
			string(ev.OrderKind),
			strings.ToLower(ev.Maker),
			ev.MinNonce,
		)
	}

	args = append(args, pq.Array(model.BulkCancellableStatuses()))
	fmt.Fprintf(&sb, `
			ON CONFLICT DO NOTHING
			RETURNING order_kind, maker, min_nonce, timestamp
		)
		UPDATE orders AS o SET
			fillability_status = 'cancelled',
			expiration = to_timestamp(x.timestamp),
			updated_at = now()
		FROM x
		WHERE o.kind = x.order_kind
			AND o.maker = x.maker
			AND o.nonce < x.min_nonce
			AND o.fillability_status = ANY($%d)
		RETURNING o.id
	`, len(args))

	return sb.String(), args
}

// DeleteByBlockHash removes the events of an orphaned block. Cancelled
// orders are not reverted: the prior status cannot be recovered reliably.
func (r *BulkCancelEventRepo) DeleteByBlockHash(ctx context.Context, blockHash string) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM bulk_cancel_events WHERE block_hash = $1`,
		strings.ToLower(blockHash),
	)
	if err != nil {
		return 0, fmt.Errorf("delete bulk cancel events by block hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/store"
)

var (
	ordersTable  = goqu.T("orders")
	ordersID     = goqu.C("id")
	ordersSource = goqu.C("source_id")
)

type OrderRepo struct {
	db     *DB
	goquDb *goqu.Database
}

func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{db: db, goquDb: goqu.New("postgres", db.DB)}
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*model.Order, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var o model.Order
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kind, maker, nonce, fillability_status, expiration, source_id, source_id_int, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&o.ID, &o.Kind, &o.Maker, &o.Nonce, &o.FillabilityStatus,
		&o.Expiration, &o.SourceID, &o.SourceIDInt, &o.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return &o, nil
}

// ListSourcesAfter returns the next page of (id, source_id) ordered by id,
// strictly after afterID. An empty afterID starts at the beginning of the table.
func (r *OrderRepo) ListSourcesAfter(ctx context.Context, afterID string, limit int) ([]model.OrderSource, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	ds := r.goquDb.
		From(ordersTable).
		Select(ordersID, ordersSource).
		Order(ordersID.Asc()).
		Limit(uint(limit))
	if afterID != "" {
		ds = ds.Where(ordersID.Gt(afterID))
	}

	var rows []model.OrderSource
	if err := ds.Prepared(true).ScanStructsContext(ctx, &rows); err != nil {
		return nil, fmt.Errorf("list order sources after %q: %w", afterID, err)
	}
	return rows, nil
}

func (r *OrderRepo) UpdateSourceIDInt(ctx context.Context, id string, sourceIDInt *int) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var value any
	if sourceIDInt != nil {
		value = *sourceIDInt
	}

	query, args, err := r.goquDb.
		Update(ordersTable).
		Set(goqu.Record{
			"source_id_int": value,
			"updated_at":    goqu.L("now()"),
		}).
		Where(ordersID.Eq(id)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build order source update: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update source of order %s: %w", id, err)
	}
	return nil
}

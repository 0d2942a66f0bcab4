package postgres

import (
	"context"
	"fmt"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
)

type DailyVolumeRepo struct {
	db *DB
}

func NewDailyVolumeRepo(db *DB) *DailyVolumeRepo {
	return &DailyVolumeRepo{db: db}
}

func (r *DailyVolumeRepo) ExistsForDay(ctx context.Context, dayStart int64) (bool, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM daily_volumes WHERE timestamp = $1)`, dayStart,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check daily volumes for %d: %w", dayStart, err)
	}
	return exists, nil
}

// CalculateDay sums the fills of [dayStart, dayStart+1d) per collection,
// ranks collections by volume and upserts the result.
func (r *DailyVolumeRepo) CalculateDay(ctx context.Context, dayStart int64) (int64, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_volumes (collection_id, timestamp, volume, rank, sales_count)
		SELECT
			v.collection_id,
			$1,
			v.volume,
			RANK() OVER (ORDER BY v.volume DESC),
			v.sales_count
		FROM (
			SELECT t.collection_id, SUM(fe.price) AS volume, COUNT(*) AS sales_count
			FROM fill_events fe
			JOIN tokens t ON t.contract = fe.contract AND t.token_id = fe.token_id
			WHERE fe.timestamp >= $1
				AND fe.timestamp < $2
				AND fe.price > 0
				AND t.collection_id IS NOT NULL
			GROUP BY t.collection_id
		) v
		ON CONFLICT (collection_id, timestamp) DO UPDATE SET
			volume = EXCLUDED.volume,
			rank = EXCLUDED.rank,
			sales_count = EXCLUDED.sales_count,
			updated_at = now()
	`, dayStart, dayStart+model.SecondsPerDay)
	if err != nil {
		return 0, fmt.Errorf("calculate daily volumes for %d: %w", dayStart, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *DailyVolumeRepo) GetDay(ctx context.Context, dayStart int64) ([]model.DailyVolume, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT collection_id, timestamp, volume::TEXT, rank, sales_count
		FROM daily_volumes
		WHERE timestamp = $1
		ORDER BY rank ASC, collection_id ASC
	`, dayStart)
	if err != nil {
		return nil, fmt.Errorf("get daily volumes for %d: %w", dayStart, err)
	}
	defer rows.Close()

	var out []model.DailyVolume
	for rows.Next() {
		var dv model.DailyVolume
		if err := rows.Scan(&dv.CollectionID, &dv.Timestamp, &dv.Volume, &dv.Rank, &dv.SalesCount); err != nil {
			return nil, fmt.Errorf("scan daily volume: %w", err)
		}
		out = append(out, dv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily volumes: %w", err)
	}
	return out, nil
}

// UpdateCollections rolls the daily buckets up into the 1/7/30 day and
// all-time volume columns of collections, relative to the latest bucket.
func (r *DailyVolumeRepo) UpdateCollections(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx, LongQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		WITH latest AS (
			SELECT MAX(timestamp) AS ts FROM daily_volumes
		),
		totals AS (
			SELECT
				dv.collection_id,
				COALESCE(SUM(dv.volume) FILTER (WHERE dv.timestamp > l.ts - $1), 0) AS day1_volume,
				COALESCE(SUM(dv.volume) FILTER (WHERE dv.timestamp > l.ts - 7 * $1), 0) AS day7_volume,
				COALESCE(SUM(dv.volume) FILTER (WHERE dv.timestamp > l.ts - 30 * $1), 0) AS day30_volume,
				SUM(dv.volume) AS all_time_volume
			FROM daily_volumes dv
			CROSS JOIN latest l
			GROUP BY dv.collection_id
		),
		ranked AS (
			SELECT
				t.*,
				RANK() OVER (ORDER BY t.day1_volume DESC) AS day1_rank,
				RANK() OVER (ORDER BY t.day7_volume DESC) AS day7_rank,
				RANK() OVER (ORDER BY t.day30_volume DESC) AS day30_rank,
				RANK() OVER (ORDER BY t.all_time_volume DESC) AS all_time_rank
			FROM totals t
		)
		UPDATE collections c SET
			day1_volume = r.day1_volume,
			day1_rank = r.day1_rank,
			day7_volume = r.day7_volume,
			day7_rank = r.day7_rank,
			day30_volume = r.day30_volume,
			day30_rank = r.day30_rank,
			all_time_volume = r.all_time_volume,
			all_time_rank = r.all_time_rank,
			updated_at = now()
		FROM ranked r
		WHERE c.id = r.collection_id
	`, model.SecondsPerDay)
	if err != nil {
		return 0, fmt.Errorf("update collection volumes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

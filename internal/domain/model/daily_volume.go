package model

import "time"

const SecondsPerDay = 24 * 60 * 60

// DailyVolume is the per-collection aggregate for one UTC day bucket.
type DailyVolume struct {
	CollectionID string `db:"collection_id"`
	Timestamp    int64  `db:"timestamp"`
	Volume       string `db:"volume"`
	Rank         int    `db:"rank"`
	SalesCount   int64  `db:"sales_count"`
}

// DayStart truncates a unix timestamp to 00:00:00 UTC of its day.
func DayStart(unix int64) int64 {
	return unix - unix%SecondsPerDay
}

// PreviousDayStart returns the start of the UTC day before now.
func PreviousDayStart(now time.Time) int64 {
	return DayStart(now.UTC().Unix()) - SecondsPerDay
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mattetre/reservoir-indexer/internal/alert"
	"github.com/mattetre/reservoir-indexer/internal/metrics"
)

const dbPoolExhaustionThreshold = 0.8

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open         prometheus.Gauge
	inUse        prometheus.Gauge
	idle         prometheus.Gauge
	waitCount    prometheus.Gauge
	waitDuration prometheus.Gauge
}

func collectDBPoolStats(db dbStatsProvider, gauges dbPoolStatsGauges) (stats sql.DBStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return sql.DBStats{}, fmt.Errorf("db stats provider is nil")
	}

	stats = db.Stats()
	gauges.open.Set(float64(stats.OpenConnections))
	gauges.inUse.Set(float64(stats.InUse))
	gauges.idle.Set(float64(stats.Idle))
	gauges.waitCount.Set(float64(stats.WaitCount))
	gauges.waitDuration.Set(stats.WaitDuration.Seconds())
	return stats, nil
}

// poolExhausted reports whether in-use connections exceed the alert
// threshold. An unlimited pool never is.
func poolExhausted(stats sql.DBStats) (bool, float64) {
	if stats.MaxOpenConnections <= 0 {
		return false, 0
	}
	usage := float64(stats.InUse) / float64(stats.MaxOpenConnections)
	return usage > dbPoolExhaustionThreshold, usage
}

func poolExhaustionAlert(stats sql.DBStats, usage float64) alert.Alert {
	return alert.Alert{
		Type:    alert.AlertTypeDBPool,
		Source:  "postgres",
		Title:   "DB connection pool near exhaustion",
		Message: fmt.Sprintf("Pool usage: %d/%d (%.0f%%)", stats.InUse, stats.MaxOpenConnections, usage*100),
		Fields: map[string]string{
			"in_use":     strconv.Itoa(stats.InUse),
			"max_open":   strconv.Itoa(stats.MaxOpenConnections),
			"wait_count": strconv.FormatInt(stats.WaitCount, 10),
		},
	}
}

func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider, intervalMS int, alerter alert.Alerter, logger *slog.Logger) {
	if db == nil || intervalMS <= 0 {
		return
	}
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}

	gauges := dbPoolStatsGauges{
		open:         metrics.DBPoolOpen,
		inUse:        metrics.DBPoolInUse,
		idle:         metrics.DBPoolIdle,
		waitCount:    metrics.DBPoolWaitCount,
		waitDuration: metrics.DBPoolWaitDurationSeconds,
	}

	sample := func(initial bool) {
		stats, err := collectDBPoolStats(db, gauges)
		if err != nil {
			if initial {
				logger.Warn("failed to collect initial db pool stats", "error", err)
			} else {
				logger.Warn("failed to collect db pool stats", "error", err)
			}
			return
		}
		if exhausted, usage := poolExhausted(stats); exhausted {
			if err := alerter.Send(ctx, poolExhaustionAlert(stats, usage)); err != nil {
				logger.Warn("db pool alert failed", "error", err)
			}
		}
	}

	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)
	go func() {
		defer ticker.Stop()

		sample(true)
		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				sample(false)
			}
		}
	}()
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattetre/reservoir-indexer/internal/metrics"
)

const (
	defaultSchedulerInterval = time.Second
	promoteBatchSize         = 1000
	reapBatchSize            = 100
)

var errLeaseExpired = errors.New("job lease expired (stalled)")

// Scheduler moves due delayed jobs to the wait list and fails jobs whose
// worker stopped renewing the lease. Every mutation is a single script, so any
// number of schedulers may run against the same queue.
type Scheduler struct {
	queue    *Queue
	interval time.Duration
	sink     FailureSink
	logger   *slog.Logger
}

func NewScheduler(q *Queue, interval time.Duration, sink FailureSink, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	return &Scheduler{
		queue:    q,
		interval: interval,
		sink:     sink,
		logger:   logger.With("component", "scheduler", "queue", q.Name()),
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("scheduler tick failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	if _, err := s.promoteDue(ctx); err != nil {
		return err
	}
	_, err := s.reapStalled(ctx)
	return err
}

func (s *Scheduler) promoteDue(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.queue.promote(ctx, promoteBatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n > 0 {
			metrics.QueueJobsPromoted.WithLabelValues(s.queue.Name()).Add(float64(n))
		}
		if n < promoteBatchSize {
			return total, nil
		}
	}
}

// reapStalled sends every job whose lease expired through the failure path,
// consuming one attempt.
func (s *Scheduler) reapStalled(ctx context.Context) (int, error) {
	now := s.queue.clock()
	ids, err := s.queue.expiredLeases(ctx, now, reapBatchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		job, err := s.queue.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			if err := s.queue.client.ZRem(ctx, s.queue.activeKey(), id).Err(); err != nil {
				return reaped, fmt.Errorf("drop orphaned active id %s: %w", id, err)
			}
			continue
		}
		if err != nil {
			return reaped, err
		}

		outcome, err := s.queue.moveToFailed(ctx, job, errLeaseExpired, false, now)
		if err != nil {
			return reaped, err
		}
		if outcome == FailNotOwned {
			continue
		}

		reaped++
		metrics.QueueJobsStalled.WithLabelValues(s.queue.Name()).Inc()
		s.logger.Warn("stalled job reaped", "job_id", id, "attempts_made", job.AttemptsMade, "outcome", outcome.String())

		if outcome == FailDeadLettered {
			metrics.QueueJobsDeadLettered.WithLabelValues(s.queue.Name()).Inc()
			if s.sink != nil {
				s.sink.DeadLettered(ctx, job, errLeaseExpired)
			}
		}
	}
	return reaped, nil
}

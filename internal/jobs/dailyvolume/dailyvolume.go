// Package dailyvolume aggregates fills into per-collection daily volumes and
// rolls them up into the collections table once every queued day is done.
package dailyvolume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/metrics"
	"github.com/mattetre/reservoir-indexer/internal/queue"
	"github.com/mattetre/reservoir-indexer/internal/store"
	redisstore "github.com/mattetre/reservoir-indexer/internal/store/redis"
)

const (
	QueueName   = "calculate-daily-volumes"
	Concurrency = 1

	FinalizeLockKey = "daily-volumes-finalize"
	finalizeLockTTL = 5 * time.Minute
)

func DefaultOptions() queue.Options {
	return queue.Options{
		Attempts:         10,
		Backoff:          queue.Backoff{Type: queue.BackoffExponential, Delay: 10 * time.Second},
		RemoveOnComplete: queue.Retention{Remove: true},
		RemoveOnFail:     queue.Retention{Keep: 10000},
		Timeout:          60 * time.Second,
	}
}

// Payload is the job body. StartTime is the unix second at 00:00 UTC of the day.
type Payload struct {
	StartTime int64 `json:"startTime"`
	// IgnoreInsertedRows recalculates days that already have rows. Absent means true.
	IgnoreInsertedRows *bool `json:"ignoreInsertedRows,omitempty"`
}

func (p Payload) recalculate() bool {
	return p.IgnoreInsertedRows == nil || *p.IgnoreInsertedRows
}

type Enqueuer interface {
	Add(ctx context.Context, id string, payload any, opts ...queue.Option) (bool, error)
}

type Producer struct {
	queue   Enqueuer
	tracker *Tracker
	now     func() time.Time
}

func NewProducer(q Enqueuer, tracker *Tracker) *Producer {
	return &Producer{queue: q, tracker: tracker, now: time.Now}
}

// AddToQueue schedules the aggregation of one day. A nil startTime means the
// previous UTC day. It returns the normalized day start.
func (p *Producer) AddToQueue(ctx context.Context, startTime *int64, ignoreInsertedRows bool) (int64, error) {
	day := model.PreviousDayStart(p.now())
	if startTime != nil {
		day = model.DayStart(*startTime)
	}

	id := queue.NewJobID()
	if err := p.tracker.AddPending(ctx, id); err != nil {
		return 0, err
	}
	payload := Payload{StartTime: day, IgnoreInsertedRows: &ignoreInsertedRows}
	if _, err := p.queue.Add(ctx, id, payload); err != nil {
		_ = p.tracker.Forget(ctx, id)
		return 0, fmt.Errorf("enqueue daily volume for %d: %w", day, err)
	}
	return day, nil
}

// Locker is the part of the lock service the handler needs.
type Locker interface {
	Acquire(ctx context.Context, keys []string, ttl time.Duration) (redisstore.LockResult, error)
}

type Handler struct {
	volumes     store.DailyVolumeRepository
	tracker     *Tracker
	locker      Locker
	extendEvery time.Duration
	logger      *slog.Logger
}

func NewHandler(volumes store.DailyVolumeRepository, tracker *Tracker, locker Locker, logger *slog.Logger) *Handler {
	return &Handler{
		volumes:     volumes,
		tracker:     tracker,
		locker:      locker,
		extendEvery: finalizeLockTTL / 3,
		logger:      logger.With("component", "daily_volumes"),
	}
}

func (h *Handler) Handle(ctx context.Context, job *queue.Job) error {
	var p Payload
	if err := job.Decode(&p); err != nil {
		return err
	}
	day := model.DayStart(p.StartTime)

	if err := h.calculate(ctx, day, p.recalculate()); err != nil {
		return err
	}

	remaining, err := h.tracker.Tick(ctx, job.ID)
	if err != nil {
		return err
	}
	metrics.DailyVolumePendingDays.Set(float64(remaining))
	if remaining > 0 {
		return nil
	}
	return h.finalize(ctx)
}

func (h *Handler) calculate(ctx context.Context, day int64, recalculate bool) error {
	if !recalculate {
		exists, err := h.volumes.ExistsForDay(ctx, day)
		if err != nil {
			return fmt.Errorf("check daily volume for %d: %w", day, err)
		}
		if exists {
			metrics.DailyVolumeDaysCalculated.WithLabelValues("skipped").Inc()
			h.logger.Info("daily volume already calculated, skipping", "day", day)
			return nil
		}
	}

	rows, err := h.volumes.CalculateDay(ctx, day)
	if err != nil {
		return fmt.Errorf("calculate daily volume for %d: %w", day, err)
	}
	metrics.DailyVolumeDaysCalculated.WithLabelValues("calculated").Inc()
	h.logger.Info("daily volume calculated", "day", day, "collections", rows)
	return nil
}

// finalize rolls the daily volumes up into collections. Only the holder of
// the finalize lock does it; a busy lock means another worker already is.
func (h *Handler) finalize(ctx context.Context) error {
	res, err := h.locker.Acquire(ctx, []string{FinalizeLockKey}, finalizeLockTTL)
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", FinalizeLockKey, err)
	}
	if !res.Acquired() {
		h.logger.Info("collection roll-up already running, skipping")
		return nil
	}
	stop := h.keepAlive(ctx, res.Lock)
	defer func() {
		stop()
		if err := res.Lock.Release(context.WithoutCancel(ctx)); err != nil {
			h.logger.Warn("release finalize lock failed", "error", err)
		}
	}()

	h.logger.Info("all daily volumes processed, updating collections")
	n, err := h.volumes.UpdateCollections(ctx)
	if err != nil {
		return fmt.Errorf("update collection volumes: %w", err)
	}
	metrics.DailyVolumeFinalizations.Inc()
	h.logger.Info("collection volumes updated", "collections", n)
	return nil
}

// keepAlive extends lock by finalizeLockTTL every extendEvery until stop
// returns.
func (h *Handler) keepAlive(ctx context.Context, lock *redisstore.Lock) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(h.extendEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := lock.Extend(ctx, finalizeLockTTL)
			if err == nil || ctx.Err() != nil {
				continue
			}
			h.logger.Warn("extend finalize lock failed", "error", err)
			if errors.Is(err, redisstore.ErrLockNotHeld) {
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

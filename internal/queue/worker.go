package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mattetre/reservoir-indexer/internal/metrics"
	"github.com/mattetre/reservoir-indexer/internal/retry"
	"github.com/mattetre/reservoir-indexer/internal/tracing"
)

const (
	tracerName          = "reservoir-indexer/queue"
	defaultPollInterval = 500 * time.Millisecond
	defaultLockDuration = 30 * time.Second
)

// ErrJobTimeout is the failure recorded for a job whose handler outlived
// Options.Timeout.
var ErrJobTimeout = errors.New("job timed out")

// Handler processes one job. Returning an error fails the attempt; wrapping
// it with retry.Terminal skips the remaining attempts.
type Handler func(ctx context.Context, job *Job) error

// FailureSink receives jobs that exhausted their attempts.
type FailureSink interface {
	DeadLettered(ctx context.Context, job *Job, cause error)
}

// Worker consumes one queue with a bounded number of concurrent handlers.
type Worker struct {
	queue        *Queue
	handler      Handler
	concurrency  int
	pollInterval time.Duration
	lockDuration time.Duration
	drainTimeout time.Duration
	sink         FailureSink
	logger       *slog.Logger
}

type WorkerOption func(*Worker)

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithLockDuration sets the lease length of active jobs. Leases are renewed
// every half period while the handler runs.
func WithLockDuration(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lockDuration = d
		}
	}
}

// WithDrainTimeout bounds how long Run waits for in-flight handlers after
// its context is cancelled before aborting them. Zero waits indefinitely.
func WithDrainTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.drainTimeout = d }
}

func WithFailureSink(sink FailureSink) WorkerOption {
	return func(w *Worker) { w.sink = sink }
}

func NewWorker(q *Queue, concurrency int, handler Handler, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	w := &Worker{
		queue:        q,
		handler:      handler,
		concurrency:  concurrency,
		pollInterval: defaultPollInterval,
		lockDuration: defaultLockDuration,
		logger:       logger.With("component", "worker", "queue", q.Name()),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Run fetches and processes jobs until ctx is cancelled, then drains
// in-flight handlers.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.concurrency)

	jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	slots := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			w.drain(&wg, abort)
			return ctx.Err()
		case slots <- struct{}{}:
		}

		job, err := w.queue.fetch(ctx, w.lockDuration)
		if err != nil || job == nil {
			<-slots
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("fetch job failed", "error", err)
			}
			w.idle(ctx)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.process(jobCtx, job)
		}()
	}
}

func (w *Worker) idle(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) drain(wg *sync.WaitGroup, abort context.CancelFunc) {
	w.logger.Info("worker stopping, draining in-flight jobs")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if w.drainTimeout <= 0 {
		<-done
		return
	}

	t := time.NewTimer(w.drainTimeout)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		w.logger.Warn("drain timeout exceeded, aborting in-flight jobs", "timeout", w.drainTimeout)
		abort()
		<-done
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	name := w.queue.Name()
	start := time.Now()

	metrics.QueueJobsActive.WithLabelValues(name).Inc()
	defer metrics.QueueJobsActive.WithLabelValues(name).Dec()

	spanCtx, span := tracing.StartSpan(ctx, tracerName, "queue.process",
		attribute.String("queue", name),
		attribute.String("job.id", job.ID),
		attribute.Int("job.attempt", job.AttemptsMade+1),
	)

	pending, err := w.execute(spanCtx, job)
	if ctx.Err() != nil {
		// Aborted by shutdown; the expired lease sends it back through the scheduler.
		w.logger.Warn("job aborted during shutdown", "job_id", job.ID)
		if pending != nil {
			<-pending
		}
		tracing.EndSpan(span, ctx.Err())
		return
	}

	w.settle(ctx, job, err)
	metrics.QueueJobLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	tracing.EndSpan(span, err)

	if pending != nil {
		<-pending
	}
}

// execute runs the handler under the job timeout while renewing the lease.
// After a timeout the returned channel closes once the handler has returned.
func (w *Worker) execute(ctx context.Context, job *Job) (<-chan struct{}, error) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if job.Options.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Options.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	result := make(chan error, 1)
	go func() { result <- w.invoke(runCtx, job) }()

	renew := time.NewTicker(w.lockDuration / 2)
	defer renew.Stop()

	for {
		select {
		case err := <-result:
			cancel()
			return nil, err
		case <-renew.C:
			if ok, err := w.queue.extendLease(ctx, job.ID, w.lockDuration); err != nil {
				w.logger.Warn("extend job lease failed", "job_id", job.ID, "error", err)
			} else if !ok {
				w.logger.Warn("job lease lost", "job_id", job.ID)
			}
		case <-runCtx.Done():
			if !errors.Is(runCtx.Err(), context.DeadlineExceeded) || ctx.Err() != nil {
				err := <-result
				cancel()
				return nil, err
			}
			pending := make(chan struct{})
			go func() {
				<-result
				cancel()
				close(pending)
			}()
			return pending, fmt.Errorf("%w after %s", ErrJobTimeout, job.Options.Timeout)
		}
	}
}

func (w *Worker) invoke(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

func (w *Worker) settle(ctx context.Context, job *Job, err error) {
	name := w.queue.Name()

	if err == nil {
		ok, cerr := w.queue.complete(ctx, job)
		if cerr != nil {
			w.logger.Error("complete job failed", "job_id", job.ID, "error", cerr)
			return
		}
		if !ok {
			w.logger.Warn("job lease lost before completion", "job_id", job.ID)
			return
		}
		metrics.QueueJobsCompleted.WithLabelValues(name).Inc()
		return
	}

	decision := retry.Classify(err)
	metrics.QueueJobsFailed.WithLabelValues(name, decision.Reason).Inc()

	outcome, ferr := w.queue.moveToFailed(ctx, job, err, retry.IsExplicitTerminal(err), time.Time{})
	if ferr != nil {
		w.logger.Error("record job failure failed", "job_id", job.ID, "error", ferr, "cause", err)
		return
	}

	switch outcome {
	case FailRetried:
		metrics.QueueJobsRetried.WithLabelValues(name).Inc()
		w.logger.Warn("job failed, retry scheduled",
			"job_id", job.ID,
			"attempts_made", job.AttemptsMade,
			"attempts", job.Options.Attempts,
			"reason", decision.Reason,
			"error", err,
		)
	case FailDeadLettered:
		metrics.QueueJobsDeadLettered.WithLabelValues(name).Inc()
		w.logger.Error("job failed permanently",
			"job_id", job.ID,
			"attempts_made", job.AttemptsMade,
			"reason", decision.Reason,
			"error", err,
		)
		if w.sink != nil {
			w.sink.DeadLettered(ctx, job, err)
		}
	case FailNotOwned:
		w.logger.Warn("job lease lost before failure was recorded", "job_id", job.ID, "error", err)
	}
}

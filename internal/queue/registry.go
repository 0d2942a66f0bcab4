package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownQueue is returned for names that were never registered.
var ErrUnknownQueue = errors.New("unknown queue")

type RegistryConfig struct {
	PollInterval      time.Duration
	LockDuration      time.Duration
	SchedulerInterval time.Duration
	ShutdownTimeout   time.Duration
}

// Registry owns every queue of the process. It is built once at startup and
// passed explicitly to producers and to the admin API.
type Registry struct {
	mu      sync.RWMutex
	client  redis.UniversalClient
	cfg     RegistryConfig
	sink    FailureSink
	clock   func() time.Time
	logger  *slog.Logger
	queues  map[string]*Queue
	workers map[string]*Worker
}

type RegistryOption func(*Registry)

// WithDeadLetterSink routes jobs that exhausted their attempts to sink.
func WithDeadLetterSink(sink FailureSink) RegistryOption {
	return func(r *Registry) { r.sink = sink }
}

func NewRegistry(client redis.UniversalClient, cfg RegistryConfig, logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		client:  client,
		cfg:     cfg,
		clock:   time.Now,
		logger:  logger.With("component", "queue_registry"),
		queues:  make(map[string]*Queue),
		workers: make(map[string]*Worker),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register declares a queue with its default job options. Registering an
// existing name returns the queue created first.
func (r *Registry) Register(name string, defaults Options) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if q, ok := r.queues[name]; ok {
		return q
	}
	q := newQueue(name, r.client, defaults.apply(nil))
	q.clock = r.clock
	r.queues[name] = q
	return q
}

func (r *Registry) Queue(name string) (*Queue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return q, nil
}

// Queues returns all registered queues ordered by name.
func (r *Registry) Queues() []*Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// RegisterWorker attaches a consumer with the given concurrency to a
// registered queue. A queue has at most one worker per process.
func (r *Registry) RegisterWorker(name string, concurrency int, handler Handler) error {
	q, err := r.Queue(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.workers[name]; ok {
		return fmt.Errorf("worker for queue %s already registered", name)
	}
	r.workers[name] = NewWorker(q, concurrency, handler, r.logger,
		WithPollInterval(r.cfg.PollInterval),
		WithLockDuration(r.cfg.LockDuration),
		WithDrainTimeout(r.cfg.ShutdownTimeout),
		WithFailureSink(r.sink),
	)
	return nil
}

// Run starts every worker and one scheduler per queue, and blocks until ctx
// is cancelled and in-flight jobs have drained.
func (r *Registry) Run(ctx context.Context) error {
	queues := r.Queues()

	r.mu.RLock()
	workers := make([]*Worker, 0, len(r.workers))
	for _, w := range r.workers {
		workers = append(workers, w)
	}
	r.mu.RUnlock()

	r.logger.Info("queue registry started", "queues", len(queues), "workers", len(workers))

	g, gCtx := errgroup.WithContext(ctx)
	for _, q := range queues {
		s := NewScheduler(q, r.cfg.SchedulerInterval, r.sink, r.logger)
		g.Go(func() error { return ignoreCanceled(s.Run(gCtx)) })
	}
	for _, w := range workers {
		g.Go(func() error { return ignoreCanceled(w.Run(gCtx)) })
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

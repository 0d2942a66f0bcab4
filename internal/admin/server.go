package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattetre/reservoir-indexer/internal/cache"
	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/queue"
	"github.com/mattetre/reservoir-indexer/internal/store"
)

const (
	maxRequestBodyBytes = 1 << 20 // 1 MB

	defaultAttributesCacheSize = 1000
	defaultAttributesCacheTTL  = time.Minute
	healthCheckTimeout         = 3 * time.Second
)

// QueueInspector exposes the registered queues. *queue.Registry satisfies it.
type QueueInspector interface {
	Queues() []*queue.Queue
	Queue(name string) (*queue.Queue, error)
}

// DailyVolumeScheduler enqueues the aggregation of one day.
type DailyVolumeScheduler interface {
	AddToQueue(ctx context.Context, startTime *int64, ignoreInsertedRows bool) (int64, error)
}

// ResyncStarter kicks off an orders source resync. It reports false when a
// pass was already started recently.
type ResyncStarter func(ctx context.Context) (bool, error)

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// Server provides the read-only query surface and the operational admin API.
type Server struct {
	attributes  store.AttributeRepository
	attrCache   *cache.LRU[string, []model.StaticAttribute]
	queues      QueueInspector
	dailyVolume DailyVolumeScheduler
	resync      ResyncStarter
	checks      map[string]HealthCheck
	logger      *slog.Logger

	cacheSize int
	cacheTTL  time.Duration
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithAttributesCache sizes the static attributes response cache.
func WithAttributesCache(size int, ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.cacheSize = size
		s.cacheTTL = ttl
	}
}

// WithDailyVolumeScheduler enables POST /admin/v1/daily-volumes.
func WithDailyVolumeScheduler(d DailyVolumeScheduler) ServerOption {
	return func(s *Server) { s.dailyVolume = d }
}

// WithResyncStarter enables POST /admin/v1/resync/orders-source.
func WithResyncStarter(fn ResyncStarter) ServerOption {
	return func(s *Server) { s.resync = fn }
}

// WithHealthCheck registers a dependency check reported by /healthz.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer creates the HTTP server. queues may be nil when the process runs
// no queues.
func NewServer(attributes store.AttributeRepository, queues QueueInspector, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		attributes: attributes,
		queues:     queues,
		checks:     make(map[string]HealthCheck),
		logger:     logger.With("component", "admin"),
		cacheSize:  defaultAttributesCacheSize,
		cacheTTL:   defaultAttributesCacheTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.attrCache = cache.NewLRU[string, []model.StaticAttribute](s.cacheSize, s.cacheTTL)
	return s
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{collection}/attributes/static/v1", s.handleStaticAttributes)

	mux.HandleFunc("GET /admin/v1/queues", s.handleListQueues)
	mux.HandleFunc("GET /admin/v1/queues/{name}/failed", s.handleListFailed)
	mux.HandleFunc("POST /admin/v1/queues/{name}/jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("POST /admin/v1/daily-volumes", s.handleScheduleDailyVolume)
	mux.HandleFunc("POST /admin/v1/resync/orders-source", s.handleStartResync)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v. An empty body
// leaves v untouched. Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("health check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

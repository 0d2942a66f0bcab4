package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/mattetre/reservoir-indexer/internal/queue"
)

const maxFailedLimit = 1000

type queueCountsResponse struct {
	Name string `json:"name"`
	queue.Counts
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	if s.queues == nil {
		http.Error(w, `{"error":"queues not available"}`, http.StatusServiceUnavailable)
		return
	}

	queues := s.queues.Queues()
	resp := make([]queueCountsResponse, 0, len(queues))
	for _, q := range queues {
		counts, err := q.Counts(r.Context())
		if err != nil {
			s.logger.Error("count queue jobs failed", "queue", q.Name(), "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			return
		}
		resp = append(resp, queueCountsResponse{Name: q.Name(), Counts: counts})
	}
	writeJSON(w, http.StatusOK, resp)
}

// lookupQueue resolves the {name} path value. Returns nil (and writes an
// error response) when the queue is unknown.
func (s *Server) lookupQueue(w http.ResponseWriter, r *http.Request) *queue.Queue {
	if s.queues == nil {
		http.Error(w, `{"error":"queues not available"}`, http.StatusServiceUnavailable)
		return nil
	}
	q, err := s.queues.Queue(r.PathValue("name"))
	if err != nil {
		http.Error(w, `{"error":"queue not found"}`, http.StatusNotFound)
		return nil
	}
	return q
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	q := s.lookupQueue(w, r)
	if q == nil {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxFailedLimit {
			http.Error(w, `{"error":"limit must be within [1, 1000]"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	jobs, err := q.Failed(r.Context(), limit)
	if err != nil {
		s.logger.Error("list failed jobs failed", "queue", q.Name(), "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	q := s.lookupQueue(w, r)
	if q == nil {
		return
	}

	id := r.PathValue("id")
	if err := q.Retry(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			http.Error(w, `{"error":"failed job not found"}`, http.StatusNotFound)
			return
		}
		s.logger.Error("retry job failed", "queue", q.Name(), "job_id", id, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("dead-lettered job requeued via admin API", "queue", q.Name(), "job_id", id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type dailyVolumeRequest struct {
	StartTime          *int64 `json:"startTime"`
	IgnoreInsertedRows *bool  `json:"ignoreInsertedRows"`
}

func (s *Server) handleScheduleDailyVolume(w http.ResponseWriter, r *http.Request) {
	if s.dailyVolume == nil {
		http.Error(w, `{"error":"daily volumes not available"}`, http.StatusServiceUnavailable)
		return
	}

	var req dailyVolumeRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.StartTime != nil && *req.StartTime < 0 {
		http.Error(w, `{"error":"startTime must be >= 0"}`, http.StatusBadRequest)
		return
	}
	ignore := true
	if req.IgnoreInsertedRows != nil {
		ignore = *req.IgnoreInsertedRows
	}

	day, err := s.dailyVolume.AddToQueue(r.Context(), req.StartTime, ignore)
	if err != nil {
		s.logger.Error("schedule daily volume failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("daily volume scheduled via admin API", "day", day, "ignore_inserted_rows", ignore)
	writeJSON(w, http.StatusAccepted, map[string]int64{"startTime": day})
}

func (s *Server) handleStartResync(w http.ResponseWriter, r *http.Request) {
	if s.resync == nil {
		http.Error(w, `{"error":"resync not available"}`, http.StatusServiceUnavailable)
		return
	}

	started, err := s.resync(r.Context())
	if err != nil {
		s.logger.Error("start orders source resync failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if !started {
		writeJSON(w, http.StatusConflict, map[string]bool{"started": false})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

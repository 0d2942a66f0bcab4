package alert

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/mattetre/reservoir-indexer/internal/queue"
)

// DeadLetterSink reports jobs that exhausted their attempts.
type DeadLetterSink struct {
	alerter Alerter
	logger  *slog.Logger
}

func NewDeadLetterSink(alerter Alerter, logger *slog.Logger) *DeadLetterSink {
	return &DeadLetterSink{
		alerter: alerter,
		logger:  logger.With("component", "dead_letter_sink"),
	}
}

func (s *DeadLetterSink) DeadLettered(ctx context.Context, job *queue.Job, cause error) {
	err := s.alerter.Send(ctx, Alert{
		Type:    AlertTypeDeadLetter,
		Source:  job.Queue,
		Title:   "Job failed permanently",
		Message: cause.Error(),
		Fields: map[string]string{
			"job_id":        job.ID,
			"attempts_made": strconv.Itoa(job.AttemptsMade),
			"attempts":      strconv.Itoa(job.Options.Attempts),
		},
	})
	if err != nil {
		s.logger.Warn("dead letter alert failed", "queue", job.Queue, "job_id", job.ID, "error", err)
	}
}

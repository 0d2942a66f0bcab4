package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mattetre/reservoir-indexer/internal/retry"
)

type State string

const (
	StateWait      State = "wait"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is one unit of work as stored in the queue.
type Job struct {
	Queue        string          `json:"queue"`
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	Options      Options         `json:"options"`
	AttemptsMade int             `json:"attemptsMade"`
	State        State           `json:"state"`
	Timestamp    time.Time       `json:"timestamp"`
	ProcessedOn  *time.Time      `json:"processedOn,omitempty"`
	FinishedOn   *time.Time      `json:"finishedOn,omitempty"`
	FailedReason string          `json:"failedReason,omitempty"`
}

// NewJobID returns a random id for callers that enqueue distinct work items.
func NewJobID() string {
	return uuid.NewString()
}

// Decode unmarshals the payload into v. A payload that cannot be decoded will
// never succeed on retry, so the error is marked terminal.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return retry.Terminal(fmt.Errorf("decode %s job %s: malformed payload: %w", j.Queue, j.ID, err))
	}
	return nil
}

func jobFromHash(queueName string, fields map[string]string) (*Job, error) {
	job := &Job{
		Queue:        queueName,
		ID:           fields["id"],
		Payload:      json.RawMessage(fields["payload"]),
		State:        State(fields["state"]),
		FailedReason: fields["failedReason"],
	}
	if job.ID == "" {
		return nil, fmt.Errorf("job record missing id")
	}
	if raw := fields["opts"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Options); err != nil {
			return nil, fmt.Errorf("decode options of job %s: %w", job.ID, err)
		}
	}
	if v := fields["attemptsMade"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse attemptsMade of job %s: %w", job.ID, err)
		}
		job.AttemptsMade = n
	}
	if ts, ok := parseMillis(fields["timestamp"]); ok {
		job.Timestamp = ts
	}
	if ts, ok := parseMillis(fields["processedOn"]); ok {
		job.ProcessedOn = &ts
	}
	if ts, ok := parseMillis(fields["finishedOn"]); ok {
		job.FinishedOn = &ts
	}
	return job, nil
}

// hashFromReply converts a flat HGETALL-style script reply into a map.
func hashFromReply(reply []interface{}) map[string]string {
	fields := make(map[string]string, len(reply)/2)
	for i := 0; i+1 < len(reply); i += 2 {
		k, _ := reply[i].(string)
		v, _ := reply[i+1].(string)
		fields[k] = v
	}
	return fields
}

func parseMillis(v string) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

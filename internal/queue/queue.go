package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mattetre/reservoir-indexer/internal/metrics"
)

const keyPrefix = "queue:"

// ErrJobNotFound is returned when a job record does not exist.
var ErrJobNotFound = errors.New("job not found")

// addScript writes the job record and schedules it. An existing record with
// the same id makes the call a no-op.
var addScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'payload', ARGV[2], 'opts', ARGV[3], 'attemptsMade', 0, 'timestamp', ARGV[4])
local runAt = tonumber(ARGV[5])
if runAt > 0 then
	redis.call('HSET', KEYS[1], 'state', 'delayed')
	redis.call('ZADD', KEYS[3], runAt, ARGV[1])
else
	redis.call('HSET', KEYS[1], 'state', 'wait')
	redis.call('LPUSH', KEYS[2], ARGV[1])
end
return 1
`)

// moveToActiveScript pops the oldest waiting job and leases it until ARGV[3].
var moveToActiveScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
local jobKey = ARGV[1] .. id
if redis.call('EXISTS', jobKey) == 0 then
	return {id}
end
redis.call('ZADD', KEYS[2], ARGV[3], id)
redis.call('HSET', jobKey, 'state', 'active', 'processedOn', ARGV[2])
return redis.call('HGETALL', jobKey)
`)

var completeScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
if ARGV[3] == '1' then
	redis.call('DEL', KEYS[3])
	return 1
end
redis.call('HSET', KEYS[3], 'state', 'completed', 'finishedOn', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
local keep = tonumber(ARGV[4])
if keep > 0 then
	local excess = redis.call('ZCARD', KEYS[2]) - keep
	if excess > 0 then
		for _, old in ipairs(redis.call('ZRANGE', KEYS[2], 0, excess - 1)) do
			redis.call('DEL', ARGV[5] .. old)
		end
		redis.call('ZREMRANGEBYRANK', KEYS[2], 0, excess - 1)
	end
end
return 1
`)

// failScript records a failure. ARGV[4] > 0 reschedules the job at that time,
// otherwise it is retained in the failed set. When ARGV[7] > 0 the job is only
// failed if its lease expired before that instant (stall reaping).
var failScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
	return 0
end
local cutoff = tonumber(ARGV[7])
if cutoff > 0 and tonumber(score) > cutoff then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HINCRBY', KEYS[4], 'attemptsMade', 1)
redis.call('HSET', KEYS[4], 'failedReason', ARGV[3])
local retryAt = tonumber(ARGV[4])
if retryAt > 0 then
	redis.call('HSET', KEYS[4], 'state', 'delayed')
	redis.call('ZADD', KEYS[2], retryAt, ARGV[1])
	return 1
end
if ARGV[8] == '1' then
	redis.call('DEL', KEYS[4])
	return 2
end
redis.call('HSET', KEYS[4], 'state', 'failed', 'finishedOn', ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
local keep = tonumber(ARGV[5])
if keep > 0 then
	local excess = redis.call('ZCARD', KEYS[3]) - keep
	if excess > 0 then
		for _, old in ipairs(redis.call('ZRANGE', KEYS[3], 0, excess - 1)) do
			redis.call('DEL', ARGV[6] .. old)
		end
		redis.call('ZREMRANGEBYRANK', KEYS[3], 0, excess - 1)
	end
end
return 2
`)

// promoteScript moves due delayed jobs to the wait list, earliest first.
var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('LPUSH', KEYS[2], id)
	redis.call('HSET', ARGV[3] .. id, 'state', 'wait')
end
return #ids
`)

var extendLeaseScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
	return 1
end
return 0
`)

var retryFailedScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
local jobKey = ARGV[2] .. ARGV[1]
redis.call('HSET', jobKey, 'attemptsMade', 0, 'state', 'wait', 'failedReason', '')
redis.call('HDEL', jobKey, 'finishedOn')
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// FailOutcome describes what a failure did to the job.
type FailOutcome int

const (
	FailNotOwned FailOutcome = iota
	FailRetried
	FailDeadLettered
)

func (o FailOutcome) String() string {
	switch o {
	case FailRetried:
		return "retried"
	case FailDeadLettered:
		return "dead_lettered"
	default:
		return "not_owned"
	}
}

// Queue is a named Redis-backed job queue. Enqueueing only writes the job
// record; handlers run exclusively inside a Worker.
type Queue struct {
	name     string
	client   redis.UniversalClient
	defaults Options
	clock    func() time.Time
}

func newQueue(name string, client redis.UniversalClient, defaults Options) *Queue {
	return &Queue{
		name:     name,
		client:   client,
		defaults: defaults,
		clock:    time.Now,
	}
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) Defaults() Options {
	return q.defaults
}

func (q *Queue) prefix() string { return keyPrefix + q.name + ":" }
func (q *Queue) jobPrefix() string { return q.prefix() + "job:" }
func (q *Queue) jobKey(id string) string { return q.jobPrefix() + id }
func (q *Queue) waitKey() string { return q.prefix() + "wait" }
func (q *Queue) activeKey() string { return q.prefix() + "active" }
func (q *Queue) delayedKey() string { return q.prefix() + "delayed" }
func (q *Queue) completedKey() string { return q.prefix() + "completed" }
func (q *Queue) failedKey() string { return q.prefix() + "failed" }

// Add enqueues payload under id. A job with the same id that still exists
// (waiting, delayed, active or retained) is not enqueued again and added is false.
func (q *Queue) Add(ctx context.Context, id string, payload any, opts ...Option) (bool, error) {
	keys, args, err := q.addArgs(id, payload, opts)
	if err != nil {
		return false, err
	}
	n, err := addScript.Run(ctx, q.client, keys, args...).Int()
	if err != nil {
		return false, fmt.Errorf("add job %s to %s: %w", id, q.name, err)
	}
	q.recordAdd(n == 1)
	return n == 1, nil
}

// BulkJob is one entry of AddBulk.
type BulkJob struct {
	ID      string
	Payload any
	Options []Option
}

// AddBulk enqueues jobs in one pipeline round trip and reports which were added.
func (q *Queue) AddBulk(ctx context.Context, jobs []BulkJob) ([]bool, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.Cmd, len(jobs))
	for i, j := range jobs {
		keys, args, err := q.addArgs(j.ID, j.Payload, j.Options)
		if err != nil {
			return nil, err
		}
		cmds[i] = addScript.Eval(ctx, pipe, keys, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("add %d jobs to %s: %w", len(jobs), q.name, err)
	}

	added := make([]bool, len(jobs))
	for i, cmd := range cmds {
		n, err := cmd.Int()
		if err != nil {
			return nil, fmt.Errorf("add job %s to %s: %w", jobs[i].ID, q.name, err)
		}
		added[i] = n == 1
		q.recordAdd(added[i])
	}
	return added, nil
}

func (q *Queue) addArgs(id string, payload any, opts []Option) ([]string, []interface{}, error) {
	if id == "" {
		return nil, nil, fmt.Errorf("add job to %s: empty job id", q.name)
	}
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload of job %s: %w", id, err)
	}
	options := q.defaults.apply(opts)
	encodedOpts, err := json.Marshal(options)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal options of job %s: %w", id, err)
	}

	now := q.clock()
	var runAt int64
	if options.Delay > 0 {
		runAt = now.Add(options.Delay).UnixMilli()
	}

	keys := []string{q.jobKey(id), q.waitKey(), q.delayedKey()}
	args := []interface{}{id, string(data), string(encodedOpts), now.UnixMilli(), runAt}
	return keys, args, nil
}

func (q *Queue) recordAdd(added bool) {
	if added {
		metrics.QueueJobsEnqueued.WithLabelValues(q.name).Inc()
	} else {
		metrics.QueueJobsDeduplicated.WithLabelValues(q.name).Inc()
	}
}

func marshalPayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	case nil:
		return []byte("{}"), nil
	}
	return json.Marshal(payload)
}

// fetch leases the next waiting job, or returns nil when the wait list is empty.
func (q *Queue) fetch(ctx context.Context, lease time.Duration) (*Job, error) {
	for {
		now := q.clock()
		reply, err := moveToActiveScript.Run(ctx, q.client,
			[]string{q.waitKey(), q.activeKey()},
			q.jobPrefix(), now.UnixMilli(), now.Add(lease).UnixMilli(),
		).Slice()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch job from %s: %w", q.name, err)
		}
		if len(reply) < 2 {
			// The id pointed at a record that no longer exists.
			continue
		}
		return jobFromHash(q.name, hashFromReply(reply))
	}
}

func (q *Queue) complete(ctx context.Context, job *Job) (bool, error) {
	retention := job.Options.RemoveOnComplete
	remove := "0"
	if retention.Remove {
		remove = "1"
	}
	n, err := completeScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.completedKey(), q.jobKey(job.ID)},
		job.ID, q.clock().UnixMilli(), remove, retention.Keep, q.jobPrefix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("complete job %s in %s: %w", job.ID, q.name, err)
	}
	return n == 1, nil
}

// moveToFailed records cause against job. Unless unrecoverable is set, the job
// is rescheduled with backoff while attempts remain. leaseCutoff > 0 restricts
// the transition to jobs whose lease expired before that instant.
func (q *Queue) moveToFailed(ctx context.Context, job *Job, cause error, unrecoverable bool, leaseCutoff time.Time) (FailOutcome, error) {
	now := q.clock()
	attemptsMade := job.AttemptsMade + 1

	var retryAt int64
	if !unrecoverable && attemptsMade < job.Options.Attempts {
		retryAt = now.Add(job.Options.Backoff.Duration(attemptsMade)).UnixMilli()
	}

	var cutoff int64
	if !leaseCutoff.IsZero() {
		cutoff = leaseCutoff.UnixMilli()
	}

	remove := "0"
	if job.Options.RemoveOnFail.Remove {
		remove = "1"
	}

	n, err := failScript.Run(ctx, q.client,
		[]string{q.activeKey(), q.delayedKey(), q.failedKey(), q.jobKey(job.ID)},
		job.ID, now.UnixMilli(), cause.Error(), retryAt, job.Options.RemoveOnFail.Keep, q.jobPrefix(), cutoff, remove,
	).Int()
	if err != nil {
		return FailNotOwned, fmt.Errorf("fail job %s in %s: %w", job.ID, q.name, err)
	}
	job.AttemptsMade = attemptsMade
	job.FailedReason = cause.Error()
	return FailOutcome(n), nil
}

func (q *Queue) extendLease(ctx context.Context, id string, lease time.Duration) (bool, error) {
	n, err := extendLeaseScript.Run(ctx, q.client,
		[]string{q.activeKey()},
		id, q.clock().Add(lease).UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("extend lease of job %s in %s: %w", id, q.name, err)
	}
	return n == 1, nil
}

// promote moves at most limit due delayed jobs to the wait list.
func (q *Queue) promote(ctx context.Context, limit int) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.delayedKey(), q.waitKey()},
		q.clock().UnixMilli(), limit, q.jobPrefix(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs in %s: %w", q.name, err)
	}
	return n, nil
}

// expiredLeases returns ids of active jobs whose lease ended before now.
func (q *Queue) expiredLeases(ctx context.Context, now time.Time, limit int) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.activeKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired leases in %s: %w", q.name, err)
	}
	return ids, nil
}

// GetJob loads a job record by id.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s from %s: %w", id, q.name, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(q.name, fields)
}

// Counts reports the number of jobs per state.
type Counts struct {
	Wait      int64 `json:"wait"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	wait := pipe.LLen(ctx, q.waitKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	active := pipe.ZCard(ctx, q.activeKey())
	completed := pipe.ZCard(ctx, q.completedKey())
	failed := pipe.ZCard(ctx, q.failedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("count jobs in %s: %w", q.name, err)
	}
	return Counts{
		Wait:      wait.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Failed returns up to limit dead-lettered jobs, newest first.
func (q *Queue) Failed(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := q.client.ZRevRange(ctx, q.failedKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list failed jobs in %s: %w", q.name, err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Retry moves a dead-lettered job back to the wait list with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	n, err := retryFailedScript.Run(ctx, q.client,
		[]string{q.failedKey(), q.waitKey()},
		id, q.jobPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("retry job %s in %s: %w", id, q.name, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

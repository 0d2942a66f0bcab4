package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mattetre/reservoir-indexer/internal/metrics"
)

const lockKeyPrefix = "lock:"

// ErrLockNotHeld is returned by Extend when the lease already expired or was taken over.
var ErrLockNotHeld = errors.New("lock not held")

// acquireScript sets every key or none. A single held key makes the whole acquisition fail.
var acquireScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	if redis.call('EXISTS', key) == 1 then
		return 0
	end
end
for _, key in ipairs(KEYS) do
	redis.call('SET', key, ARGV[1], 'PX', ARGV[2])
end
return 1
`)

var releaseScript = redis.NewScript(`
local released = 0
for _, key in ipairs(KEYS) do
	if redis.call('GET', key) == ARGV[1] then
		released = released + redis.call('DEL', key)
	end
end
return released
`)

var extendScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	if redis.call('GET', key) ~= ARGV[1] then
		return 0
	end
end
for _, key in ipairs(KEYS) do
	redis.call('PEXPIRE', key, ARGV[2])
end
return 1
`)

type Outcome int

const (
	OutcomeBusy Outcome = iota
	OutcomeAcquired
)

func (o Outcome) String() string {
	if o == OutcomeAcquired {
		return "acquired"
	}
	return "busy"
}

// LockResult is either Acquired (Lock is set) or Busy (someone else holds at least one key).
type LockResult struct {
	Outcome Outcome
	Lock    *Lock
}

func (r LockResult) Acquired() bool {
	return r.Outcome == OutcomeAcquired && r.Lock != nil
}

// Locker hands out fleet-wide, lease-based exclusive locks over a set of resource names.
type Locker struct {
	client redis.UniversalClient
}

func NewLocker(client redis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// Acquire atomically takes every resource in keys for ttl. A Busy result is a
// normal outcome; err is only set when Redis could not be reached.
func (l *Locker) Acquire(ctx context.Context, keys []string, ttl time.Duration) (LockResult, error) {
	if len(keys) == 0 {
		return LockResult{}, fmt.Errorf("acquire lock: no keys")
	}
	if ttl <= 0 {
		return LockResult{}, fmt.Errorf("acquire lock: ttl must be positive")
	}

	redisKeys := lockKeys(keys)
	token := uuid.NewString()

	ok, err := acquireScript.Run(ctx, l.client, redisKeys, token, strconv.FormatInt(ttl.Milliseconds(), 10)).Int()
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		return LockResult{}, fmt.Errorf("acquire lock %v: %w", keys, err)
	}
	if ok == 0 {
		metrics.LockAcquisitions.WithLabelValues(OutcomeBusy.String()).Inc()
		return LockResult{Outcome: OutcomeBusy}, nil
	}

	metrics.LockAcquisitions.WithLabelValues(OutcomeAcquired.String()).Inc()
	return LockResult{
		Outcome: OutcomeAcquired,
		Lock: &Lock{
			client: l.client,
			keys:   redisKeys,
			token:  token,
		},
	}, nil
}

// Lock is a held lease. It expires on its own after the ttl passed to Acquire.
type Lock struct {
	client redis.UniversalClient
	keys   []string
	token  string
}

// Release deletes the keys still owned by this lock. Keys that expired or were
// re-acquired by another owner are left alone.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, l.keys, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %v: %w", l.keys, err)
	}
	return nil
}

// Extend pushes the lease of every key out to ttl from now.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	ok, err := extendScript.Run(ctx, l.client, l.keys, l.token, strconv.FormatInt(ttl.Milliseconds(), 10)).Int()
	if err != nil {
		return fmt.Errorf("extend lock %v: %w", l.keys, err)
	}
	if ok == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func (l *Lock) Keys() []string {
	return l.keys
}

func lockKeys(resources []string) []string {
	keys := make([]string, len(resources))
	for i, r := range resources {
		keys[i] = lockKeyPrefix + r
	}
	return keys
}

package dailyvolume

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingKey = "daily-volumes:pending"

// tickScript removes one job from the pending set, drops entries registered
// before the stale cutoff, and returns what is left.
var tickScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
return redis.call('ZCARD', KEYS[1])
`)

// Tracker counts the aggregation jobs still outstanding so that the collection
// roll-up runs once after the last of them.
type Tracker struct {
	client     redis.UniversalClient
	staleAfter time.Duration
	now        func() time.Time
}

// NewTracker returns a tracker that forgets a pending job after staleAfter,
// which keeps a dead-lettered job from blocking finalization forever.
func NewTracker(client redis.UniversalClient, staleAfter time.Duration) *Tracker {
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	return &Tracker{client: client, staleAfter: staleAfter, now: time.Now}
}

func (t *Tracker) AddPending(ctx context.Context, jobID string) error {
	score := float64(t.now().UnixMilli())
	if err := t.client.ZAdd(ctx, pendingKey, redis.Z{Score: score, Member: jobID}).Err(); err != nil {
		return fmt.Errorf("register pending daily volume job %s: %w", jobID, err)
	}
	return nil
}

func (t *Tracker) Forget(ctx context.Context, jobID string) error {
	if err := t.client.ZRem(ctx, pendingKey, jobID).Err(); err != nil {
		return fmt.Errorf("forget pending daily volume job %s: %w", jobID, err)
	}
	return nil
}

// Tick marks jobID done and returns how many jobs are still pending.
func (t *Tracker) Tick(ctx context.Context, jobID string) (int64, error) {
	cutoff := t.now().Add(-t.staleAfter).UnixMilli()
	remaining, err := tickScript.Run(ctx, t.client, []string{pendingKey}, jobID, strconv.FormatInt(cutoff, 10)).Int64()
	if err != nil {
		return 0, fmt.Errorf("tick daily volume job %s: %w", jobID, err)
	}
	return remaining, nil
}

func (t *Tracker) Pending(ctx context.Context) (int64, error) {
	n, err := t.client.ZCard(ctx, pendingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count pending daily volume jobs: %w", err)
	}
	return n, nil
}

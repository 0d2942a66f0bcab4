package queue

import (
	"math"
	"time"
)

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff computes the delay before a failed job becomes eligible again.
type Backoff struct {
	Type  BackoffType   `json:"type,omitempty"`
	Delay time.Duration `json:"delay,omitempty"`
}

// maxBackoffShift keeps exponential delays from overflowing time.Duration.
const maxBackoffShift = 30

// Duration returns the delay after the attemptsMade-th failure (1-based).
// Exponential backoff doubles the base delay per attempt: Delay * 2^(attemptsMade-1).
func (b Backoff) Duration(attemptsMade int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type != BackoffExponential || attemptsMade <= 1 {
		return b.Delay
	}
	shift := attemptsMade - 1
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	d := b.Delay * time.Duration(1<<uint(shift))
	if d <= 0 || d/time.Duration(1<<uint(shift)) != b.Delay {
		return time.Duration(math.MaxInt64)
	}
	return d
}

// Retention bounds how many finished jobs are kept for inspection.
// Remove deletes the record immediately; otherwise Keep > 0 retains only the
// newest Keep jobs and Keep == 0 retains everything.
type Retention struct {
	Remove bool `json:"remove,omitempty"`
	Keep   int  `json:"keep,omitempty"`
}

type Options struct {
	// Attempts is the total number of executions, including the first.
	Attempts         int           `json:"attempts"`
	Backoff          Backoff       `json:"backoff,omitempty"`
	RemoveOnComplete Retention     `json:"removeOnComplete,omitempty"`
	RemoveOnFail     Retention     `json:"removeOnFail,omitempty"`
	Timeout          time.Duration `json:"timeout,omitempty"`
	Delay            time.Duration `json:"delay,omitempty"`
}

type Option func(*Options)

func WithAttempts(n int) Option {
	return func(o *Options) { o.Attempts = n }
}

func WithBackoff(t BackoffType, delay time.Duration) Option {
	return func(o *Options) { o.Backoff = Backoff{Type: t, Delay: delay} }
}

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

func WithRemoveOnComplete(r Retention) Option {
	return func(o *Options) { o.RemoveOnComplete = r }
}

func WithRemoveOnFail(r Retention) Option {
	return func(o *Options) { o.RemoveOnFail = r }
}

func (o Options) apply(opts []Option) Options {
	for _, opt := range opts {
		opt(&o)
	}
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	return o
}

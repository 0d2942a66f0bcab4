package eventsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mattetre/reservoir-indexer/internal/domain/event"
	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/metrics"
	"github.com/mattetre/reservoir-indexer/internal/retry"
)

// Streams written by the log syncer and consumed by Feed.
const (
	BulkCancelStream = "events:bulk-cancel"
	ReorgStream      = "events:reorgs"

	checkpointPrefix = "events:checkpoint:"
	dataKey          = "data"

	defaultReadBlock  = 5 * time.Second
	defaultReadCount  = 100
	defaultRetryDelay = time.Second
)

type bulkCancelMessage struct {
	Events   []model.BulkCancelEvent `json:"events"`
	Backfill bool                    `json:"backfill"`
}

// Publisher appends decoded events to the feed streams.
type Publisher struct {
	client redis.UniversalClient
	maxLen int64
}

// NewPublisher returns a publisher that trims each stream to roughly maxLen
// entries. Zero keeps everything.
func NewPublisher(client redis.UniversalClient, maxLen int64) *Publisher {
	return &Publisher{client: client, maxLen: maxLen}
}

func (p *Publisher) PublishBulkCancels(ctx context.Context, events []model.BulkCancelEvent, backfill bool) (string, error) {
	return p.publish(ctx, BulkCancelStream, bulkCancelMessage{Events: events, Backfill: backfill})
}

func (p *Publisher) PublishReorg(ctx context.Context, reorg event.Reorg) (string, error) {
	return p.publish(ctx, ReorgStream, reorg)
}

func (p *Publisher) publish(ctx context.Context, stream string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", stream, err)
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]interface{}{dataKey: data},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}
	return id, nil
}

// BulkCancelSink stores bulk-cancel events. *BulkCancelStore satisfies it.
type BulkCancelSink interface {
	AddEvents(ctx context.Context, events []model.BulkCancelEvent, backfill bool) error
}

// ReorgHandler retracts orphaned blocks. *ReorgConsumer satisfies it.
type ReorgHandler interface {
	Handle(ctx context.Context, reorg event.Reorg) error
}

// Feed consumes the event streams and applies each message to the stores.
// A message is checkpointed only after it was applied, so a crash replays it;
// both AddEvents and RemoveEvents are idempotent.
type Feed struct {
	client     redis.UniversalClient
	events     BulkCancelSink
	reorgs     ReorgHandler
	block      time.Duration
	count      int64
	retryDelay time.Duration
	logger     *slog.Logger
}

type FeedOption func(*Feed)

func WithReadBlock(d time.Duration) FeedOption {
	return func(f *Feed) {
		if d > 0 {
			f.block = d
		}
	}
}

func WithReadCount(n int64) FeedOption {
	return func(f *Feed) {
		if n > 0 {
			f.count = n
		}
	}
}

func WithRetryDelay(d time.Duration) FeedOption {
	return func(f *Feed) {
		if d > 0 {
			f.retryDelay = d
		}
	}
}

func NewFeed(client redis.UniversalClient, events BulkCancelSink, reorgs ReorgHandler, logger *slog.Logger, opts ...FeedOption) *Feed {
	f := &Feed{
		client:     client,
		events:     events,
		reorgs:     reorgs,
		block:      defaultReadBlock,
		count:      defaultReadCount,
		retryDelay: defaultRetryDelay,
		logger:     logger.With("component", "event_feed"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Run blocks until ctx is cancelled. Transient failures are retried in place;
// any other failure stops the feed with the message still unacknowledged.
func (f *Feed) Run(ctx context.Context) error {
	last, err := f.checkpoints(ctx)
	if err != nil {
		return err
	}
	f.logger.Info("event feed started",
		"bulk_cancel_from", last[BulkCancelStream],
		"reorgs_from", last[ReorgStream],
	)

	for {
		err := f.poll(ctx, last)
		if ctx.Err() != nil {
			f.logger.Info("event feed stopping")
			return ctx.Err()
		}
		if err == nil {
			continue
		}
		if !retry.Classify(err).IsTransient() {
			return err
		}
		f.logger.Warn("event feed transient failure, retrying", "error", err, "delay", f.retryDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retryDelay):
		}
	}
}

func (f *Feed) checkpoints(ctx context.Context) (map[string]string, error) {
	streams := []string{BulkCancelStream, ReorgStream}
	last := make(map[string]string, len(streams))
	for _, s := range streams {
		id, err := f.client.Get(ctx, checkpointPrefix+s).Result()
		if errors.Is(err, redis.Nil) {
			id = "0"
		} else if err != nil {
			return nil, fmt.Errorf("load %s checkpoint: %w", s, err)
		}
		last[s] = id
	}
	return last, nil
}

// poll reads one batch from both streams and applies it in stream order.
func (f *Feed) poll(ctx context.Context, last map[string]string) error {
	res, err := f.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{BulkCancelStream, ReorgStream, last[BulkCancelStream], last[ReorgStream]},
		Count:   f.count,
		Block:   f.block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read event streams: %w", err)
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			outcome := "applied"
			if err := f.apply(ctx, stream.Stream, msg); err != nil {
				if !retry.IsExplicitTerminal(err) {
					metrics.EventFeedMessages.WithLabelValues(stream.Stream, "failed").Inc()
					return err
				}
				outcome = "skipped"
				f.logger.Error("skipping undecodable event message",
					"stream", stream.Stream,
					"message_id", msg.ID,
					"error", err,
				)
			}
			if err := f.client.Set(ctx, checkpointPrefix+stream.Stream, msg.ID, 0).Err(); err != nil {
				return fmt.Errorf("save %s checkpoint: %w", stream.Stream, err)
			}
			last[stream.Stream] = msg.ID
			metrics.EventFeedMessages.WithLabelValues(stream.Stream, outcome).Inc()
		}
	}
	return nil
}

func (f *Feed) apply(ctx context.Context, stream string, msg redis.XMessage) error {
	raw, ok := msg.Values[dataKey].(string)
	if !ok {
		return retry.Terminal(fmt.Errorf("%s message %s: missing %q field", stream, msg.ID, dataKey))
	}

	switch stream {
	case BulkCancelStream:
		var m bulkCancelMessage
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return retry.Terminal(fmt.Errorf("%s message %s: malformed payload: %w", stream, msg.ID, err))
		}
		return f.events.AddEvents(ctx, m.Events, m.Backfill)
	case ReorgStream:
		var r event.Reorg
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return retry.Terminal(fmt.Errorf("%s message %s: malformed payload: %w", stream, msg.ID, err))
		}
		return f.reorgs.Handle(ctx, r)
	}
	return retry.Terminal(fmt.Errorf("unexpected stream %s", stream))
}

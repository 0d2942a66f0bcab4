package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattetre/reservoir-indexer/internal/alert"
	"github.com/mattetre/reservoir-indexer/internal/config"
	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/jobs/dailyvolume"
	"github.com/mattetre/reservoir-indexer/internal/jobs/orderupdates"
	"github.com/mattetre/reservoir-indexer/internal/jobs/resync"
	"github.com/mattetre/reservoir-indexer/internal/queue"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), "level %q", in)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := rootCmd()
	require.NotNil(t, cmd.RunE, "root command serves by default")

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "enqueue", "ingest"})

	enqueue, _, err := cmd.Find([]string{"enqueue", "daily-volume"})
	require.NoError(t, err)
	flag := enqueue.Flags().Lookup("ignore-inserted-rows")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)
}

func TestWithOverride(t *testing.T) {
	defaults := orderupdates.DefaultOptions()

	got := withOverride(defaults, config.QueueOverride{})
	assert.Equal(t, defaults, got)

	got = withOverride(defaults, config.QueueOverride{Attempts: 3, Timeout: 5 * time.Second})
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, 5*time.Second, got.Timeout)
	assert.Equal(t, defaults.Backoff, got.Backoff)
	assert.Equal(t, defaults.RemoveOnFail, got.RemoveOnFail)
}

func TestConcurrencyFor(t *testing.T) {
	assert.Equal(t, 4, concurrencyFor(4, config.QueueOverride{}))
	assert.Equal(t, 16, concurrencyFor(4, config.QueueOverride{Concurrency: 16}))
}

func TestRegisterQueues_AppliesOverrides(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := queue.NewRegistry(client, queue.RegistryConfig{}, discardLogger())
	qs := registerQueues(reg, config.QueueConfig{
		Overrides: map[string]config.QueueOverride{resync.QueueName: {Attempts: 2}},
	})

	assert.Equal(t, orderupdates.QueueName, qs.orderUpdates.Name())
	assert.Equal(t, dailyvolume.QueueName, qs.dailyVolume.Name())
	assert.Equal(t, 2, qs.resync.Defaults().Attempts)
	assert.Len(t, reg.Queues(), 3)
}

func TestBuildAlerter(t *testing.T) {
	_, ok := buildAlerter(config.AlertConfig{}, discardLogger()).(*alert.NoopAlerter)
	assert.True(t, ok, "no channels configured")

	a := buildAlerter(config.AlertConfig{
		SlackWebhookURL:  "https://hooks.slack.example/x",
		WebhookURL:       "https://alerts.example/hook",
		Cooldown:         time.Minute,
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
	}, discardLogger())
	_, ok = a.(*alert.MultiAlerter)
	assert.True(t, ok)
}

func TestReadBulkCancels(t *testing.T) {
	input := `{"maker":"0xAbc","minNonce":5,"orderKind":"seaport","txHash":"0x1","logIndex":0}

{"maker":"0xdef","minNonce":7,"orderKind":"seaport","txHash":"0x2","logIndex":1}
`
	events, err := readBulkCancels(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "0xAbc", events[0].Maker)
	assert.Equal(t, "5", events[0].MinNonce.String())
	assert.Equal(t, "7", events[1].MinNonce.String())
}

func TestReadBulkCancels_Errors(t *testing.T) {
	_, err := readBulkCancels(strings.NewReader("{\"maker\":\"0x1\"}\n{oops\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = readBulkCancels(strings.NewReader(`{"minNonce":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maker is required")
}

type fakeBulkCancelPublisher struct {
	batches [][]model.BulkCancelEvent
	failAt  int
}

func (f *fakeBulkCancelPublisher) PublishBulkCancels(_ context.Context, events []model.BulkCancelEvent, _ bool) (string, error) {
	if f.failAt > 0 && len(f.batches)+1 == f.failAt {
		return "", errors.New("stream unavailable")
	}
	f.batches = append(f.batches, events)
	return "1-0", nil
}

func TestPublishBulkCancels_Batches(t *testing.T) {
	events := make([]model.BulkCancelEvent, 5)
	pub := &fakeBulkCancelPublisher{}

	n, err := publishBulkCancels(context.Background(), pub, events, false, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, pub.batches, 3)
	assert.Len(t, pub.batches[2], 1)

	n, err = publishBulkCancels(context.Background(), &fakeBulkCancelPublisher{}, nil, false, 2)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublishBulkCancels_StopsOnError(t *testing.T) {
	pub := &fakeBulkCancelPublisher{failAt: 2}
	n, err := publishBulkCancels(context.Background(), pub, make([]model.BulkCancelEvent, 4), true, 1)
	require.Error(t, err)
	assert.Equal(t, 1, n)
}

func TestScheduleDailyVolume(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	reg := queue.NewRegistry(client, queue.RegistryConfig{}, discardLogger())
	qs := registerQueues(reg, config.QueueConfig{})
	producer := dailyvolume.NewProducer(qs.dailyVolume, dailyvolume.NewTracker(client, time.Hour))
	ctx := context.Background()

	start := int64(1_700_000_123)
	day, err := scheduleDailyVolume(ctx, producer, &start, true)
	require.NoError(t, err)
	assert.Equal(t, model.DayStart(start), day)

	counts, err := qs.dailyVolume.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Wait)

	negative := int64(-1)
	_, err = scheduleDailyVolume(ctx, producer, &negative, true)
	require.Error(t, err)
}

func TestHealthMux(t *testing.T) {
	mux := healthMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, ignoreCanceled(boom), boom)
}

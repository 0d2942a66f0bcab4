package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattetre/reservoir-indexer/internal/alert"
	"github.com/mattetre/reservoir-indexer/internal/circuitbreaker"
	"github.com/mattetre/reservoir-indexer/internal/config"
	"github.com/mattetre/reservoir-indexer/internal/jobs/dailyvolume"
	"github.com/mattetre/reservoir-indexer/internal/jobs/orderupdates"
	"github.com/mattetre/reservoir-indexer/internal/jobs/resync"
	"github.com/mattetre/reservoir-indexer/internal/queue"
)

const serviceName = "reservoir-indexer"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootCmd wires every sub-command. Running the binary without one serves.
func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "indexer",
		Short:         "indexer syncs order events and runs the background job queues.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := serveCmd()
	cmd.RunE = serve.RunE

	cmd.AddCommand(
		serve,
		migrateCmd(),
		enqueueCmd(),
		ingestCmd(),
	)
	return cmd
}

// loadRuntime loads the configuration and builds the process logger.
func loadRuntime(out io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return nil, nil, err
	}
	logger := newLogger(cfg.Log.Level, out)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level string, out io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// queues holds every queue the indexer registers.
type queues struct {
	orderUpdates *queue.Queue
	resync       *queue.Queue
	dailyVolume  *queue.Queue
}

func registerQueues(reg *queue.Registry, cfg config.QueueConfig) queues {
	return queues{
		orderUpdates: reg.Register(orderupdates.QueueName, withOverride(orderupdates.DefaultOptions(), cfg.Override(orderupdates.QueueName))),
		resync:       reg.Register(resync.QueueName, withOverride(resync.DefaultOptions(), cfg.Override(resync.QueueName))),
		dailyVolume:  reg.Register(dailyvolume.QueueName, withOverride(dailyvolume.DefaultOptions(), cfg.Override(dailyvolume.QueueName))),
	}
}

// withOverride applies the non-zero fields of a file override to queue defaults.
func withOverride(opts queue.Options, o config.QueueOverride) queue.Options {
	if o.Attempts > 0 {
		opts.Attempts = o.Attempts
	}
	if o.Timeout > 0 {
		opts.Timeout = o.Timeout
	}
	return opts
}

func concurrencyFor(def int, o config.QueueOverride) int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return def
}

// buildAlerter fans out to every configured channel, each behind its own breaker.
func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	breakerCfg := circuitbreaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		OpenTimeout:      cfg.OpenTimeout,
	}

	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewGuardedAlerter(alert.NewSlackAlerter(cfg.SlackWebhookURL), breakerCfg, logger))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewGuardedAlerter(alert.NewWebhookAlerter(cfg.WebhookURL), breakerCfg, logger))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down gracefully.
func serveHTTP(ctx context.Context, name string, srv *http.Server, logger *slog.Logger) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown error", "server", name, "error", err)
		}
	}()

	logger.Info("http server started", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

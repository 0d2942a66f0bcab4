package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mattetre/reservoir-indexer/internal/admin"
	"github.com/mattetre/reservoir-indexer/internal/alert"
	"github.com/mattetre/reservoir-indexer/internal/config"
	"github.com/mattetre/reservoir-indexer/internal/eventsync"
	"github.com/mattetre/reservoir-indexer/internal/jobs/dailyvolume"
	"github.com/mattetre/reservoir-indexer/internal/jobs/orderupdates"
	"github.com/mattetre/reservoir-indexer/internal/jobs/resync"
	"github.com/mattetre/reservoir-indexer/internal/queue"
	"github.com/mattetre/reservoir-indexer/internal/store/postgres"
	redisstore "github.com/mattetre/reservoir-indexer/internal/store/redis"
	"github.com/mattetre/reservoir-indexer/internal/tracing"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event feed, queue workers and admin API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(os.Stdout)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting reservoir indexer",
		"background_work", cfg.Jobs.BackgroundWork,
		"event_feed", cfg.Events.FeedEnabled,
		"admin_addr", cfg.Server.AdminAddr,
	)

	shutdownTracer, err := tracing.Init(ctx, serviceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, cfg.Tracing.SampleRatio)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}()

	db, err := postgres.New(postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	client, err := redisstore.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer client.Close()

	alerter := buildAlerter(cfg.Alert, logger)
	locker := redisstore.NewLocker(client)

	reg := queue.NewRegistry(client, queue.RegistryConfig{
		PollInterval:      cfg.Queue.PollInterval,
		LockDuration:      cfg.Queue.LockDuration,
		SchedulerInterval: cfg.Queue.SchedulerInterval,
		ShutdownTimeout:   cfg.Queue.ShutdownTimeout,
	}, logger, queue.WithDeadLetterSink(alert.NewDeadLetterSink(alerter, logger)))
	qs := registerQueues(reg, cfg.Queue)

	orders := postgres.NewOrderRepo(db)
	notifier := orderupdates.NewNotifier(qs.orderUpdates, logger, orderupdates.WithNotifyOnBackfill(cfg.Jobs.NotifyOnBackfill))
	outbox := postgres.NewOrderUpdateOutboxRepo()
	relay := eventsync.NewOutboxRelay(db, outbox, notifier, logger,
		eventsync.WithRelayBatch(cfg.Events.RelayBatch),
		eventsync.WithRelayInterval(cfg.Events.RelayInterval),
	)
	bulkCancels := eventsync.NewBulkCancelStore(db, postgres.NewBulkCancelEventRepo(db), outbox, relay, logger)
	reorgs := eventsync.NewReorgConsumer(alerter, logger, bulkCancels)

	tracker := dailyvolume.NewTracker(client, cfg.Jobs.DailyVolumeStaleAfter)
	producer := dailyvolume.NewProducer(qs.dailyVolume, tracker)

	if cfg.Jobs.BackgroundWork {
		workers := []struct {
			name        string
			concurrency int
			handler     queue.Handler
		}{
			{
				name:        orderupdates.QueueName,
				concurrency: cfg.Jobs.OrderUpdateConcurrency,
				handler:     orderupdates.NewHandler(orders, orderupdates.LogSink{Logger: logger}, logger).Handle,
			},
			{
				name:        resync.QueueName,
				concurrency: resync.Concurrency,
				handler: resync.NewHandler(orders, cfg.Sources, qs.resync, logger,
					resync.WithRowRateLimit(cfg.Jobs.ResyncRowsPerSecond, 1),
				).Handle,
			},
			{
				name:        dailyvolume.QueueName,
				concurrency: dailyvolume.Concurrency,
				handler:     dailyvolume.NewHandler(postgres.NewDailyVolumeRepo(db), tracker, locker, logger).Handle,
			},
		}
		for _, w := range workers {
			if err := reg.RegisterWorker(w.name, concurrencyFor(w.concurrency, cfg.Queue.Override(w.name)), w.handler); err != nil {
				return fmt.Errorf("register %s worker: %w", w.name, err)
			}
		}
	}

	if cfg.Jobs.ResyncOnStart {
		started, err := resync.Bootstrap(ctx, locker, qs.resync, logger)
		if err != nil {
			logger.Warn("resync bootstrap failed", "error", err)
		} else if !started {
			logger.Info("resync already started recently, skipping")
		}
	}

	adminServer := admin.NewServer(postgres.NewAttributeRepo(db), reg, logger,
		admin.WithAttributesCache(cfg.Server.AttributesCacheSize, cfg.Server.AttributesCacheTTL),
		admin.WithDailyVolumeScheduler(producer),
		admin.WithResyncStarter(func(ctx context.Context) (bool, error) {
			return resync.Bootstrap(ctx, locker, qs.resync, logger)
		}),
		admin.WithHealthCheck("postgres", db.PingContext),
		admin.WithHealthCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() }),
	)
	rateLimiter := admin.NewRateLimitMiddleware(logger, cfg.Server.AdminRateLimit, cfg.Server.AdminRateBurst)
	defer rateLimiter.Stop()

	startDBPoolStatsPump(ctx, db, cfg.DB.PoolStatsIntervalMS, alerter, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(reg.Run(gCtx))
	})

	g.Go(func() error {
		return ignoreCanceled(relay.Run(gCtx))
	})

	if cfg.Events.FeedEnabled {
		feed := eventsync.NewFeed(client, bulkCancels, reorgs, logger,
			eventsync.WithReadBlock(cfg.Events.ReadBlock),
			eventsync.WithReadCount(cfg.Events.ReadCount),
		)
		g.Go(func() error {
			return ignoreCanceled(feed.Run(gCtx))
		})
	}

	g.Go(func() error {
		return serveHTTP(gCtx, "admin", &http.Server{
			Addr:              cfg.Server.AdminAddr,
			Handler:           rateLimiter.Wrap(admin.AuditMiddleware(logger, adminServer.Handler())),
			ReadHeaderTimeout: 10 * time.Second,
		}, logger)
	})

	if cfg.Server.HealthPort > 0 {
		g.Go(func() error {
			return serveHTTP(gCtx, "health", &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
				Handler:           healthMux(),
				ReadHeaderTimeout: 5 * time.Second,
			}, logger)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("indexer stopped with error", "error", err)
		return err
	}
	logger.Info("indexer stopped gracefully")
	return nil
}

// healthMux answers liveness checks and exposes metrics on the health port.
func healthMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

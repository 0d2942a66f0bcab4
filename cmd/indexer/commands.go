package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mattetre/reservoir-indexer/internal/config"
	"github.com/mattetre/reservoir-indexer/internal/domain/model"
	"github.com/mattetre/reservoir-indexer/internal/eventsync"
	"github.com/mattetre/reservoir-indexer/internal/jobs/dailyvolume"
	"github.com/mattetre/reservoir-indexer/internal/jobs/resync"
	"github.com/mattetre/reservoir-indexer/internal/queue"
	"github.com/mattetre/reservoir-indexer/internal/store/postgres"
	redisstore "github.com/mattetre/reservoir-indexer/internal/store/redis"
)

const (
	defaultIngestBatch = 500
	maxIngestLineBytes = 1 << 20
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(os.Stdout)
			if err != nil {
				return err
			}
			db, err := postgres.New(postgres.Config{
				URL:                cfg.DB.URL,
				MaxOpenConns:       1,
				StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
			})
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer db.Close()

			if err := db.RunMigrations(cmd.Context(), cfg.DB.MigrationsDir); err != nil {
				return err
			}
			logger.Info("migrations applied", "dir", cfg.DB.MigrationsDir)
			return nil
		},
	}
}

func enqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add a maintenance job to its queue.",
	}
	cmd.AddCommand(enqueueDailyVolumeCmd(), enqueueResyncCmd())
	return cmd
}

func enqueueDailyVolumeCmd() *cobra.Command {
	var (
		startTime int64
		ignore    bool
	)
	cmd := &cobra.Command{
		Use:   "daily-volume",
		Short: "Schedule a daily-volume calculation.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueues(cmd.Context(), func(ctx context.Context, client redis.UniversalClient, cfg *config.Config, qs queues, logger *slog.Logger) error {
				var start *int64
				if cmd.Flags().Changed("start-time") {
					start = &startTime
				}
				day, err := scheduleDailyVolume(ctx, dailyvolume.NewProducer(qs.dailyVolume, dailyvolume.NewTracker(client, cfg.Jobs.DailyVolumeStaleAfter)), start, ignore)
				if err != nil {
					return err
				}
				logger.Info("daily volume scheduled", "start_time", day, "ignore_inserted_rows", ignore)
				fmt.Fprintln(cmd.OutOrStdout(), day)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&startTime, "start-time", 0, "Unix seconds inside the day to calculate (default: yesterday)")
	cmd.Flags().BoolVar(&ignore, "ignore-inserted-rows", true, "Recalculate even if the day was already calculated")
	return cmd
}

func scheduleDailyVolume(ctx context.Context, p *dailyvolume.Producer, start *int64, ignore bool) (int64, error) {
	if start != nil && *start < 0 {
		return 0, fmt.Errorf("start time must not be negative: %d", *start)
	}
	return p.AddToQueue(ctx, start, ignore)
}

func enqueueResyncCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Start an orders source resync pass.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withQueues(cmd.Context(), func(ctx context.Context, client redis.UniversalClient, _ *config.Config, qs queues, logger *slog.Logger) error {
				if force {
					if err := resync.AddToQueue(ctx, qs.resync, ""); err != nil {
						return err
					}
					logger.Info("resync enqueued", "forced", true)
					return nil
				}
				started, err := resync.Bootstrap(ctx, redisstore.NewLocker(client), qs.resync, logger)
				if err != nil {
					return err
				}
				if !started {
					return fmt.Errorf("resync already started recently, use --force to enqueue anyway")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Enqueue the first page without taking the start lock")
	return cmd
}

// withQueues connects to redis and registers the queues without starting workers.
func withQueues(ctx context.Context, fn func(context.Context, redis.UniversalClient, *config.Config, queues, *slog.Logger) error) error {
	cfg, logger, err := loadRuntime(os.Stderr)
	if err != nil {
		return err
	}
	client, err := redisstore.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer client.Close()

	reg := queue.NewRegistry(client, queue.RegistryConfig{}, logger)
	return fn(ctx, client, cfg, registerQueues(reg, cfg.Queue), logger)
}

func ingestCmd() *cobra.Command {
	var (
		file     string
		backfill bool
		batch    int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Publish bulk-cancel events from a JSON-lines file to the event feed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime(os.Stderr)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			events, err := readBulkCancels(in)
			if err != nil {
				return err
			}

			client, err := redisstore.NewClient(cmd.Context(), cfg.Redis.URL)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer client.Close()

			n, err := publishBulkCancels(cmd.Context(), eventsync.NewPublisher(client, cfg.Events.StreamMaxLen), events, backfill, batch)
			if err != nil {
				return err
			}
			logger.Info("bulk cancel events published", "events", len(events), "messages", n, "backfill", backfill)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "JSON-lines input, one bulk-cancel event per line")
	cmd.Flags().BoolVar(&backfill, "backfill", false, "Mark the events as historical backfill")
	cmd.Flags().IntVar(&batch, "batch", defaultIngestBatch, "Events per stream message")
	return cmd
}

// readBulkCancels decodes one event per line. Blank lines are ignored.
func readBulkCancels(r io.Reader) ([]model.BulkCancelEvent, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxIngestLineBytes)

	var events []model.BulkCancelEvent
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e model.BulkCancelEvent
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if e.Maker == "" {
			return nil, fmt.Errorf("line %d: maker is required", line)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return events, nil
}

type bulkCancelPublisher interface {
	PublishBulkCancels(ctx context.Context, events []model.BulkCancelEvent, backfill bool) (string, error)
}

// publishBulkCancels splits events into messages of at most batch events and
// returns the number of messages written.
func publishBulkCancels(ctx context.Context, p bulkCancelPublisher, events []model.BulkCancelEvent, backfill bool, batch int) (int, error) {
	if batch <= 0 {
		batch = defaultIngestBatch
	}
	n := 0
	for start := 0; start < len(events); start += batch {
		end := min(start+batch, len(events))
		if _, err := p.PublishBulkCancels(ctx, events[start:end], backfill); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

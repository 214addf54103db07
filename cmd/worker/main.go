package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/scambait/common/id"
	"basegraph.app/scambait/common/llm"
	"basegraph.app/scambait/common/logger"
	"basegraph.app/scambait/common/otel"
	"basegraph.app/scambait/core/config"
	"basegraph.app/scambait/core/db"
	"basegraph.app/scambait/internal/brain"
	"basegraph.app/scambait/internal/messaging"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/status"
	"basegraph.app/scambait/internal/store"
	"basegraph.app/scambait/internal/turn"
	"basegraph.app/scambait/internal/worker"
)

const (
	maxTaskAttempts = 3
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}
	fmt.Print(banner + "\n")

	telemetry, err := otel.Setup(context.Background(), cfg.OTel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "initializing otel:", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if telemetry != nil {
		if terr := telemetry.Shutdown(shutdownCtx); terr != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", terr)
		}
	}
	if err != nil {
		slog.ErrorContext(shutdownCtx, "scambait worker exited", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

// run consumes turn tasks until ctx is cancelled, then drains the worker,
// the reclaimer and every in-flight turn task.
func run(ctx context.Context, cfg config.Config) error {
	slog.InfoContext(ctx, "scambait worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"tool_mode", cfg.LLM.ToolMode,
		"dry_run_messaging", cfg.Messaging.DryRun)

	if err := id.Init(id.NodeWorker); err != nil {
		return fmt.Errorf("initializing id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	agent, err := llm.NewAgentClient(cfg.LLM.Client())
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	stores := store.NewStores(database)
	pipeline := brain.NewPipeline(agent, stores, brain.Config{
		ToolMode:     cfg.LLM.ToolMode,
		MaxAttempts:  cfg.Turn.MaxAttempts,
		HistoryLimit: cfg.Turn.HistoryLimit,
		MaxTokens:    cfg.LLM.MaxTokens,
	})

	publisher := status.NewPublisher(redisClient, status.Keys{
		StreamPrefix: cfg.Pipeline.StatusPrefix,
		Hash:         cfg.Pipeline.StatusHash,
	})
	bus := turn.NewBus()
	bus.Subscribe(publisher.Listen)

	machine := turn.NewMachine(pipeline, stores, newMessenger(cfg.Messaging), bus, turn.Config{
		PacingInterval:  cfg.Turn.PacingInterval,
		AutoModeDefault: cfg.Turn.AutoModeDefault,
	})
	// last to stop: cancels pacing and send tasks after intake has ended
	defer machine.Close()

	dispatcher := worker.NewDispatcher(machine, pipeline, turn.NewScanner(machine, stores.Events()), publisher)

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:    cfg.Pipeline.RedisStream,
		Group:     cfg.Pipeline.RedisGroup,
		Consumer:  cfg.Pipeline.RedisConsumer,
		DLQStream: cfg.Pipeline.RedisDLQStream,
		// tasks only hand work to the machine, so batches stay cheap
		BatchSize:    10,
		Block:        5 * time.Second,
		RequeueDelay: time.Second,
	})
	if err != nil {
		return fmt.Errorf("creating consumer: %w", err)
	}

	w := worker.New(consumer, dispatcher, worker.Config{MaxAttempts: maxTaskAttempts})
	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:        cfg.Pipeline.RedisStream,
		Group:         cfg.Pipeline.RedisGroup,
		Consumer:      cfg.Pipeline.RedisConsumer + "-reclaimer",
		MinIdle:       5 * time.Minute,
		Interval:      time.Minute,
		BatchSize:     10,
		MaxDeliveries: maxTaskAttempts,
	}, consumer, w.ProcessMessage)

	done := make(chan error, 2)
	go func() { done <- w.Run(ctx) }()
	go func() {
		reclaimer.Run(ctx)
		done <- nil
	}()

	<-ctx.Done()
	slog.InfoContext(ctx, "shutting down worker")

	timeout := time.NewTimer(shutdownTimeout)
	defer timeout.Stop()
	for running := 2; running > 0; running-- {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.ErrorContext(ctx, "worker loop error", "error", err)
			}
		case <-timeout.C:
			return errors.New("timed out waiting for the worker loops")
		}
	}
	return nil
}

// newMessenger builds the outbound client: the connector behind a rate
// limiter, or the recording client when messaging is disabled.
func newMessenger(cfg config.MessagingConfig) messaging.Client {
	if cfg.DryRun {
		return messaging.NewDryRun()
	}
	connector := messaging.NewConnectorClient(cfg.ConnectorURL, cfg.ConnectorToken, cfg.RequestTimeout)
	return messaging.NewRateLimited(connector, cfg.RatePerSecond, cfg.Burst)
}

const banner = `
 ___  ___ __ _ _ __ ___ | |__   __ _(_) |_    __      _____  _ __| | _____ _ __
/ __|/ __/ _' | '_ ' _ \| '_ \ / _' | | __|   \ \ /\ / / _ \| '__| |/ / _ \ '__|
\__ \ (_| (_| | | | | | | |_) | (_| | | |_     \ V  V / (_) | |  |   <  __/ |
|___/\___\__,_|_| |_| |_|_.__/ \__,_|_|\__|     \_/\_/ \___/|_|  |_|\_\___|_|
`

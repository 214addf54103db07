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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/scambait/common/id"
	"basegraph.app/scambait/common/logger"
	"basegraph.app/scambait/common/otel"
	"basegraph.app/scambait/core/config"
	"basegraph.app/scambait/core/db"
	"basegraph.app/scambait/internal/http/middleware"
	httprouter "basegraph.app/scambait/internal/http/router"
	"basegraph.app/scambait/internal/queue"
	"basegraph.app/scambait/internal/service"
	"basegraph.app/scambait/internal/status"
	"basegraph.app/scambait/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	fmt.Print(banner + "\n")

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}

	// the otelslog handler needs the log provider, so telemetry comes first
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
		slog.ErrorContext(shutdownCtx, "scambait api exited", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// run serves the operator API until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	slog.InfoContext(ctx, "scambait api starting",
		"env", cfg.Env,
		"service", cfg.OTel.ServiceName,
		"otel", cfg.OTel.Enabled())

	if err := id.Init(id.NodeServer); err != nil {
		return fmt.Errorf("initializing id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	// the API owns the schema; the worker expects it to be current
	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)
	defer producer.Close()

	reader := status.NewReader(redisClient, status.Keys{
		StreamPrefix: cfg.Pipeline.StatusPrefix,
		Hash:         cfg.Pipeline.StatusHash,
	})
	services := service.NewServices(store.NewStores(database), producer, reader, cfg.Turn.ForwardEventsLimit)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newEngine(cfg, services),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
		// no WriteTimeout: status streams stay open
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "http server listening", "port", cfg.Port, "stream", cfg.Pipeline.RedisStream)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.InfoContext(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// newEngine builds the gin engine. otelgin opens the span first so recovery
// and request logs carry its trace context.
func newEngine(cfg config.Config, services *service.Services) *gin.Engine {
	engine := gin.New()
	if cfg.OTel.Enabled() {
		engine.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	engine.Use(middleware.Recovery(), middleware.Logger())

	httprouter.SetupRoutes(engine, services, httprouter.RouterConfig{
		TraceHeaderName: cfg.Pipeline.TraceHeaderName,
		OperatorKey:     cfg.OperatorKey,
	})
	return engine
}

const banner = `
 ___  ___ __ _ _ __ ___ | |__   __ _(_) |_     __ _ _ __ (_)
/ __|/ __/ _' | '_ ' _ \| '_ \ / _' | | __|   / _' | '_ \| |
\__ \ (_| (_| | | | | | | |_) | (_| | | |_   | (_| | |_) | |
|___/\___\__,_|_| |_| |_|_.__/ \__,_|_|\__|   \__,_| .__/|_|
                                                   |_|
`

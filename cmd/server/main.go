// Package main is the entry point for the Reel media-processing server.
//
// It exposes the Operation Pipeline over gRPC and REST, and runs the
// Worker Pool, Outbox Relay, and Reservation Janitor as background
// subsystems in the same process. The server is designed for production
// operation with:
//
// - Graceful shutdown on SIGTERM/SIGINT
// - Health check endpoint for load balancers
// - Prometheus metrics endpoint for monitoring
// - Structured logging with log levels
// - Comprehensive error recovery
//
// Lifecycle:
// 1. Load configuration from env
// 2. Connect PostgreSQL + Redis
// 3. Construct every store, the Ledger, the Operation Pipeline
// 4. Start the Worker Pool, Outbox Relay, Reservation Janitor
// 5. Start gRPC and HTTP servers
// 6. Wait for shutdown signal and drain everything gracefully
package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelpejol/reel/internal/config"
	"github.com/kelpejol/reel/internal/events"
	"github.com/kelpejol/reel/internal/janitor"
	"github.com/kelpejol/reel/internal/ledger"
	"github.com/kelpejol/reel/internal/media"
	"github.com/kelpejol/reel/internal/mediatool"
	"github.com/kelpejol/reel/internal/metrics"
	"github.com/kelpejol/reel/internal/operation"
	"github.com/kelpejol/reel/internal/outbox"
	"github.com/kelpejol/reel/internal/pipeline"
	"github.com/kelpejol/reel/internal/queue"
	"github.com/kelpejol/reel/internal/sync"
	"github.com/kelpejol/reel/internal/transport/grpcapi"
	"github.com/kelpejol/reel/internal/transport/restapi"

	"github.com/go-redis/redis/v8"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

func main() {
	cfg := config.Load()
	logger := setupLogger(cfg.LogLevel, cfg.Environment)
	metrics.Register(prometheus.DefaultRegisterer)
	logger.Info().
		Str("environment", cfg.Environment).
		Str("grpc_port", cfg.GRPCPort).
		Str("http_port", cfg.HTTPPort).
		Msg("starting reel server")

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	pingCancel()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")

	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open postgres")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	logger.Info().Msg("connected to postgres")

	// Stores
	ledgerStore := ledger.NewPostgresStore(db)
	led := ledger.New(ledgerStore, redisClient, logger)
	assetStore := media.NewPostgresStore(db)
	operationStore := operation.NewPostgresStore(db)
	outboxStore := outbox.NewPostgresStore(db)
	queueStore := queue.NewPostgresStore(db)

	syncer := sync.NewSyncer(redisClient, db, logger)
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := syncer.InitializeCache(initCtx); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize balance cache from postgresql")
	}
	initCancel()
	logger.Info().Msg("balance cache initialized from postgresql")
	syncer.StartPeriodicSync(5 * time.Minute)
	defer syncer.Stop()

	// Operation Pipeline (spec.md §4.2)
	costs := operation.DefaultCostTable()
	pl := pipeline.New(assetStore, operationStore, led, outboxStore, queueStore, costs, db, logger, cfg.WorkerMaxAttempts)

	// Worker Pool (spec.md §4.3)
	paths := media.NewPaths(cfg.StorageRoot)
	runner := mediatool.NewRunner(cfg.MediaToolPath, cfg.MediaImagePath, cfg.MediaProbePath, paths, mediatool.DefaultTimeouts())
	progressPublisher := queue.NewProgressPublisher(redisClient)
	pool := queue.NewPool(queueStore, operationStore, assetStore, led, outboxStore, runner, progressPublisher, db, logger, cfg.WorkerConcurrency, cfg.WorkerPollInterval, cfg.WorkerBackoffBase)

	pl.SetCanceller(pool)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	go func() {
		if err := pool.Start(workerCtx); err != nil {
			logger.Error().Err(err).Msg("worker pool stopped")
		}
	}()

	// Outbox Relay (spec.md §4.4) — dispatches queued/started/completed/
	// failed events to every registered subscriber. eventPublisher fans each
	// one out over Redis pub/sub for subscribe_events (spec.md §6); the
	// debug-log subscriber runs alongside it since Dispatch runs every
	// matching subscriber, not just the first.
	eventPublisher := events.NewPublisher(redisClient)
	registry := events.NewRegistry()
	registry.Subscribe("job.*", func(ctx context.Context, ev events.Event) error {
		logger.Debug().Str("operation_id", ev.OperationID).Str("type", string(ev.Type)).Msg("outbox event dispatched")
		return nil
	})
	registry.Subscribe("*", eventPublisher.Publish)
	relay := outbox.NewRelay(outboxStore, registry, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize, cfg.OutboxMaxAttempts, cfg.WorkerBackoffBase, cfg.OutboxClaimTimeout, cfg.OutboxReapInterval)
	relayCtx, relayCancel := context.WithCancel(context.Background())
	go relay.Start(relayCtx)

	// Reservation Janitor (spec.md §4.5)
	onSuspicious := janitor.OnSuspiciousRelease
	if cfg.JanitorOnSuspicious == string(janitor.OnSuspiciousCapture) {
		onSuspicious = janitor.OnSuspiciousCapture
	}
	jan := janitor.New(led, operationStore, logger, cfg.JanitorTTL, float64(cfg.JanitorGraceMultiplier), onSuspicious, syncer.SyncUser)
	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	go jan.Start(janitorCtx, cfg.JanitorInterval)

	depthCtx, depthCancel := context.WithCancel(context.Background())
	go reportQueueDepth(depthCtx, queueStore, logger)

	// gRPC server
	grpcServer := createGRPCServer(logger)
	grpcapi.RegisterOperationServiceServer(grpcServer, grpcapi.NewServer(pl, led, progressPublisher, eventPublisher, logger))
	if cfg.Environment == "development" {
		reflection.Register(grpcServer)
		logger.Info().Msg("grpc reflection enabled")
	}

	go func() {
		listener, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create grpc listener")
		}
		logger.Info().Str("port", cfg.GRPCPort).Msg("grpc server listening")
		if err := grpcServer.Serve(listener); err != nil {
			logger.Fatal().Err(err).Msg("grpc server failed")
		}
	}()

	// HTTP server (REST + health/ready/metrics)
	httpServer := createHTTPServer(cfg.HTTPPort, pl, led, db, logger)
	go func() {
		logger.Info().Str("port", cfg.HTTPPort).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	jan.Stop()
	janitorCancel()
	relay.Stop()
	relayCancel()
	workerCancel()
	depthCancel()

	grpcServer.GracefulStop()
	logger.Info().Msg("grpc server stopped")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	logger.Info().Msg("http server stopped")
	logger.Info().Msg("shutdown complete")
}

func setupLogger(levelStr, environment string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if environment == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Caller().
			Logger()
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "reel").
		Str("environment", environment).
		Logger()
}

// reportQueueDepth keeps the reel_queue_depth gauge current by polling
// DepthByPriority on a short interval, the same ticker-loop shape the
// janitor and the periodic balance syncer use.
func reportQueueDepth(ctx context.Context, store queue.Store, logger zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := store.DepthByPriority(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to read queue depth")
				continue
			}
			for priority, count := range depth {
				metrics.QueueDepth.WithLabelValues(string(priority)).Set(float64(count))
			}
		}
	}
}

func createGRPCServer(logger zerolog.Logger) *grpc.Server {
	recoveryOpts := []grpc_recovery.Option{
		grpc_recovery.WithRecoveryHandler(func(p interface{}) error {
			logger.Error().Interface("panic", p).Msg("recovered from panic in grpc handler")
			return status.Errorf(codes.Internal, "internal server error")
		}),
	}

	loggingInterceptor := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info().
			Str("method", info.FullMethod).
			Dur("duration_ms", time.Since(start)).
			Err(err).
			Msg("grpc request completed")
		return resp, err
	}

	return grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
			grpc_recovery.UnaryServerInterceptor(recoveryOpts...),
			loggingInterceptor,
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     15 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Minute,
			Time:                  5 * time.Minute,
			Timeout:               1 * time.Minute,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)
}

func createHTTPServer(port string, pl *pipeline.Pipeline, led *ledger.Ledger, db *sql.DB, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()

	rest := restapi.NewHandler(pl, led, logger)
	rest.RegisterRoutes(mux)

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			logger.Warn().Err(err).Msg("readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler := restapi.CORS(restapi.LoggingMiddleware(logger)(mux))

	return &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

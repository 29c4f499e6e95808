// interviewd - adaptive interview service
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ashureev/interviewd/internal/api"
	"github.com/ashureev/interviewd/internal/audit"
	"github.com/ashureev/interviewd/internal/checkpoint"
	"github.com/ashureev/interviewd/internal/config"
	"github.com/ashureev/interviewd/internal/coverage"
	"github.com/ashureev/interviewd/internal/domain"
	"github.com/ashureev/interviewd/internal/events"
	"github.com/ashureev/interviewd/internal/interpreter"
	"github.com/ashureev/interviewd/internal/lock"
	"github.com/ashureev/interviewd/internal/middleware"
	"github.com/ashureev/interviewd/internal/questionset"
	"github.com/ashureev/interviewd/internal/tracing"
	"github.com/ashureev/interviewd/internal/workflow"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
	})
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("Failed to shut down tracing", "error", err)
		}
	}()

	// Checkpoint store.
	backend, err := checkpoint.Open(cfg.Store.Driver, cfg.Store.Path, cfg.Store.DSN, cfg.Store.MaxConns+cfg.Store.Headroom, logger)
	if err != nil {
		slog.Error("Failed to initialize checkpoint store", "error", err)
		os.Exit(1)
	}
	store := checkpoint.NewBounded(backend, cfg.Store.MaxConns, cfg.Store.OpTimeout)
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close checkpoint store", "error", closeErr)
		}
	}()
	if err := store.Ping(ctx); err != nil {
		slog.Error("Checkpoint store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Checkpoint store connected", "driver", cfg.Store.Driver, "max_conns", cfg.Store.MaxConns)

	checkpoint.StartSweeper(ctx, store, cfg.Store.SweepInterval, cfg.Store.SessionTTL, func(removed int64) {
		slog.Info("Expired abandoned interviews", "removed", removed)
	})
	slog.Info("Session sweeper started", "session_ttl", cfg.Store.SessionTTL)

	// Advance lock.
	var locker lock.Locker = lock.NewMutexMap()
	checks := map[string]api.Pinger{"store": store}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				slog.Error("Failed to close redis client", "error", closeErr)
			}
		}()
		locker = lock.NewRedis(rdb, "interviewd:lock:", cfg.LockTTL, logger)
		checks["redis"] = redisPinger{rdb}
		slog.Info("Using redis advance lock")
	}

	// Extraction capability.
	grpcCfg := interpreter.DefaultGRPCConfig(cfg.Capability.Addr)
	grpcCfg.ConnectTimeout = cfg.Capability.ConnectTimeout
	grpcCfg.RequestTimeout = cfg.Capability.RequestTimeout
	capability, err := interpreter.NewGRPCCapability(grpcCfg, logger)
	if err != nil {
		slog.Error("Failed to connect to extraction capability", "error", err, "address", cfg.Capability.Addr)
		os.Exit(1)
	}
	defer capability.Close()
	adapter := interpreter.NewAdapter(capability, logger, interpreter.WithCallTimeout(cfg.Capability.CallTimeout))

	prefillCfg := coverage.DefaultConfig()
	prefillCfg.Workers = cfg.Capability.PrefillWorkers
	prefillCfg.CacheTTL = cfg.Capability.CacheTTL
	prefiller := coverage.NewPrefiller(adapter, prefillCfg, logger)
	discoverer := coverage.NewDiscoverer(adapter, cfg.Attributes, logger)

	// Question sets.
	catalog := questionset.NewCatalog(cfg.QuestionSetDir, logger)
	if err := catalog.Load(); err != nil {
		slog.Error("Failed to load question sets", "error", err, "dir", cfg.QuestionSetDir)
		os.Exit(1)
	}
	slog.Info("Question sets loaded", "count", len(catalog.List()))
	if cfg.WatchSets {
		go func() {
			if err := catalog.Watch(ctx); err != nil {
				slog.Warn("Question set hot reload disabled", "error", err)
			}
		}()
	}

	// Audit log and events.
	auditSink, err := audit.New(audit.Config{
		Enabled:       cfg.AuditLog.Enabled,
		Dir:           cfg.AuditLog.Dir,
		GlobalEnabled: cfg.AuditLog.GlobalEnabled,
		GlobalPath:    cfg.AuditLog.GlobalPath,
		QueueSize:     cfg.AuditLog.QueueSize,
		MaxSizeMB:     cfg.AuditLog.MaxSizeMB,
		MaxBackups:    cfg.AuditLog.MaxBackups,
		MaxAgeDays:    cfg.AuditLog.MaxAgeDays,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize audit log", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := auditSink.Close(); closeErr != nil {
			slog.Error("Failed to close audit log", "error", closeErr)
		}
	}()

	bus := events.NewLocal(logger)
	publishers := []events.Publisher{bus}
	if cfg.NATSURL != "" {
		natsPub, err := events.NewNATSPublisher(cfg.NATSURL, logger)
		if err != nil {
			slog.Warn("Failed to connect to NATS, events stay in-process", "error", err)
		} else {
			publishers = append(publishers, natsPub)
		}
	}
	publisher := events.NewMulti(logger, publishers...)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			slog.Error("Failed to close event publishers", "error", closeErr)
		}
	}()

	// Engine.
	engineOpts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithSettings(domain.ModeOpenEnded, cfg.OpenSettings),
		workflow.WithSettings(domain.ModeFixed, cfg.FixedSettings),
		workflow.WithPending(checkpoint.NewPending(cfg.Store.PendingTTL)),
		workflow.WithAudit(auditSink),
		workflow.WithPublisher(publisher),
		workflow.WithMaxSteps(cfg.MaxSteps),
		workflow.WithReplayWindow(cfg.ReplayWindow),
	}
	if cfg.OpenIntro != "" {
		engineOpts = append(engineOpts, workflow.WithOpenIntro(cfg.OpenIntro))
	}
	engine := workflow.New(store, locker, adapter, prefiller, discoverer, catalog, engineOpts...)

	// Handlers.
	handler := api.NewHandler(engine, catalog, bus, api.Options{
		MaxRequestBodySize: cfg.HTTP.MaxRequestBodySize,
		KeepaliveInterval:  cfg.HTTP.KeepaliveInterval,
		RetryDelay:         cfg.HTTP.RetryDelay,
		RateLimit:          cfg.HTTP.RateLimit,
		RateWindow:         cfg.HTTP.RateWindow,
		AllowedOrigins:     cfg.AllowedOrigins(),
	}, logger)
	defer handler.Close()
	healthHandler := api.NewHealthHandler(5*time.Second, checks)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	healthHandler.RegisterHealth(r)
	handler.RegisterRoutes(r)

	// SSE streams stay open, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Package main provides the entry point for the SOC Tower server, the
// cross-vendor SLA metrics backend for the SOC dashboard.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/soctower/soctower/internal/aggregate"
	"github.com/soctower/soctower/internal/api"
	"github.com/soctower/soctower/internal/config"
	"github.com/soctower/soctower/internal/eventcache"
	"github.com/soctower/soctower/internal/observability"
	"github.com/soctower/soctower/internal/vendors"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("SOC Tower %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	tel, err := observability.New(observability.Config{
		ServiceName:    "soctower",
		ServiceVersion: Version,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer tel.Shutdown()
	logger := tel.Logger()

	logger.Info("starting soctower",
		zap.String("version", Version),
		zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.Postgres.DSN())
	if err != nil {
		logger.Fatal("failed to open postgres", zap.Error(err))
	}
	defer db.Close()

	eventStore := eventcache.NewPostgresStore(db)
	if err := eventStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("failed to prepare event cache schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: os.Getenv(cfg.Redis.PasswordEnv),
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, list cache and rate limiting degraded", zap.Error(err))
	}

	integrations, err := buildIntegrations(cfg)
	if err != nil {
		logger.Fatal("failed to build integrations", zap.Error(err))
	}
	for _, integ := range integrations {
		logger.Info("integration enabled",
			zap.String("id", integ.Config.ID),
			zap.String("vendor", string(integ.Config.Source)))
	}

	listCache := aggregate.NewListCache(redisClient, cfg.Redis.CacheTTL, logger.Named("listcache"))
	service := aggregate.New(integrations, cfg.Aggregation, listCache, logger.Named("aggregate"), tel.Metrics())
	service.AttachEventCache(eventcache.New(eventStore, service, logger.Named("eventcache")))

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, logger.Named("ratelimit"))
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewServer(service, tel, limiter).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// buildIntegrations wires a vendor client for every enabled integration.
func buildIntegrations(cfg *config.Config) ([]aggregate.Integration, error) {
	var integrations []aggregate.Integration
	for _, ic := range cfg.EnabledIntegrations() {
		client, err := vendors.ForVendor(ic.Source, ic.BaseURL, ic.Timeout)
		if err != nil {
			return nil, fmt.Errorf("integration %s: %w", ic.ID, err)
		}
		integrations = append(integrations, aggregate.Integration{Config: ic, Client: client})
	}
	return integrations, nil
}

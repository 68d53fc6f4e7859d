package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-slot-scheduling/internal/api"
	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	"github.com/hackgods/clinic-slot-scheduling/internal/observability/metrics"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api-server", "env", cfg.Env)
	logger.Info("api-server starting up", "http_port", cfg.HTTPPort, "version", cfg.Version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	if cfg.WebhookSecret == "" {
		if cfg.IsDevelopment() {
			logger.Warn("WEBHOOK_SECRET is not set; unsigned agent requests will be accepted")
		} else {
			logger.Warn("WEBHOOK_SECRET is not set; agent webhook will reject every request")
		}
	}

	repo := appointment.NewPgRepository(pgPool)
	rules := schedule.NewRules(schedule.SystemClock{}, cfg.BookingLeadTime)
	svc := appointment.NewService(repo, rules, redisclient.NewViewCache(rdb, cfg.ViewCacheTTL), logger)

	handler := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Deliveries:     redisclient.NewDeliveryGuard(rdb, cfg.DeliveryTTL),
		Metrics:        metrics.NewBookingMetrics(prometheus.DefaultRegisterer),
		MetricsHandler: promhttp.Handler(),
		Health: api.NewHealthHandler(
			pgPool.Ping,
			func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			cfg.Env,
			cfg.Version,
		),
		Logger:                logger,
		AdminJWTSecret:        cfg.AdminJWTSecret,
		WebhookSecret:         cfg.WebhookSecret,
		AllowUnsignedWebhooks: cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	logger.Info("api-server stopped")
}

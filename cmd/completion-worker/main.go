package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/config"
	"github.com/hackgods/clinic-slot-scheduling/internal/db"
	redisclient "github.com/hackgods/clinic-slot-scheduling/internal/redis"
	"github.com/hackgods/clinic-slot-scheduling/internal/schedule"
	"github.com/hackgods/clinic-slot-scheduling/pkg/logging"
)

// completion-worker periodically marks appointments whose slot has ended as
// COMPLETED.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "completion-worker", "env", cfg.Env)
	logger.Info("completion-worker starting up", "interval", cfg.WorkerInterval)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	// Redis only carries cached views here; the sweep still runs without it.
	var cache appointment.ViewCache
	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		PoolSize: 2,
	})
	if err != nil {
		logger.Warn("redis unavailable, cached views will expire on their own", "error", err)
	} else {
		defer func() { _ = rdb.Close() }()
		cache = redisclient.NewViewCache(rdb, cfg.ViewCacheTTL)
	}

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, schedule.NewRules(schedule.SystemClock{}, cfg.BookingLeadTime), cache, logger)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger *logging.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompleteElapsed(runCtx)
	if err != nil {
		logger.Error("completion run error", "error", err)
		return
	}
	logger.Info("completion run complete", "completed", n, "duration_ms", time.Since(start).Milliseconds())
}

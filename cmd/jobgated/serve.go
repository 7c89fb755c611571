package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jobgate/jobgate/admission"
	"github.com/jobgate/jobgate/cache"
	"github.com/jobgate/jobgate/config"
	"github.com/jobgate/jobgate/db"
	"github.com/jobgate/jobgate/logger"
	"github.com/jobgate/jobgate/queue"
	"github.com/jobgate/jobgate/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job admission daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.Logger

	conn, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	c := buildCache(cmd.Context(), cfg, log)
	st := store.NewStore(conn)
	checker := admission.NewChecker(st, c, checkerConfig(cfg), log)

	// The scheduler's dispatch closure needs the service, which needs the
	// scheduler; resolve via the captured pointer.
	var svc *admission.Service
	sched := queue.NewScheduler(func(ctx context.Context, d queue.Descriptor) {
		runJob(ctx, svc, d)
	}, log)
	defer sched.Stop()

	svc = admission.NewService(st, c, sched, checker, log)

	if err := svc.Initialize(cmd.Context()); err != nil {
		return err
	}

	log.Infow("jobgate daemon ready", "config", cfg.String())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	received := <-sig
	log.Infow("Shutting down", "signal", received.String())
	return nil
}

// runJob drives the lifecycle for a fired descriptor. Execution itself is
// delegated to the worker runtime; the built-in runner logs the payload and
// reports success so recurring schedules keep advancing.
func runJob(ctx context.Context, svc *admission.Service, d queue.Descriptor) {
	j, err := svc.RecordRunStart(ctx, d.JobID)
	if err != nil {
		logger.Errorw("Failed to record run start", "job_id", d.JobID, "error", err)
		return
	}
	if j == nil {
		// Deleted or disabled after scheduling.
		return
	}

	logger.Infow("Job dispatched",
		"job_id", d.JobID,
		"name", d.Name,
		"payload_bytes", len(d.Payload))

	if _, err := svc.RecordRunResult(ctx, d.JobID, nil); err != nil {
		logger.Errorw("Failed to record run result", "job_id", d.JobID, "error", err)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func checkerConfig(cfg *config.Config) admission.CheckerConfig {
	c := admission.DefaultCheckerConfig()
	if cfg.Admission.CheckAttempts > 0 {
		c.Attempts = cfg.Admission.CheckAttempts
	}
	if cfg.Admission.CheckTimeoutSeconds > 0 {
		c.AttemptTimeout = time.Duration(cfg.Admission.CheckTimeoutSeconds) * time.Second
	}
	if cfg.Admission.BackoffInitialMs > 0 {
		c.BackoffInitial = time.Duration(cfg.Admission.BackoffInitialMs) * time.Millisecond
	}
	if cfg.Admission.BackoffMaxMs > 0 {
		c.BackoffMax = time.Duration(cfg.Admission.BackoffMaxMs) * time.Millisecond
	}
	if cfg.Admission.CacheTTLHours > 0 {
		c.CacheTTL = time.Duration(cfg.Admission.CacheTTLHours * float64(time.Hour))
	}
	return c
}

// buildCache returns a Redis-backed cache when configured and reachable,
// otherwise the in-memory cache. Admission correctness never depends on
// which one is active.
func buildCache(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) cache.Cache {
	if !cfg.Redis.Enabled {
		return cache.NewMemory()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	r := cache.NewRedis(client)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		log.Warnw("Redis unreachable, falling back to in-memory cache",
			"addr", cfg.Redis.Addr,
			"error", err)
		return cache.NewMemory()
	}

	log.Infow("Connected to Redis cache", "addr", cfg.Redis.Addr)
	return r
}

package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-autopilot/internal/api"
	"github.com/ignite/campaign-autopilot/internal/config"
	"github.com/ignite/campaign-autopilot/internal/engine"
	"github.com/ignite/campaign-autopilot/internal/pkg/keylock"
	"github.com/ignite/campaign-autopilot/internal/pkg/logger"
	"github.com/ignite/campaign-autopilot/internal/platform"
	"github.com/ignite/campaign-autopilot/internal/store"
	_ "github.com/lib/pq"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactSecrets != nil {
		logger.SetRedactSecrets(*cfg.Logging.RedactSecrets)
	}
	logger.Info("starting campaign autopilot engine")

	// Database connection
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		logger.Error("failed to ping database", "err", err)
		os.Exit(1)
	}
	cancelPing()
	logger.Info("connected to database")

	st := store.NewPostgres(db)

	// Campaign locks: Redis when configured, in-process otherwise. A single
	// engine instance only needs the in-process lock.
	var locks keylock.Lock = keylock.NewKeyed()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locks = keylock.NewRedisLock(rdb, 2*time.Minute)
		logger.Info("using redis campaign locks", "addr", cfg.Redis.Addr)
	}

	// External collaborators
	adPlatform := platform.NewAdPlatform(cfg.Platform)
	metrics := platform.NewMetricsClient(cfg.Metrics)
	predictor := platform.NewPredictorClient(cfg.Predictor)

	// Engine components
	manager := engine.NewManager(st)
	gateway := engine.NewGateway(st, locks)
	evaluator := engine.NewEvaluator(st, metrics, predictor, gateway, cfg.Metrics.Timeout())
	dispatcher := engine.NewDispatcher(st, adPlatform, manager, cfg.Engine.DispatchMaxAttempts, cfg.Platform.Timeout())
	scheduler := engine.NewScheduler(st, evaluator, dispatcher, locks, engine.SchedulerConfig{
		EvalInterval: cfg.Engine.EvalInterval(),
		Cooldown:     cfg.Engine.Cooldown(),
		PollInterval: cfg.Engine.PollInterval(),
		Workers:      cfg.Engine.Workers,
	})

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "err", err)
		os.Exit(1)
	}
	logger.Info("scheduler started",
		"eval_interval", cfg.Engine.EvalInterval(),
		"cooldown", cfg.Engine.Cooldown(),
		"workers", cfg.Engine.Workers)

	server := api.NewServer(cfg.Server, manager, gateway, scheduler, st, metrics, predictor)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", "err", err)
	}
	scheduler.Stop()
	logger.Info("stopped")
}

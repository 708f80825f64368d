// Package main runs the competition engine: lifecycle scheduler, snapshot and
// perps sync jobs, and the operational status server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/trading-arena/internal/adapter"
	"github.com/trading-arena/internal/api"
	"github.com/trading-arena/internal/cache"
	"github.com/trading-arena/internal/circuitbreaker"
	"github.com/trading-arena/internal/config"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/ratelimit"
	"github.com/trading-arena/internal/service"
	"github.com/trading-arena/internal/storage"
	"github.com/trading-arena/internal/types"
	"github.com/trading-arena/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Engine stopped with error")
	}
	logger.Info("Engine exited")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return fmt.Errorf("clickhouse: %w", err)
	}
	defer func() { _ = clickhouse.Close() }()

	checks := []api.HealthCheck{
		{Name: "postgres", Ping: postgres.Ping},
		{Name: "clickhouse", Ping: clickhouse.Ping},
	}

	var appCache cache.Cache = cache.NewMemory()
	var redis *storage.RedisCache
	if cfg.Cache.UseRedis {
		redis, err = storage.NewRedisCache(&cfg.Database.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = redis.Close() }()
		appCache = storage.NewCacheService(redis, "arena")
		checks = append(checks, api.HealthCheck{Name: "redis", Ping: redis.Ping})
	}
	logger.WithField("redisCache", cfg.Cache.UseRedis).Info("Database connections established")

	pool := postgres.Pool()
	competitions := storage.NewCompetitionRepository(pool)
	agents := storage.NewAgentRepository(pool)
	trades := storage.NewTradeRepository(pool)
	snapshotRepo := storage.NewSnapshotRepository(pool)
	perpsRepo := storage.NewPerpsRepository(pool)
	alerts := storage.NewAlertRepository(pool)
	transfers := storage.NewTransferRepository(clickhouse)

	breakers := circuitbreaker.NewManager()
	priceClient := adapter.NewPriceClient(cfg.PriceOracle, breakers)
	if cfg.PriceOracle.BudgetPerMinute > 0 {
		if redis == nil {
			logger.Warn("Price oracle budget requires Redis, requests are only rate limited per process")
		} else {
			budget, err := ratelimit.NewBudget(&ratelimit.BudgetConfig{
				Redis:    redis.Client(),
				Provider: "price-oracle",
				Total:    cfg.PriceOracle.BudgetPerMinute,
				Reserved: cfg.PriceOracle.ReservedForTrades,
				MaxWait:  cfg.PriceOracle.Timeout,
			})
			if err != nil {
				return fmt.Errorf("price oracle budget: %w", err)
			}
			priceClient.WithBudget(budget)
		}
	}
	prices := adapter.NewCachedPriceClient(priceClient, appCache, cfg.Cache.PriceTTL)
	perps := adapter.NewPerpsClient(cfg.Perps, breakers)

	var stakes service.StakeReader
	if cfg.Stake.RPCURL != "" {
		reader, closeReader, err := adapter.NewStakeReader(cfg.Stake)
		if err != nil {
			logger.WithError(err).Warn("Stake reader unavailable, minimum stake checks are disabled")
		} else {
			defer closeReader()
			stakes = reader
		}
	}

	workers := worker.NewPool(cfg.Scheduler.WorkerConcurrency)

	constraints := service.NewConstraintProvider(competitions, appCache, cfg.Cache.ConstraintsTTL, cfg.Trading.DefaultConstraints)
	portfolio := service.NewPortfolioService(trades, prices, appCache, cfg.Cache.PortfolioTTL)
	snapshots := service.NewSnapshotService(competitions, agents, snapshotRepo, portfolio)
	monitor := service.NewSelfFundingMonitor(perps, alerts, transfers, workers, cfg.SelfFunding)
	perpsSync := service.NewPerpsSyncService(agents, agents, perps, perpsRepo, snapshotRepo, monitor, workers)
	leaderboard := service.NewLeaderboardService(service.LeaderboardDeps{
		Competitions: competitions,
		Participants: agents,
		Persisted:    competitions,
		Perps:        perpsRepo,
		Snapshots:    snapshotRepo,
		Valuer:       portfolio,
		Agents:       agents,
	}, types.EvaluationMetric(cfg.Competition.DefaultEvaluationMetric))
	lifecycle := service.NewCompetitionService(service.CompetitionDeps{
		Competitions: competitions,
		Participants: agents,
		Balances:     trades,
		Constraints:  constraints,
		Snapshots:    snapshots,
		PerpsSync:    perpsSync,
		Leaderboard:  leaderboard,
		Portfolio:    portfolio,
		Stakes:       stakes,
		Pool:         workers,
	}, cfg.Trading)

	scheduler := worker.NewScheduler()
	for _, job := range engineJobs(cfg.Scheduler, competitions, lifecycle, snapshots, perpsSync) {
		if err := scheduler.Register(job); err != nil {
			return err
		}
	}

	server := api.NewServer(&api.ServerConfig{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  5 * time.Minute,
		IdleTimeout:   60 * time.Second,
		HealthTimeout: 3 * time.Second,
		TriggerRPS:    1,
	}, scheduler, breakers, logger, checks...)

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Engine started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("status server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Status server shutdown failed")
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}
	return runErr
}

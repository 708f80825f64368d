// Package main provides a CLI tool for running database migrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/trading-arena/internal/config"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/storage"
)

func main() {
	var (
		action = flag.String("action", "up", "Migration action: up, down, version, force")
		dbType = flag.String("db", "postgres", "Database type: postgres, clickhouse")
		steps  = flag.Int("steps", 1, "Number of migrations to roll back with -action=down")
		force  = flag.Int("version", -1, "Version to record with -action=force")
		dir    = flag.String("dir", "migrations", "Root directory holding postgres/ and clickhouse/ migrations")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().WithFields(map[string]interface{}{
		"db":     *dbType,
		"action": *action,
	})

	switch *dbType {
	case "postgres":
		err = runPostgres(cfg, *dir+"/postgres", *action, *steps, *force, logger)
	case "clickhouse":
		err = runClickHouse(cfg, *dir+"/clickhouse", *action, logger)
	default:
		err = fmt.Errorf("unknown database type: %s", *dbType)
	}
	if err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
}

func runPostgres(cfg *config.Config, path, action string, steps, force int, logger *logging.Logger) error {
	migrator, err := storage.NewMigrator(cfg.Database.Postgres.DSN(), path)
	if err != nil {
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close migrator")
		}
	}()

	switch action {
	case "up":
		if err := migrator.Up(); err != nil {
			return err
		}
	case "down":
		if err := migrator.Down(steps); err != nil {
			return err
		}
	case "force":
		if force < 0 {
			return fmt.Errorf("-version is required with -action=force")
		}
		if err := migrator.Force(force); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.WithFields(map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	}).Info("Postgres schema version")
	return nil
}

func runClickHouse(cfg *config.Config, path, action string, logger *logging.Logger) error {
	if action != "up" {
		return fmt.Errorf("ClickHouse migrations only support the up action")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("migrations directory not found: %s", path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := storage.RunClickHouseMigrations(logging.WithLogger(ctx, logger), db, os.DirFS(path)); err != nil {
		return err
	}
	logger.Info("ClickHouse migrations completed")
	return nil
}

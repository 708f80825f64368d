package main

import (
	"context"
	"errors"

	"github.com/trading-arena/internal/config"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/service"
	"github.com/trading-arena/internal/storage"
	"github.com/trading-arena/internal/worker"
)

type activeCompetitionReader interface {
	GetActive(ctx context.Context) (*models.Competition, error)
}

type lifecycleRunner interface {
	ProcessCompetitionEndDateChecks(ctx context.Context) (int, error)
	ProcessAutoStartChecks(ctx context.Context) (*models.Competition, error)
}

type snapshotTaker interface {
	TakePortfolioSnapshots(ctx context.Context, competitionID string, force bool) (int, error)
}

type perpsSyncer interface {
	SyncCompetition(ctx context.Context, competition *models.Competition, opts service.SyncOptions) (*service.SyncResult, error)
}

// engineJobs builds the periodic jobs of the engine
func engineJobs(cfg config.SchedulerConfig, competitions activeCompetitionReader, lifecycle lifecycleRunner, snapshots snapshotTaker, perps perpsSyncer) []worker.Job {
	// active returns the active competition or nil when none is running
	active := func(ctx context.Context) (*models.Competition, error) {
		c, err := competitions.GetActive(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return c, err
	}

	return []worker.Job{
		{
			Name:       "competition-end-check",
			Interval:   cfg.EndCheckInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				ended, err := lifecycle.ProcessCompetitionEndDateChecks(ctx)
				if ended > 0 {
					logging.FromContext(ctx).WithField("ended", ended).Info("Ended competitions past their end date")
				}
				return err
			},
		},
		{
			Name:       "competition-auto-start",
			Interval:   cfg.StartCheckInterval,
			RunOnStart: true,
			Run: func(ctx context.Context) error {
				started, err := lifecycle.ProcessAutoStartChecks(ctx)
				if started != nil {
					logging.FromContext(ctx).WithField("competitionId", started.ID).Info("Auto-started competition")
				}
				return err
			},
		},
		{
			Name:     "portfolio-snapshots",
			Interval: cfg.SnapshotInterval,
			Run: func(ctx context.Context) error {
				c, err := active(ctx)
				if err != nil || c == nil || c.IsPerps() {
					return err
				}
				n, err := snapshots.TakePortfolioSnapshots(ctx, c.ID, false)
				if err != nil {
					return err
				}
				logging.FromContext(ctx).WithFields(map[string]interface{}{
					"competitionId": c.ID,
					"snapshots":     n,
				}).Info("Portfolio snapshots taken")
				return nil
			},
		},
		{
			Name:     "perps-sync",
			Interval: cfg.PerpsSyncInterval,
			Run: func(ctx context.Context) error {
				c, err := active(ctx)
				if err != nil || c == nil || !c.IsPerps() {
					return err
				}
				result, err := perps.SyncCompetition(ctx, c, service.SyncOptions{})
				if err != nil {
					return err
				}
				fields := map[string]interface{}{
					"competitionId": c.ID,
					"synced":        result.Synced,
					"failed":        result.Failed,
				}
				if result.Monitor != nil {
					fields["alerts"] = result.Monitor.AlertsCreated
				}
				logging.FromContext(ctx).WithFields(fields).Info("Perps competition synced")
				return nil
			},
		},
	}
}

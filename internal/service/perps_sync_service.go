package service

import (
	"context"
	"fmt"

	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
	"github.com/trading-arena/internal/worker"
)

// PerpsStore persists synced perps account state and risk metrics
type PerpsStore interface {
	UpsertAccountSummaries(ctx context.Context, summaries []*models.PerpsAccountSummary) error
	UpsertRiskMetrics(ctx context.Context, m *models.RiskMetrics) error
}

// AgentLookup loads agents by ID
type AgentLookup interface {
	GetByIDs(ctx context.Context, ids []string) ([]*models.Agent, error)
}

// SyncOptions controls one perps sync
type SyncOptions struct {
	// AgentIDs overrides the active participant set
	AgentIDs []string
	// SkipMonitoring disables the self-funding checks after the sync
	SkipMonitoring bool
}

// SyncResult reports a perps sync
type SyncResult struct {
	Synced    int
	Failed    int
	Summaries map[string]*models.PerpsAccount
	Errors    map[string]string
	Monitor   *MonitorResult
}

// PerpsSyncService pulls external account state of perps participants into snapshots
type PerpsSyncService struct {
	participants ParticipantLister
	agents       AgentLookup
	provider     PerpsProvider
	perps        PerpsStore
	snapshots    SnapshotStore
	monitor      *SelfFundingMonitor
	pool         *worker.Pool
	now          Clock
}

// NewPerpsSyncService creates a perps sync service; monitor may be nil
func NewPerpsSyncService(participants ParticipantLister, agents AgentLookup, provider PerpsProvider, perps PerpsStore, snapshots SnapshotStore, monitor *SelfFundingMonitor, pool *worker.Pool) *PerpsSyncService {
	return &PerpsSyncService{
		participants: participants,
		agents:       agents,
		provider:     provider,
		perps:        perps,
		snapshots:    snapshots,
		monitor:      monitor,
		pool:         pool,
		now:          systemClock,
	}
}

// SyncCompetition fetches every participant's account summary, stores summaries and equity
// snapshots, recomputes risk metrics and finally runs the self-funding monitor on the
// prefetched summaries
func (s *PerpsSyncService) SyncCompetition(ctx context.Context, competition *models.Competition, opts SyncOptions) (*SyncResult, error) {
	logger := logging.FromContext(ctx).WithField("competitionId", competition.ID)

	agentIDs := opts.AgentIDs
	if agentIDs == nil {
		active := types.ParticipationActive
		participants, err := s.participants.ListParticipants(ctx, competition.ID, &active)
		if err != nil {
			return nil, fmt.Errorf("failed to list participants: %w", err)
		}
		for _, p := range participants {
			agentIDs = append(agentIDs, p.AgentID)
		}
	}

	result := &SyncResult{
		Summaries: make(map[string]*models.PerpsAccount),
		Errors:    make(map[string]string),
	}
	if len(agentIDs) == 0 {
		return result, nil
	}

	agents, err := s.agents.GetByIDs(ctx, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}

	fetched := worker.Map(ctx, s.pool, agents, func(ctx context.Context, a *models.Agent) (*models.PerpsAccount, error) {
		if !a.HasWallet() {
			return nil, fmt.Errorf("agent has no wallet address")
		}
		return s.provider.GetAccountSummary(ctx, *a.WalletAddress)
	})

	now := s.now()
	var summaries []*models.PerpsAccountSummary
	var snapshots []*models.PortfolioSnapshot
	var synced []*models.Agent
	for _, r := range fetched {
		if r.Err != nil {
			result.Failed++
			result.Errors[r.Item.ID] = r.Err.Error()
			logger.WithField("agentId", r.Item.ID).WithError(r.Err).Warn("Perps account sync failed")
			continue
		}
		result.Synced++
		result.Summaries[r.Item.ID] = r.Value
		synced = append(synced, r.Item)
		summaries = append(summaries, &models.PerpsAccountSummary{
			AgentID:        r.Item.ID,
			CompetitionID:  competition.ID,
			TotalEquity:    r.Value.TotalEquity,
			TotalPnl:       r.Value.TotalPnl,
			InitialCapital: r.Value.InitialCapital,
			SyncedAt:       now,
		})
		snapshots = append(snapshots, &models.PortfolioSnapshot{
			AgentID:       r.Item.ID,
			CompetitionID: competition.ID,
			Timestamp:     now,
			TotalValue:    r.Value.TotalEquity,
		})
	}

	if len(summaries) > 0 {
		if err := s.perps.UpsertAccountSummaries(ctx, summaries); err != nil {
			return nil, fmt.Errorf("failed to store account summaries: %w", err)
		}
		if err := s.snapshots.CreateBatch(ctx, snapshots); err != nil {
			return nil, fmt.Errorf("failed to store equity snapshots: %w", err)
		}
	}

	metrics := worker.Map(ctx, s.pool, synced, func(ctx context.Context, a *models.Agent) (struct{}, error) {
		series, err := s.snapshots.ListByAgent(ctx, competition.ID, a.ID)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.perps.UpsertRiskMetrics(ctx, CalculateRiskMetrics(a.ID, competition.ID, series, now))
	})
	for _, r := range metrics {
		if r.Err != nil {
			logger.WithField("agentId", r.Item.ID).WithError(r.Err).Warn("Risk metrics update failed")
		}
	}

	if !opts.SkipMonitoring && s.monitor != nil && competition.StartDate != nil && len(synced) > 0 {
		monitorResult, err := s.monitor.MonitorAgents(ctx, MonitorInput{
			Agents:        synced,
			Summaries:     result.Summaries,
			CompetitionID: competition.ID,
			StartDate:     *competition.StartDate,
		})
		if err != nil {
			logger.WithError(err).Error("Self-funding monitoring failed")
		}
		result.Monitor = monitorResult
	}

	logger.WithFields(map[string]interface{}{
		"synced": result.Synced,
		"failed": result.Failed,
	}).Info("Perps accounts synced")
	return result, nil
}

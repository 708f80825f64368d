package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/trading-arena/internal/errors"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/storage"
	"github.com/trading-arena/internal/types"
)

// SnapshotStore persists and queries the portfolio value time series
type SnapshotStore interface {
	CreateBatch(ctx context.Context, snapshots []*models.PortfolioSnapshot) error
	LatestPerAgent(ctx context.Context, competitionID string) ([]*models.PortfolioSnapshot, error)
	ListByAgent(ctx context.Context, competitionID, agentID string) ([]*models.PortfolioSnapshot, error)
	BulkAgentMetrics(ctx context.Context, competitionID string, agentIDs []string, now time.Time) ([]*models.AgentMetrics, error)
}

// ParticipantLister lists the participants of a competition, optionally filtered by status
type ParticipantLister interface {
	ListParticipants(ctx context.Context, competitionID string, status *types.ParticipationStatus) ([]*models.CompetitionParticipation, error)
}

// AgentValuer values many agents at once
type AgentValuer interface {
	ValueAgents(ctx context.Context, competitionID string, agentIDs []string) (map[string]decimal.Decimal, error)
}

// SnapshotService records portfolio value snapshots of spot competitions
type SnapshotService struct {
	competitions CompetitionReader
	participants ParticipantLister
	snapshots    SnapshotStore
	valuer       AgentValuer
	now          Clock
}

// NewSnapshotService creates a new snapshot service
func NewSnapshotService(competitions CompetitionReader, participants ParticipantLister, snapshots SnapshotStore, valuer AgentValuer) *SnapshotService {
	return &SnapshotService{
		competitions: competitions,
		participants: participants,
		snapshots:    snapshots,
		valuer:       valuer,
		now:          systemClock,
	}
}

// TakePortfolioSnapshots snapshots every active participant of a spot competition.
// Competitions that are not active are refused unless force is set.
func (s *SnapshotService) TakePortfolioSnapshots(ctx context.Context, competitionID string, force bool) (int, error) {
	competition, err := s.competitions.GetByID(ctx, competitionID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, apperrors.NewNotFoundError("competition", competitionID)
	}
	if err != nil {
		return 0, apperrors.NewDatabaseError("load competition", err)
	}
	if competition.Status != types.CompetitionStatusActive && !force {
		return 0, apperrors.NewPolicyError("COMPETITION_NOT_ACTIVE",
			fmt.Sprintf("competition %s is %s, snapshots are only taken while active", competitionID, competition.Status),
			map[string]interface{}{"competitionId": competitionID, "status": string(competition.Status)})
	}
	if competition.IsPerps() {
		logging.FromContext(ctx).WithField("competitionId", competitionID).
			Debug("Skipping balance snapshots for perps competition")
		return 0, nil
	}

	active := types.ParticipationActive
	participants, err := s.participants.ListParticipants(ctx, competitionID, &active)
	if err != nil {
		return 0, apperrors.NewDatabaseError("list participants", err)
	}
	agentIDs := make([]string, len(participants))
	for i, p := range participants {
		agentIDs[i] = p.AgentID
	}
	return s.SnapshotAgents(ctx, competitionID, agentIDs)
}

// SnapshotAgents values agentIDs from their balances and stores one snapshot per agent
func (s *SnapshotService) SnapshotAgents(ctx context.Context, competitionID string, agentIDs []string) (int, error) {
	if len(agentIDs) == 0 {
		return 0, nil
	}

	values, err := s.valuer.ValueAgents(ctx, competitionID, agentIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to value portfolios: %w", err)
	}

	now := s.now()
	batch := make([]*models.PortfolioSnapshot, 0, len(agentIDs))
	for _, id := range agentIDs {
		batch = append(batch, &models.PortfolioSnapshot{
			AgentID:       id,
			CompetitionID: competitionID,
			Timestamp:     now,
			TotalValue:    values[id],
		})
	}
	if err := s.snapshots.CreateBatch(ctx, batch); err != nil {
		return 0, apperrors.NewDatabaseError("store snapshots", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"competitionId": competitionID,
		"snapshots":     len(batch),
	}).Info("Portfolio snapshots taken")
	return len(batch), nil
}

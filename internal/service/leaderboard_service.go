package service

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	apperrors "github.com/trading-arena/internal/errors"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/storage"
	"github.com/trading-arena/internal/types"
)

// MissingMetricScore is persisted for perps agents lacking the evaluation metric.
// Persisted entries also carry HasRiskMetrics and the nullable ratio itself.
const MissingMetricScore = -999999.0

// PersistedLeaderboardReader reads the frozen leaderboard of an ended competition
type PersistedLeaderboardReader interface {
	GetLeaderboard(ctx context.Context, competitionID string) ([]*models.LeaderboardEntry, error)
}

// RiskLeaderboardReader returns the ordered risk-adjusted view of a perps competition
type RiskLeaderboardReader interface {
	GetRiskAdjustedLeaderboard(ctx context.Context, competitionID string, metric types.EvaluationMetric) ([]*models.LeaderboardEntry, error)
}

// AgentDirectory reads agents and their global skill ranks
type AgentDirectory interface {
	GetByIDs(ctx context.Context, ids []string) ([]*models.Agent, error)
	GetRanks(ctx context.Context, agentIDs []string) (map[string]*models.AgentRank, error)
}

// LeaderboardService derives competition standings
type LeaderboardService struct {
	competitions  CompetitionReader
	participants  ParticipantLister
	persisted     PersistedLeaderboardReader
	perps         RiskLeaderboardReader
	snapshots     SnapshotStore
	valuer        AgentValuer
	agents        AgentDirectory
	defaultMetric types.EvaluationMetric
	now           Clock
}

// LeaderboardDeps groups the collaborators of a LeaderboardService
type LeaderboardDeps struct {
	Competitions CompetitionReader
	Participants ParticipantLister
	Persisted    PersistedLeaderboardReader
	Perps        RiskLeaderboardReader
	Snapshots    SnapshotStore
	Valuer       AgentValuer
	Agents       AgentDirectory
}

// NewLeaderboardService creates a leaderboard service
func NewLeaderboardService(deps LeaderboardDeps, defaultMetric types.EvaluationMetric) *LeaderboardService {
	if !defaultMetric.Valid() {
		defaultMetric = types.MetricCalmarRatio
	}
	return &LeaderboardService{
		competitions:  deps.Competitions,
		participants:  deps.Participants,
		persisted:     deps.Persisted,
		perps:         deps.Perps,
		snapshots:     deps.Snapshots,
		valuer:        deps.Valuer,
		agents:        deps.Agents,
		defaultMetric: defaultMetric,
		now:           systemClock,
	}
}

// EvaluationMetric returns the metric ranking a perps competition
func (s *LeaderboardService) EvaluationMetric(c *models.Competition) types.EvaluationMetric {
	if c.EvaluationMetric.Valid() {
		return c.EvaluationMetric
	}
	return s.defaultMetric
}

// GetLeaderboard returns the standings of a competition according to its status:
// skill ranks while pending, the persisted board once ended, and live standings otherwise.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, competitionID string) ([]*models.LeaderboardEntry, error) {
	competition, err := s.competitions.GetByID(ctx, competitionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("competition", competitionID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load competition", err)
	}

	switch competition.Status {
	case types.CompetitionStatusPending:
		return s.pendingBoard(ctx, competitionID)
	case types.CompetitionStatusEnded:
		entries, err := s.persisted.GetLeaderboard(ctx, competitionID)
		if err != nil {
			return nil, apperrors.NewDatabaseError("load persisted leaderboard", err)
		}
		if len(entries) > 0 {
			return entries, nil
		}
	}
	return s.liveBoard(ctx, competition)
}

// GetAgentMetrics returns pnl and 24h change for agents from their snapshots in one query
func (s *LeaderboardService) GetAgentMetrics(ctx context.Context, competitionID string, agentIDs []string) ([]*models.AgentMetrics, error) {
	metrics, err := s.snapshots.BulkAgentMetrics(ctx, competitionID, agentIDs, s.now())
	if err != nil {
		return nil, apperrors.NewDatabaseError("load agent metrics", err)
	}
	return metrics, nil
}

// ScoreForPersistence returns the score stored with a final leaderboard entry:
// the evaluation metric for perps (MissingMetricScore when absent) and the portfolio value for spot
func (s *LeaderboardService) ScoreForPersistence(entry *models.LeaderboardEntry, competition *models.Competition) float64 {
	if !competition.IsPerps() {
		return entry.Value.InexactFloat64()
	}
	if v := metricValue(entry, s.EvaluationMetric(competition)); v != nil {
		return *v
	}
	return MissingMetricScore
}

func metricValue(e *models.LeaderboardEntry, metric types.EvaluationMetric) *float64 {
	switch metric {
	case types.MetricCalmarRatio:
		return e.CalmarRatio
	case types.MetricSortinoRatio:
		return e.SortinoRatio
	case types.MetricSimpleReturn:
		return e.SimpleReturn
	}
	return nil
}

// ComputeFinal builds the board persisted at competition end: active participants in live order,
// followed by withdrawn and disqualified participants, ranks continuing.
func (s *LeaderboardService) ComputeFinal(ctx context.Context, competition *models.Competition) ([]*models.LeaderboardEntry, error) {
	entries, err := s.liveBoard(ctx, competition)
	if err != nil {
		return nil, err
	}

	all, err := s.participants.ListParticipants(ctx, competition.ID, nil)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list participants", err)
	}
	var inactiveIDs []string
	for _, p := range all {
		if p.Status != types.ParticipationActive {
			inactiveIDs = append(inactiveIDs, p.AgentID)
		}
	}
	if len(inactiveIDs) > 0 {
		inactive, err := s.spotEntries(ctx, competition.ID, inactiveIDs)
		if err != nil {
			return nil, err
		}
		if err := s.attachNames(ctx, inactive); err != nil {
			return nil, err
		}
		for _, e := range inactive {
			e.Active = false
			e.Rank = len(entries) + 1
			entries = append(entries, e)
		}
	}

	for _, e := range entries {
		e.Score = s.ScoreForPersistence(e, competition)
	}
	return entries, nil
}

func (s *LeaderboardService) activeAgentIDs(ctx context.Context, competitionID string) ([]string, error) {
	active := types.ParticipationActive
	participants, err := s.participants.ListParticipants(ctx, competitionID, &active)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list participants", err)
	}
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.AgentID
	}
	return ids, nil
}

func (s *LeaderboardService) pendingBoard(ctx context.Context, competitionID string) ([]*models.LeaderboardEntry, error) {
	ids, err := s.activeAgentIDs(ctx, competitionID)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	ranks, err := s.agents.GetRanks(ctx, ids)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load agent ranks", err)
	}

	entries := make([]*models.LeaderboardEntry, len(ids))
	for i, id := range ids {
		e := &models.LeaderboardEntry{AgentID: id, Active: true}
		if r, ok := ranks[id]; ok && r != nil {
			e.Score = r.Score
		}
		entries[i] = e
	}
	sort.SliceStable(entries, func(i, j int) bool {
		_, hi := ranks[entries[i].AgentID]
		_, hj := ranks[entries[j].AgentID]
		if hi != hj {
			return hi
		}
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].AgentID < entries[j].AgentID
	})
	assignRanks(entries)
	return entries, s.attachNames(ctx, entries)
}

// liveBoard ranks active participants from snapshots, falling back to live valuation
// for agents that have none
func (s *LeaderboardService) liveBoard(ctx context.Context, competition *models.Competition) ([]*models.LeaderboardEntry, error) {
	if competition.IsPerps() {
		entries, err := s.perps.GetRiskAdjustedLeaderboard(ctx, competition.ID, s.EvaluationMetric(competition))
		if err != nil {
			return nil, apperrors.NewDatabaseError("load risk-adjusted leaderboard", err)
		}
		return entries, nil
	}

	ids, err := s.activeAgentIDs(ctx, competition.ID)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	entries, err := s.spotEntries(ctx, competition.ID, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return spotLess(entries[i], entries[j]) })
	assignRanks(entries)
	return entries, s.attachNames(ctx, entries)
}

// spotLess orders by portfolio value descending, then agent ID
func spotLess(a, b *models.LeaderboardEntry) bool {
	if c := a.Value.Cmp(b.Value); c != 0 {
		return c > 0
	}
	return a.AgentID < b.AgentID
}

func (s *LeaderboardService) spotEntries(ctx context.Context, competitionID string, agentIDs []string) ([]*models.LeaderboardEntry, error) {
	latest, err := s.snapshots.LatestPerAgent(ctx, competitionID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load latest snapshots", err)
	}
	values := make(map[string]decimal.Decimal, len(latest))
	for _, snap := range latest {
		values[snap.AgentID] = snap.TotalValue
	}

	var missing []string
	for _, id := range agentIDs {
		if _, ok := values[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		live, err := s.valuer.ValueAgents(ctx, competitionID, missing)
		if err != nil {
			return nil, apperrors.NewUpstreamError("portfolio valuation", err)
		}
		for id, v := range live {
			values[id] = v
		}
	}

	metrics, err := s.GetAgentMetrics(ctx, competitionID, agentIDs)
	if err != nil {
		return nil, err
	}
	starting := make(map[string]decimal.Decimal, len(metrics))
	for _, m := range metrics {
		starting[m.AgentID] = m.StartingValue
	}

	entries := make([]*models.LeaderboardEntry, len(agentIDs))
	for i, id := range agentIDs {
		value := values[id]
		start, ok := starting[id]
		if !ok {
			start = value
		}
		entries[i] = &models.LeaderboardEntry{
			AgentID:       id,
			Value:         value,
			StartingValue: start,
			Pnl:           value.Sub(start),
			Active:        true,
		}
	}
	return entries, nil
}

func (s *LeaderboardService) attachNames(ctx context.Context, entries []*models.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.AgentID
	}
	agents, err := s.agents.GetByIDs(ctx, ids)
	if err != nil {
		return apperrors.NewDatabaseError("load agents", err)
	}
	names := make(map[string]string, len(agents))
	for _, a := range agents {
		names[a.ID] = a.Name
	}
	for _, e := range entries {
		e.AgentName = names[e.AgentID]
	}
	return nil
}

func assignRanks(entries []*models.LeaderboardEntry) {
	for i, e := range entries {
		e.Rank = i + 1
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/trading-arena/internal/config"
	apperrors "github.com/trading-arena/internal/errors"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/storage"
	"github.com/trading-arena/internal/types"
	"github.com/trading-arena/internal/worker"
)

const insufficientFundingReason = "insufficient initial funding"

// CompetitionStore persists competitions and their status transitions
type CompetitionStore interface {
	GetByID(ctx context.Context, id string) (*models.Competition, error)
	GetActive(ctx context.Context) (*models.Competition, error)
	ListDueToEnd(ctx context.Context, now time.Time) ([]*models.Competition, error)
	ListDueToStart(ctx context.Context, now time.Time) ([]*models.Competition, error)
	Transition(ctx context.Context, id string, from, to types.CompetitionStatus) (*models.Competition, error)
	Finalize(ctx context.Context, in storage.FinalizeInput) (*models.Competition, error)
}

// ParticipantStore manages agents and their participation
type ParticipantStore interface {
	GetByID(ctx context.Context, id string) (*models.Agent, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Agent, error)
	GetParticipation(ctx context.Context, competitionID, agentID string) (*models.CompetitionParticipation, error)
	ListParticipants(ctx context.Context, competitionID string, status *types.ParticipationStatus) ([]*models.CompetitionParticipation, error)
	AddParticipant(ctx context.Context, competitionID, agentID string) error
	UpdateParticipationStatus(ctx context.Context, competitionID, agentID string, status types.ParticipationStatus, reason *string) error
	GetRanks(ctx context.Context, agentIDs []string) (map[string]*models.AgentRank, error)
}

// BalanceResetter replaces an agent's balances with a starting allocation
type BalanceResetter interface {
	ResetBalances(ctx context.Context, agentID, competitionID string, allocation []*models.Balance) error
}

// Caller identifies who is acting on an agent: a user session or the agent's own API key
type Caller struct {
	UserID  string
	AgentID string
}

// JoinInput registers an agent in a pending competition
type JoinInput struct {
	CompetitionID string
	AgentID       string
	Caller        Caller
}

// LeaveInput withdraws an agent from a competition
type LeaveInput struct {
	CompetitionID string
	AgentID       string
	Caller        Caller
}

// EndResult is the frozen outcome of a competition
type EndResult struct {
	Competition *models.Competition        `json:"competition"`
	Leaderboard []*models.LeaderboardEntry `json:"leaderboard"`
}

// CompetitionDeps groups the collaborators of a CompetitionService
type CompetitionDeps struct {
	Competitions CompetitionStore
	Participants ParticipantStore
	Balances     BalanceResetter
	Constraints  *ConstraintProvider
	Snapshots    *SnapshotService
	PerpsSync    *PerpsSyncService
	Leaderboard  *LeaderboardService
	Portfolio    *PortfolioService
	// Stakes is optional; minimum stake checks are skipped without it
	Stakes StakeReader
	Pool   *worker.Pool
}

// CompetitionService drives competitions through pending, active, ending and ended
type CompetitionService struct {
	competitions CompetitionStore
	participants ParticipantStore
	balances     BalanceResetter
	constraints  *ConstraintProvider
	snapshots    *SnapshotService
	perpsSync    *PerpsSyncService
	leaderboard  *LeaderboardService
	portfolio    *PortfolioService
	stakes       StakeReader
	pool         *worker.Pool

	allocation []config.InitialBalance
	flight     singleflight.Group
	now        Clock
}

// NewCompetitionService creates a competition service
func NewCompetitionService(deps CompetitionDeps, cfg config.TradingConfig) *CompetitionService {
	return &CompetitionService{
		competitions: deps.Competitions,
		participants: deps.Participants,
		balances:     deps.Balances,
		constraints:  deps.Constraints,
		snapshots:    deps.Snapshots,
		perpsSync:    deps.PerpsSync,
		leaderboard:  deps.Leaderboard,
		portfolio:    deps.Portfolio,
		stakes:       deps.Stakes,
		pool:         deps.Pool,
		allocation:   cfg.InitialBalances,
		now:          systemClock,
	}
}

func (s *CompetitionService) load(ctx context.Context, id string) (*models.Competition, error) {
	c, err := s.competitions.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("competition", id)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load competition", err)
	}
	return c, nil
}

// StartCompetition activates a pending competition with agentIDs plus every pre-registered agent.
// Starting an already active competition returns it unchanged.
func (s *CompetitionService) StartCompetition(ctx context.Context, competitionID string, agentIDs []string, constraints *models.TradingConstraints) (*models.Competition, error) {
	v, err, _ := s.flight.Do("start:"+competitionID, func() (interface{}, error) {
		return s.start(ctx, competitionID, agentIDs, constraints)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Competition), nil
}

func (s *CompetitionService) start(ctx context.Context, competitionID string, agentIDs []string, override *models.TradingConstraints) (*models.Competition, error) {
	logger := logging.FromContext(ctx).WithField("competitionId", competitionID)

	competition, err := s.load(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	switch competition.Status {
	case types.CompetitionStatusActive:
		return competition, nil
	case types.CompetitionStatusPending:
	default:
		return nil, apperrors.NewInvalidTransitionError(competitionID, competition.Status, types.CompetitionStatusActive)
	}

	active, err := s.competitions.GetActive(ctx)
	switch {
	case err == nil && active.ID != competitionID:
		return nil, apperrors.NewConflictError(fmt.Sprintf("competition %s is already active", active.ID))
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, apperrors.NewDatabaseError("load active competition", err)
	}

	ids, err := s.participantSet(ctx, competitionID, agentIDs)
	if err != nil {
		return nil, err
	}
	agents, err := s.participants.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load agents", err)
	}
	if len(agents) != len(ids) {
		found := make(map[string]bool, len(agents))
		for _, a := range agents {
			found[a.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, apperrors.NewNotFoundError("agent", id)
			}
		}
	}
	if competition.IsPerps() {
		for _, a := range agents {
			if !a.HasWallet() {
				return nil, apperrors.NewPolicyError("WALLET_REQUIRED",
					fmt.Sprintf("agent %s has no wallet address, required for perpetual futures competitions", a.ID),
					map[string]interface{}{"agentId": a.ID})
			}
		}
	}

	if err := s.enroll(ctx, competition, ids); err != nil {
		return nil, err
	}

	if _, err := s.constraints.Ensure(ctx, competitionID, override); err != nil {
		return nil, err
	}

	if err := s.initialSnapshot(ctx, competition, agents); err != nil {
		return nil, err
	}

	started, err := s.competitions.Transition(ctx, competitionID, types.CompetitionStatusPending, types.CompetitionStatusActive)
	switch {
	case errors.Is(err, storage.ErrTransitionLost):
		current, err := s.load(ctx, competitionID)
		if err != nil {
			return nil, err
		}
		if current.Status != types.CompetitionStatusActive {
			return nil, apperrors.NewInvalidTransitionError(competitionID, current.Status, types.CompetitionStatusActive)
		}
		logger.Info("Competition was started by another caller")
		return current, nil
	case errors.Is(err, storage.ErrActiveCompetitionExists):
		return nil, apperrors.NewConflictError("another competition is already active")
	case err != nil:
		return nil, apperrors.NewDatabaseError("start competition", err)
	}

	logger.WithField("participants", len(ids)).Info("Competition started")
	return started, nil
}

// participantSet unions the caller's agents with the registered ones, keeping first-seen order
func (s *CompetitionService) participantSet(ctx context.Context, competitionID string, agentIDs []string) ([]string, error) {
	active := types.ParticipationActive
	registered, err := s.participants.ListParticipants(ctx, competitionID, &active)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list participants", err)
	}

	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range agentIDs {
		add(id)
	}
	for _, p := range registered {
		add(p.AgentID)
	}
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("agentIds", "competition has no participants")
	}
	return ids, nil
}

// enroll registers every agent and, for spot competitions, resets its balances
func (s *CompetitionService) enroll(ctx context.Context, competition *models.Competition, agentIDs []string) error {
	results := worker.Map(ctx, s.pool, agentIDs, func(ctx context.Context, agentID string) (struct{}, error) {
		err := s.participants.AddParticipant(ctx, competition.ID, agentID)
		if err != nil && !errors.Is(err, storage.ErrAlreadyParticipating) {
			return struct{}{}, s.participationError(competition, agentID, err)
		}
		if competition.IsPerps() {
			return struct{}{}, nil
		}
		if err := s.balances.ResetBalances(ctx, agentID, competition.ID, s.startingBalances(agentID, competition.ID)); err != nil {
			return struct{}{}, apperrors.NewDatabaseError("reset balances", err)
		}
		if s.portfolio != nil {
			if err := s.portfolio.InvalidateAgent(ctx, agentID, competition.ID); err != nil {
				logging.FromContext(ctx).WithField("agentId", agentID).WithError(err).Warn("Failed to invalidate portfolio cache")
			}
		}
		return struct{}{}, nil
	})
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

func (s *CompetitionService) startingBalances(agentID, competitionID string) []*models.Balance {
	out := make([]*models.Balance, 0, len(s.allocation))
	for _, b := range s.allocation {
		out = append(out, &models.Balance{
			AgentID:       agentID,
			CompetitionID: competitionID,
			TokenAddress:  b.TokenAddress,
			Amount:        b.Amount,
			Symbol:        b.Symbol,
			SpecificChain: types.SpecificChain(b.SpecificChain),
		})
	}
	return out
}

// initialSnapshot records starting values before the competition opens. Perps agents whose
// synced equity is below the funding threshold are disqualified.
func (s *CompetitionService) initialSnapshot(ctx context.Context, competition *models.Competition, agents []*models.Agent) error {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}

	if !competition.IsPerps() {
		if _, err := s.snapshots.SnapshotAgents(ctx, competition.ID, ids); err != nil {
			return apperrors.NewInternalError("initial snapshot failed", err)
		}
		return nil
	}

	result, err := s.perpsSync.SyncCompetition(ctx, competition, SyncOptions{AgentIDs: ids, SkipMonitoring: true})
	if err != nil {
		return apperrors.NewInternalError("initial perps sync failed", err)
	}
	threshold := competition.MinimumFundingThreshold
	if threshold == nil || !threshold.IsPositive() {
		return nil
	}

	reason := insufficientFundingReason
	for _, id := range ids {
		account, ok := result.Summaries[id]
		if !ok || minimumEquity(account.TotalEquity, threshold) {
			continue
		}
		if err := s.participants.UpdateParticipationStatus(ctx, competition.ID, id, types.ParticipationDisqualified, &reason); err != nil {
			return apperrors.NewDatabaseError("disqualify underfunded agent", err)
		}
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"competitionId": competition.ID,
			"agentId":       id,
			"equity":        account.TotalEquity.String(),
			"threshold":     threshold.String(),
		}).Warn("Agent disqualified for insufficient initial funding")
	}
	return nil
}

// EndCompetition freezes the leaderboard of an active or ending competition.
// Ending an already ended competition returns the persisted result.
func (s *CompetitionService) EndCompetition(ctx context.Context, competitionID string) (*EndResult, error) {
	v, err, _ := s.flight.Do("end:"+competitionID, func() (interface{}, error) {
		return s.end(ctx, competitionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*EndResult), nil
}

func (s *CompetitionService) end(ctx context.Context, competitionID string) (*EndResult, error) {
	logger := logging.FromContext(ctx).WithField("competitionId", competitionID)

	competition, err := s.load(ctx, competitionID)
	if err != nil {
		return nil, err
	}

	switch competition.Status {
	case types.CompetitionStatusEnded:
		return s.persistedResult(ctx, competition)
	case types.CompetitionStatusPending:
		return nil, apperrors.NewInvalidTransitionError(competitionID, competition.Status, types.CompetitionStatusEnded)
	case types.CompetitionStatusActive:
		ending, err := s.competitions.Transition(ctx, competitionID, types.CompetitionStatusActive, types.CompetitionStatusEnding)
		switch {
		case errors.Is(err, storage.ErrTransitionLost):
			if competition, err = s.load(ctx, competitionID); err != nil {
				return nil, err
			}
			if competition.Status == types.CompetitionStatusEnded {
				return s.persistedResult(ctx, competition)
			}
		case err != nil:
			return nil, apperrors.NewDatabaseError("mark competition ending", err)
		default:
			competition = ending
		}
	}

	s.finalSnapshot(ctx, competition)

	entries, err := s.leaderboard.ComputeFinal(ctx, competition)
	if err != nil {
		return nil, err
	}

	var ordered []string
	for _, e := range entries {
		if e.Active {
			ordered = append(ordered, e.AgentID)
		}
	}
	current, err := s.participants.GetRanks(ctx, ordered)
	if err != nil {
		return nil, apperrors.NewDatabaseError("load agent ranks", err)
	}

	ended, err := s.competitions.Finalize(ctx, storage.FinalizeInput{
		CompetitionID: competitionID,
		Entries:       entries,
		Ranks:         UpdateSkillRanks(current, ordered, s.now()),
	})
	if errors.Is(err, storage.ErrTransitionLost) {
		logger.Info("Competition was ended by another caller")
		current, err := s.load(ctx, competitionID)
		if err != nil {
			return nil, err
		}
		return s.persistedResult(ctx, current)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("finalize competition", err)
	}

	logger.WithField("entries", len(entries)).Info("Competition ended")
	return &EndResult{Competition: ended, Leaderboard: entries}, nil
}

// finalSnapshot takes the closing snapshot round; failures fall back to the latest stored values
func (s *CompetitionService) finalSnapshot(ctx context.Context, competition *models.Competition) {
	logger := logging.FromContext(ctx).WithField("competitionId", competition.ID)
	if competition.IsPerps() {
		if _, err := s.perpsSync.SyncCompetition(ctx, competition, SyncOptions{}); err != nil {
			logger.WithError(err).Error("Final perps sync failed")
		}
		return
	}
	if _, err := s.snapshots.TakePortfolioSnapshots(ctx, competition.ID, true); err != nil {
		logger.WithError(err).Error("Final snapshot failed")
	}
}

func (s *CompetitionService) persistedResult(ctx context.Context, competition *models.Competition) (*EndResult, error) {
	entries, err := s.leaderboard.GetLeaderboard(ctx, competition.ID)
	if err != nil {
		return nil, err
	}
	return &EndResult{Competition: competition, Leaderboard: entries}, nil
}

// authorize checks that caller owns or is the agent
func (s *CompetitionService) authorize(ctx context.Context, agentID string, caller Caller) (*models.Agent, error) {
	if caller.UserID == "" && caller.AgentID == "" {
		return nil, apperrors.NewUnauthorizedError("authentication required")
	}
	agent, err := s.participants.GetByID(ctx, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("agent", agentID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load agent", err)
	}
	if caller.AgentID != "" {
		if caller.AgentID != agent.ID {
			return nil, apperrors.NewForbiddenError("agents can only act on their own participation")
		}
		return agent, nil
	}
	if caller.UserID != agent.OwnerID {
		return nil, apperrors.NewForbiddenError("caller does not own this agent")
	}
	return agent, nil
}

// JoinCompetition registers an agent in a pending competition inside its join window
func (s *CompetitionService) JoinCompetition(ctx context.Context, in JoinInput) error {
	agent, err := s.authorize(ctx, in.AgentID, in.Caller)
	if err != nil {
		return err
	}
	if agent.Status != "" && agent.Status != "active" {
		return apperrors.NewPolicyError("AGENT_NOT_ELIGIBLE",
			fmt.Sprintf("agent %s is %s and cannot join competitions", agent.ID, agent.Status),
			map[string]interface{}{"agentId": agent.ID, "status": agent.Status})
	}

	competition, err := s.load(ctx, in.CompetitionID)
	if err != nil {
		return err
	}
	if competition.Status != types.CompetitionStatusPending {
		return apperrors.NewPolicyError("COMPETITION_ALREADY_STARTED",
			fmt.Sprintf("competition %s is %s, agents can only join pending competitions", competition.ID, competition.Status),
			map[string]interface{}{"competitionId": competition.ID, "status": string(competition.Status)})
	}
	if !competition.JoinWindowOpen(s.now()) {
		return apperrors.NewPolicyError("JOIN_WINDOW_CLOSED",
			fmt.Sprintf("competition %s is outside its join window", competition.ID),
			map[string]interface{}{"competitionId": competition.ID})
	}

	participation, err := s.participants.GetParticipation(ctx, competition.ID, agent.ID)
	switch {
	case err == nil && participation.Status == types.ParticipationActive:
		return apperrors.NewConflictError(fmt.Sprintf("agent %s is already participating in competition %s", agent.ID, competition.ID))
	case err == nil && participation.Status == types.ParticipationDisqualified:
		return apperrors.NewPolicyError("AGENT_DISQUALIFIED",
			fmt.Sprintf("agent %s was disqualified from competition %s", agent.ID, competition.ID),
			map[string]interface{}{"agentId": agent.ID, "competitionId": competition.ID})
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return apperrors.NewDatabaseError("load participation", err)
	}

	if competition.IsPerps() && !agent.HasWallet() {
		return apperrors.NewPolicyError("WALLET_REQUIRED",
			fmt.Sprintf("agent %s has no wallet address, required for perpetual futures competitions", agent.ID),
			map[string]interface{}{"agentId": agent.ID})
	}
	if err := s.checkStake(ctx, competition, agent); err != nil {
		return err
	}

	if err := s.participants.AddParticipant(ctx, competition.ID, agent.ID); err != nil {
		return s.participationError(competition, agent.ID, err)
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"competitionId": competition.ID,
		"agentId":       agent.ID,
	}).Info("Agent joined competition")
	return nil
}

func (s *CompetitionService) checkStake(ctx context.Context, competition *models.Competition, agent *models.Agent) error {
	if competition.MinimumStake == nil || !competition.MinimumStake.IsPositive() {
		return nil
	}
	if s.stakes == nil {
		logging.FromContext(ctx).WithField("competitionId", competition.ID).Warn("Minimum stake configured but no stake reader available")
		return nil
	}
	if !agent.HasWallet() {
		return apperrors.NewPolicyError("WALLET_REQUIRED",
			fmt.Sprintf("agent %s needs a wallet address to verify its stake", agent.ID),
			map[string]interface{}{"agentId": agent.ID})
	}
	staked, err := s.stakes.GetStake(ctx, *agent.WalletAddress)
	if err != nil {
		return err
	}
	if staked.LessThan(*competition.MinimumStake) {
		return apperrors.NewPolicyError("INSUFFICIENT_STAKE",
			fmt.Sprintf("agent %s has staked %s, competition requires %s", agent.ID, staked.String(), competition.MinimumStake.String()),
			map[string]interface{}{
				"agentId":  agent.ID,
				"staked":   staked.String(),
				"required": competition.MinimumStake.String(),
			})
	}
	return nil
}

func (s *CompetitionService) participationError(competition *models.Competition, agentID string, err error) error {
	switch {
	case errors.Is(err, storage.ErrAlreadyParticipating):
		return apperrors.NewConflictError(fmt.Sprintf("agent %s is already participating in competition %s", agentID, competition.ID))
	case errors.Is(err, storage.ErrOwnerAlreadyParticipating):
		return apperrors.NewConflictError(fmt.Sprintf("the owner of agent %s already has an agent in competition %s", agentID, competition.ID))
	case errors.Is(err, storage.ErrParticipantLimit):
		limit := 0
		if competition.MaxParticipants != nil {
			limit = *competition.MaxParticipants
		}
		return apperrors.NewParticipantLimitError(competition.ID, limit)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError("competition", competition.ID)
	}
	return apperrors.NewDatabaseError("add participant", err)
}

// LeaveCompetition withdraws an agent before or during a competition
func (s *CompetitionService) LeaveCompetition(ctx context.Context, in LeaveInput) error {
	agent, err := s.authorize(ctx, in.AgentID, in.Caller)
	if err != nil {
		return err
	}
	competition, err := s.load(ctx, in.CompetitionID)
	if err != nil {
		return err
	}
	if competition.Status == types.CompetitionStatusEnded {
		return apperrors.NewPolicyError("COMPETITION_ENDED",
			fmt.Sprintf("competition %s has ended", competition.ID),
			map[string]interface{}{"competitionId": competition.ID})
	}

	participation, err := s.participants.GetParticipation(ctx, competition.ID, agent.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError("participation", agent.ID)
	}
	if err != nil {
		return apperrors.NewDatabaseError("load participation", err)
	}
	switch participation.Status {
	case types.ParticipationWithdrawn:
		return nil
	case types.ParticipationDisqualified:
		return apperrors.NewPolicyError("AGENT_DISQUALIFIED",
			fmt.Sprintf("agent %s was disqualified from competition %s", agent.ID, competition.ID),
			map[string]interface{}{"agentId": agent.ID, "competitionId": competition.ID})
	}

	reason := "withdrawn by owner"
	if err := s.participants.UpdateParticipationStatus(ctx, competition.ID, agent.ID, types.ParticipationWithdrawn, &reason); err != nil {
		return apperrors.NewDatabaseError("withdraw participant", err)
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"competitionId": competition.ID,
		"agentId":       agent.ID,
	}).Info("Agent left competition")
	return nil
}

// RemoveAgent disqualifies a participant of a competition that has not ended
func (s *CompetitionService) RemoveAgent(ctx context.Context, competitionID, agentID, reason string) error {
	if reason == "" {
		return apperrors.NewValidationError("reason", "required")
	}
	if err := s.requireNotEnded(ctx, competitionID); err != nil {
		return err
	}
	err := s.participants.UpdateParticipationStatus(ctx, competitionID, agentID, types.ParticipationDisqualified, &reason)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError("participation", agentID)
	}
	if err != nil {
		return apperrors.NewDatabaseError("disqualify participant", err)
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"competitionId": competitionID,
		"agentId":       agentID,
		"reason":        reason,
	}).Info("Agent removed from competition")
	return nil
}

// ReactivateAgent restores a withdrawn or disqualified participant of a competition that has not ended
func (s *CompetitionService) ReactivateAgent(ctx context.Context, competitionID, agentID string) error {
	if err := s.requireNotEnded(ctx, competitionID); err != nil {
		return err
	}
	participation, err := s.participants.GetParticipation(ctx, competitionID, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.NewNotFoundError("participation", agentID)
	}
	if err != nil {
		return apperrors.NewDatabaseError("load participation", err)
	}
	if participation.Status == types.ParticipationActive {
		return nil
	}
	if err := s.participants.UpdateParticipationStatus(ctx, competitionID, agentID, types.ParticipationActive, nil); err != nil {
		return apperrors.NewDatabaseError("reactivate participant", err)
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"competitionId": competitionID,
		"agentId":       agentID,
	}).Info("Agent reactivated in competition")
	return nil
}

func (s *CompetitionService) requireNotEnded(ctx context.Context, competitionID string) error {
	competition, err := s.load(ctx, competitionID)
	if err != nil {
		return err
	}
	if competition.Status == types.CompetitionStatusEnded {
		return apperrors.NewPolicyError("COMPETITION_ENDED",
			fmt.Sprintf("competition %s has ended", competitionID),
			map[string]interface{}{"competitionId": competitionID})
	}
	return nil
}

// UpdateTradingConstraints replaces the constraints of a pending competition
func (s *CompetitionService) UpdateTradingConstraints(ctx context.Context, competitionID string, constraints *models.TradingConstraints) (*models.TradingConstraints, error) {
	competition, err := s.load(ctx, competitionID)
	if err != nil {
		return nil, err
	}
	if competition.Status != types.CompetitionStatusPending {
		return nil, apperrors.NewPolicyError("COMPETITION_ALREADY_STARTED",
			fmt.Sprintf("constraints of competition %s can only change while pending", competitionID),
			map[string]interface{}{"competitionId": competitionID, "status": string(competition.Status)})
	}
	if constraints == nil {
		return nil, apperrors.NewValidationError("constraints", "required")
	}
	return s.constraints.Ensure(ctx, competitionID, constraints)
}

// ProcessCompetitionEndDateChecks ends every competition past its end date.
// One competition failing does not stop the others.
func (s *CompetitionService) ProcessCompetitionEndDateChecks(ctx context.Context) (int, error) {
	logger := logging.FromContext(ctx)
	due, err := s.competitions.ListDueToEnd(ctx, s.now())
	if err != nil {
		return 0, apperrors.NewDatabaseError("list competitions due to end", err)
	}

	ended := 0
	for _, c := range due {
		if _, err := s.EndCompetition(ctx, c.ID); err != nil {
			logger.WithField("competitionId", c.ID).WithError(err).Error("Failed to end competition")
			continue
		}
		ended++
	}
	if len(due) > 0 {
		logger.WithFields(map[string]interface{}{"due": len(due), "ended": ended}).Info("End date checks completed")
	}
	return ended, nil
}

// ProcessAutoStartChecks starts the earliest due pending competition that has participants,
// provided no competition is active
func (s *CompetitionService) ProcessAutoStartChecks(ctx context.Context) (*models.Competition, error) {
	logger := logging.FromContext(ctx)

	_, err := s.competitions.GetActive(ctx)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewDatabaseError("load active competition", err)
	}

	due, err := s.competitions.ListDueToStart(ctx, s.now())
	if err != nil {
		return nil, apperrors.NewDatabaseError("list competitions due to start", err)
	}

	active := types.ParticipationActive
	for _, c := range due {
		participants, err := s.participants.ListParticipants(ctx, c.ID, &active)
		if err != nil {
			logger.WithField("competitionId", c.ID).WithError(err).Error("Failed to list participants")
			continue
		}
		if len(participants) == 0 {
			logger.WithField("competitionId", c.ID).Debug("Skipping auto start, no participants")
			continue
		}
		started, err := s.StartCompetition(ctx, c.ID, nil, nil)
		if err != nil {
			logger.WithField("competitionId", c.ID).WithError(err).Error("Failed to auto start competition")
			continue
		}
		return started, nil
	}
	return nil, nil
}

// minimumEquity reports whether equity meets threshold; a nil threshold always passes
func minimumEquity(equity decimal.Decimal, threshold *decimal.Decimal) bool {
	return threshold == nil || !equity.LessThan(*threshold)
}

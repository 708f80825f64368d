package storage

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

const testUSDC = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

func createTestAgent(t *testing.T, repo *AgentRepository, ownerID string) *models.Agent {
	t.Helper()
	a := &models.Agent{ID: uuid.NewString(), OwnerID: ownerID, Name: "agent", Status: "active"}
	require.NoError(t, repo.Create(testContext(t), a))
	return a
}

func createTestCompetition(t *testing.T, repo *CompetitionRepository, maxParticipants *int) *models.Competition {
	t.Helper()
	c := &models.Competition{
		ID:                    uuid.NewString(),
		Name:                  "integration",
		Type:                  types.CompetitionTypeTrading,
		Status:                types.CompetitionStatusPending,
		CrossChainTradingType: types.CrossChainDisallowAll,
		EvaluationMetric:      types.MetricCalmarRatio,
		MaxParticipants:       maxParticipants,
	}
	require.NoError(t, repo.Create(testContext(t), c))
	return c
}

func TestPostgresDB_Ping(t *testing.T) {
	db := testPostgres(t)
	assert.NoError(t, db.Ping(testContext(t)))
	assert.NotNil(t, db.Pool())
}

func TestCompetitionRepository_SingleActive(t *testing.T) {
	db := testPostgres(t)
	repo := NewCompetitionRepository(db.Pool())
	ctx := testContext(t)

	// finish whatever a previous run left active
	if active, err := repo.GetActive(ctx); err == nil {
		_, _ = repo.Transition(ctx, active.ID, types.CompetitionStatusActive, types.CompetitionStatusEnding)
		_, _ = repo.Transition(ctx, active.ID, types.CompetitionStatusEnding, types.CompetitionStatusEnded)
	}

	first := createTestCompetition(t, repo, nil)
	second := createTestCompetition(t, repo, nil)
	t.Cleanup(func() {
		ctx := testContext(t)
		_, _ = repo.Transition(ctx, first.ID, types.CompetitionStatusActive, types.CompetitionStatusEnded)
	})

	started, err := repo.Transition(ctx, first.ID, types.CompetitionStatusPending, types.CompetitionStatusActive)
	require.NoError(t, err)
	assert.Equal(t, types.CompetitionStatusActive, started.Status)
	assert.NotNil(t, started.StartDate)

	_, err = repo.Transition(ctx, second.ID, types.CompetitionStatusPending, types.CompetitionStatusActive)
	assert.ErrorIs(t, err, ErrActiveCompetitionExists)

	_, err = repo.Transition(ctx, first.ID, types.CompetitionStatusPending, types.CompetitionStatusActive)
	assert.ErrorIs(t, err, ErrTransitionLost)

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTradeRepository_CommitTrade(t *testing.T) {
	db := testPostgres(t)
	ctx := testContext(t)
	agents := NewAgentRepository(db.Pool())
	trades := NewTradeRepository(db.Pool())

	c := createTestCompetition(t, NewCompetitionRepository(db.Pool()), nil)
	a := createTestAgent(t, agents, uuid.NewString())
	require.NoError(t, trades.ResetBalances(ctx, a.ID, c.ID, []*models.Balance{
		{TokenAddress: testUSDC, Amount: decimal.NewFromInt(100), Symbol: "USDC", SpecificChain: types.ChainEthereum},
	}))

	trade := func(amount int64, toAmount decimal.Decimal) *models.Trade {
		return &models.Trade{
			ID: uuid.NewString(), AgentID: a.ID, CompetitionID: c.ID,
			FromToken: testUSDC, ToToken: "0x000000000000000000000000000000000000dead",
			FromTokenSymbol: "USDC", ToTokenSymbol: "BURN",
			FromAmount: decimal.NewFromInt(amount), ToAmount: toAmount, Price: toAmount,
			TradeAmountUsd: decimal.NewFromInt(amount),
			FromChain:      types.BlockchainEVM, ToChain: types.BlockchainEVM,
			FromSpecificChain: types.ChainEthereum, ToSpecificChain: types.ChainEthereum,
			Reason: "integration", Success: true, Timestamp: c.CreatedAt,
		}
	}
	meta := TokenMeta{Symbol: "BURN", SpecificChain: types.ChainEthereum}

	result, err := trades.CommitTrade(ctx, trade(60, decimal.NewFromInt(1)), meta)
	require.NoError(t, err)
	assert.True(t, result.FromTokenBalance.Equal(decimal.NewFromInt(40)))
	assert.True(t, result.ToTokenBalance.Equal(decimal.NewFromInt(1)))

	_, err = trades.CommitTrade(ctx, trade(60, decimal.NewFromInt(1)), meta)
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	balance, err := trades.GetBalance(ctx, a.ID, c.ID, testUSDC)
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.NewFromInt(40)), "failed trade leaves no side effects")

	burn, err := trades.CommitTrade(ctx, trade(10, decimal.Zero), meta)
	require.NoError(t, err)
	assert.True(t, burn.FromTokenBalance.Equal(decimal.NewFromInt(30)))
	assert.True(t, burn.ToTokenBalance.Equal(decimal.NewFromInt(1)), "burns do not credit the destination")

	history, err := trades.ListTrades(ctx, a.ID, c.ID, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAgentRepository_AddParticipant(t *testing.T) {
	db := testPostgres(t)
	ctx := testContext(t)
	agents := NewAgentRepository(db.Pool())

	limit := 2
	c := createTestCompetition(t, NewCompetitionRepository(db.Pool()), &limit)
	owner := uuid.NewString()
	a1 := createTestAgent(t, agents, owner)
	a2 := createTestAgent(t, agents, owner)
	a3 := createTestAgent(t, agents, uuid.NewString())
	a4 := createTestAgent(t, agents, uuid.NewString())

	require.NoError(t, agents.AddParticipant(ctx, c.ID, a1.ID))
	assert.ErrorIs(t, agents.AddParticipant(ctx, c.ID, a1.ID), ErrAlreadyParticipating)
	assert.ErrorIs(t, agents.AddParticipant(ctx, c.ID, a2.ID), ErrOwnerAlreadyParticipating)
	require.NoError(t, agents.AddParticipant(ctx, c.ID, a3.ID))
	assert.ErrorIs(t, agents.AddParticipant(ctx, c.ID, a4.ID), ErrParticipantLimit)

	reason := "withdrawn by owner"
	require.NoError(t, agents.UpdateParticipationStatus(ctx, c.ID, a3.ID, types.ParticipationWithdrawn, &reason))
	p, err := agents.GetParticipation(ctx, c.ID, a3.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ParticipationWithdrawn, p.Status)
	assert.NotNil(t, p.DeactivatedAt)

	// the freed slot can be taken and a withdrawn registration reactivates in place
	require.NoError(t, agents.AddParticipant(ctx, c.ID, a3.ID))
	p, err = agents.GetParticipation(ctx, c.ID, a3.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ParticipationActive, p.Status)
	assert.Nil(t, p.DeactivationReason)

	assert.ErrorIs(t, agents.AddParticipant(ctx, uuid.NewString(), a4.ID), ErrNotFound)
}

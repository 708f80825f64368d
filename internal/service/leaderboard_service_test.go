package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/trading-arena/internal/errors"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

func (h *harness) activePerps(id string, metric types.EvaluationMetric) {
	start := testStart
	h.db.addCompetition(&models.Competition{
		ID: id, Type: types.CompetitionTypePerpetualFutures, Status: types.CompetitionStatusActive,
		EvaluationMetric: metric, StartDate: &start,
	})
}

func (h *harness) perpsAgent(competitionID, agentID string, equity int64, calmar *float64) {
	h.db.addAgent(agentID, "owner-"+agentID, strPtr("0x"+agentID))
	h.db.setParticipation(competitionID, agentID, types.ParticipationActive)
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	h.db.summaries[competitionID+"|"+agentID] = &models.PerpsAccountSummary{
		AgentID: agentID, CompetitionID: competitionID, TotalEquity: decimal.NewFromInt(equity),
		InitialCapital: decimal.NewFromInt(500),
	}
	if calmar != nil {
		h.db.risk[competitionID+"|"+agentID] = &models.RiskMetrics{AgentID: agentID, CompetitionID: competitionID, CalmarRatio: calmar}
	}
}

func TestLeaderboard_PerpsMetricHoldersFirst(t *testing.T) {
	h := newHarness()
	h.activePerps("perps", types.MetricCalmarRatio)
	h.perpsAgent("perps", "x", 500, f64(1.5))
	h.perpsAgent("perps", "y", 600, nil)
	h.perpsAgent("perps", "z", 400, f64(2.5))

	board, err := h.leaderboard.GetLeaderboard(context.Background(), "perps")
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, []string{"z", "x", "y"}, []string{board[0].AgentID, board[1].AgentID, board[2].AgentID})
	assert.Equal(t, []int{1, 2, 3}, []int{board[0].Rank, board[1].Rank, board[2].Rank})
	assert.False(t, board[2].HasRiskMetrics)
}

func TestLeaderboard_PerpsFinalScores(t *testing.T) {
	h := newHarness()
	h.activePerps("perps", "")
	h.perpsAgent("perps", "x", 500, f64(1.5))
	h.perpsAgent("perps", "y", 600, nil)

	c, err := memCompetitions{h.db}.GetByID(context.Background(), "perps")
	require.NoError(t, err)
	assert.Equal(t, types.MetricCalmarRatio, h.leaderboard.EvaluationMetric(c), "unset metric uses the default")

	entries, err := h.leaderboard.ComputeFinal(context.Background(), c)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1.5, entries[0].Score)
	assert.Equal(t, MissingMetricScore, entries[1].Score)
}

func TestLeaderboard_SpotLiveFromSnapshots(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.activeSpot("comp-1", "a1")
	h.db.addAgent("a2", "u2", nil)
	h.db.setParticipation("comp-1", "a2", types.ParticipationActive)
	h.db.addAgent("gone", "u3", nil)
	h.db.setParticipation("comp-1", "gone", types.ParticipationDisqualified)

	snaps := memSnapshots{h.db}
	require.NoError(t, snaps.CreateBatch(ctx, []*models.PortfolioSnapshot{
		{AgentID: "a1", CompetitionID: "comp-1", Timestamp: testStart, TotalValue: decimal.NewFromInt(5000)},
		{AgentID: "a1", CompetitionID: "comp-1", Timestamp: testStart.Add(time.Hour), TotalValue: decimal.NewFromInt(5500)},
		{AgentID: "gone", CompetitionID: "comp-1", Timestamp: testStart, TotalValue: decimal.NewFromInt(99999)},
	}))
	// a2 has no snapshot and is valued live
	h.db.setBalance("a2", "comp-1", usdcAddr, "USDC", decimal.NewFromInt(5200))

	board, err := h.leaderboard.GetLeaderboard(ctx, "comp-1")
	require.NoError(t, err)
	require.Len(t, board, 2, "inactive participants are excluded")
	assert.Equal(t, "a1", board[0].AgentID)
	assert.True(t, board[0].Pnl.Equal(decimal.NewFromInt(500)))
	assert.True(t, board[0].StartingValue.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "agent a1", board[0].AgentName)
	assert.Equal(t, "a2", board[1].AgentID)
	assert.True(t, board[1].Value.Equal(decimal.NewFromInt(5200)))
}

func TestLeaderboard_FinalNamesInactiveAgents(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.activeSpot("comp-1", "a1")
	h.db.addAgent("gone", "u3", nil)
	h.db.setParticipation("comp-1", "gone", types.ParticipationWithdrawn)
	h.db.setBalance("a1", "comp-1", usdcAddr, "USDC", decimal.NewFromInt(5000))
	h.db.setBalance("gone", "comp-1", usdcAddr, "USDC", decimal.NewFromInt(4000))

	c, err := memCompetitions{h.db}.GetByID(ctx, "comp-1")
	require.NoError(t, err)
	entries, err := h.leaderboard.ComputeFinal(ctx, c)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "agent a1", entries[0].AgentName)
	assert.True(t, entries[0].Active)
	assert.Equal(t, "gone", entries[1].AgentID)
	assert.Equal(t, "agent gone", entries[1].AgentName)
	assert.False(t, entries[1].Active)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestLeaderboard_SpotTiesBreakByAgentID(t *testing.T) {
	h := newHarness()
	h.activeSpot("comp-1", "b")
	h.db.addAgent("a", "u-a", nil)
	h.db.setParticipation("comp-1", "a", types.ParticipationActive)
	h.db.setBalance("a", "comp-1", usdcAddr, "USDC", decimal.NewFromInt(100))
	h.db.setBalance("b", "comp-1", usdcAddr, "USDC", decimal.NewFromInt(100))

	board, err := h.leaderboard.GetLeaderboard(context.Background(), "comp-1")
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "a", board[0].AgentID)
	assert.Equal(t, "b", board[1].AgentID)
}

func TestLeaderboard_PendingUsesSkillRanks(t *testing.T) {
	h := newHarness()
	h.pendingSpot("comp-1")
	for _, id := range []string{"new", "mid", "top"} {
		h.db.addAgent(id, "owner-"+id, nil)
		h.db.setParticipation("comp-1", id, types.ParticipationActive)
	}
	h.db.ranks["top"] = &models.AgentRank{AgentID: "top", Score: 1700}
	h.db.ranks["mid"] = &models.AgentRank{AgentID: "mid", Score: 1400}

	board, err := h.leaderboard.GetLeaderboard(context.Background(), "comp-1")
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, []string{"top", "mid", "new"}, []string{board[0].AgentID, board[1].AgentID, board[2].AgentID})
	assert.True(t, board[2].Value.IsZero())
}

func TestLeaderboard_NotFound(t *testing.T) {
	h := newHarness()
	_, err := h.leaderboard.GetLeaderboard(context.Background(), "nope")
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryNotFound))
}

func TestTakePortfolioSnapshots(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	h.activeSpot("comp-1", "a1")
	h.db.setBalance("a1", "comp-1", usdcAddr, "USDC", decimal.NewFromInt(1000))
	h.db.setBalance("a1", "comp-1", wethAddr, "WETH", decimal.NewFromInt(1))
	// unpriced tokens count as zero
	h.db.setBalance("a1", "comp-1", memeAddr, "MEME", decimal.NewFromInt(1000))

	n, err := h.snapshots.TakePortfolioSnapshots(ctx, "comp-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	latest, err := memSnapshots{h.db}.LatestPerAgent(ctx, "comp-1")
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.True(t, latest[0].TotalValue.Equal(decimal.NewFromInt(3000)))

	h.db.mu.Lock()
	h.db.competitions["comp-1"].Status = types.CompetitionStatusEnding
	h.db.mu.Unlock()
	_, err = h.snapshots.TakePortfolioSnapshots(ctx, "comp-1", false)
	assert.True(t, apperrors.HasCode(err, "COMPETITION_NOT_ACTIVE"))
	n, err = h.snapshots.TakePortfolioSnapshots(ctx, "comp-1", true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.activePerps("perps", types.MetricCalmarRatio)
	n, err = h.snapshots.TakePortfolioSnapshots(ctx, "perps", false)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCalculateRiskMetrics(t *testing.T) {
	series := func(values ...int64) []*models.PortfolioSnapshot {
		out := make([]*models.PortfolioSnapshot, len(values))
		for i, v := range values {
			out[i] = &models.PortfolioSnapshot{Timestamp: testStart.Add(time.Duration(i) * 24 * time.Hour), TotalValue: decimal.NewFromInt(v)}
		}
		return out
	}

	m := CalculateRiskMetrics("a", "c", series(1000, 1200, 900, 1100), testStart)
	assert.InDelta(t, 0.1, m.SimpleReturn, 1e-9)
	assert.InDelta(t, 0.25, m.MaxDrawdown, 1e-9)
	require.NotNil(t, m.CalmarRatio)
	// annualized 0.1 * 365 / 3 days over a 25% drawdown
	assert.InDelta(t, 0.1*365/3/0.25, *m.CalmarRatio, 1e-9)
	require.NotNil(t, m.SortinoRatio)
	assert.Greater(t, *m.SortinoRatio, 0.0)
	assert.Equal(t, 4, m.SnapshotCount)

	flat := CalculateRiskMetrics("a", "c", series(1000, 1100), testStart)
	require.NotNil(t, flat.CalmarRatio)
	assert.InDelta(t, 0.1*365/0.01, *flat.CalmarRatio, 1e-6, "drawdown floor keeps the ratio finite")

	single := CalculateRiskMetrics("a", "c", series(1000), testStart)
	assert.Nil(t, single.CalmarRatio)
	assert.Nil(t, single.SortinoRatio)

	zero := CalculateRiskMetrics("a", "c", series(0, 100), testStart)
	assert.Nil(t, zero.CalmarRatio)
}

func TestUpdateSkillRanks(t *testing.T) {
	now := testStart
	current := map[string]*models.AgentRank{
		"veteran": {AgentID: "veteran", Score: 1600, CompetitionsPlayed: 4},
	}

	ranks := UpdateSkillRanks(current, []string{"rookie", "veteran", "third"}, now)
	require.Len(t, ranks, 3)

	byID := make(map[string]*models.AgentRank)
	total := 0.0
	for _, r := range ranks {
		byID[r.AgentID] = r
		total += r.Score
	}
	assert.Greater(t, byID["rookie"].Score, InitialSkillScore)
	assert.Less(t, byID["third"].Score, InitialSkillScore)
	assert.Equal(t, 5, byID["veteran"].CompetitionsPlayed)
	assert.Equal(t, 1, byID["rookie"].CompetitionsPlayed)
	assert.InDelta(t, 1600+2*InitialSkillScore, total, 1e-9, "pairwise updates are zero-sum")
	assert.LessOrEqual(t, byID["rookie"].Score-InitialSkillScore, eloK)

	assert.Nil(t, UpdateSkillRanks(current, nil, now))
	solo := UpdateSkillRanks(nil, []string{"only"}, now)
	require.Len(t, solo, 1)
	assert.Equal(t, InitialSkillScore, solo[0].Score)
}

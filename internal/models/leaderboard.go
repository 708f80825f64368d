package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LeaderboardEntry is one ranked row of a competition leaderboard
type LeaderboardEntry struct {
	AgentID           string          `json:"agentId" db:"agent_id"`
	AgentName         string          `json:"agentName,omitempty" db:"agent_name"`
	Rank              int             `json:"rank" db:"rank"`
	Score             float64         `json:"score" db:"score"`
	Value             decimal.Decimal `json:"value" db:"value"`
	Pnl               decimal.Decimal `json:"pnl" db:"pnl"`
	StartingValue     decimal.Decimal `json:"startingValue" db:"starting_value"`
	Active            bool            `json:"active" db:"active"`
	CalmarRatio       *float64        `json:"calmarRatio,omitempty" db:"calmar_ratio"`
	SortinoRatio      *float64        `json:"sortinoRatio,omitempty" db:"sortino_ratio"`
	SimpleReturn      *float64        `json:"simpleReturn,omitempty" db:"simple_return"`
	MaxDrawdown       *float64        `json:"maxDrawdown,omitempty" db:"max_drawdown"`
	DownsideDeviation *float64        `json:"downsideDeviation,omitempty" db:"downside_deviation"`
	HasRiskMetrics    bool            `json:"hasRiskMetrics" db:"has_risk_metrics"`
}

// PersistedLeaderboard is the frozen leaderboard written at competition end
type PersistedLeaderboard struct {
	CompetitionID string              `json:"competitionId"`
	Entries       []*LeaderboardEntry `json:"entries"`
	CreatedAt     time.Time           `json:"createdAt"`
}

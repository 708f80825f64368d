package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot is one point of an agent's portfolio value time series
type PortfolioSnapshot struct {
	ID            int64           `json:"id" db:"id"`
	AgentID       string          `json:"agentId" db:"agent_id"`
	CompetitionID string          `json:"competitionId" db:"competition_id"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	TotalValue    decimal.Decimal `json:"totalValue" db:"total_value"`
}

// RiskMetrics holds risk-adjusted performance for a perps participant.
// Ratios are nil when they could not be computed.
type RiskMetrics struct {
	AgentID           string    `json:"agentId" db:"agent_id"`
	CompetitionID     string    `json:"competitionId" db:"competition_id"`
	SimpleReturn      float64   `json:"simpleReturn" db:"simple_return"`
	MaxDrawdown       float64   `json:"maxDrawdown" db:"max_drawdown"`
	DownsideDeviation float64   `json:"downsideDeviation" db:"downside_deviation"`
	CalmarRatio       *float64  `json:"calmarRatio,omitempty" db:"calmar_ratio"`
	SortinoRatio      *float64  `json:"sortinoRatio,omitempty" db:"sortino_ratio"`
	SnapshotCount     int       `json:"snapshotCount" db:"snapshot_count"`
	CalculatedAt      time.Time `json:"calculatedAt" db:"calculated_at"`
}

// PerpsAccountSummary is the latest synced state of an external perps account
type PerpsAccountSummary struct {
	AgentID        string          `json:"agentId" db:"agent_id"`
	CompetitionID  string          `json:"competitionId" db:"competition_id"`
	TotalEquity    decimal.Decimal `json:"totalEquity" db:"total_equity"`
	TotalPnl       decimal.Decimal `json:"totalPnl" db:"total_pnl"`
	InitialCapital decimal.Decimal `json:"initialCapital" db:"initial_capital"`
	SyncedAt       time.Time       `json:"syncedAt" db:"synced_at"`
}

// AgentMetrics is the bulk per-agent PnL view derived from snapshots
type AgentMetrics struct {
	AgentID          string          `json:"agentId"`
	StartingValue    decimal.Decimal `json:"startingValue"`
	CurrentValue     decimal.Decimal `json:"currentValue"`
	Value24hAgo      decimal.Decimal `json:"value24hAgo"`
	Pnl              decimal.Decimal `json:"pnl"`
	PnlPercent       float64         `json:"pnlPercent"`
	Change24h        decimal.Decimal `json:"change24h"`
	Change24hPercent float64         `json:"change24hPercent"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/trading-arena/internal/types"
)

// Competition represents a trading competition and its lifecycle state
type Competition struct {
	ID                      string                      `json:"id" db:"id"`
	Name                    string                      `json:"name" db:"name"`
	Description             *string                     `json:"description,omitempty" db:"description"`
	Type                    types.CompetitionType       `json:"type" db:"type"`
	Status                  types.CompetitionStatus     `json:"status" db:"status"`
	CrossChainTradingType   types.CrossChainTradingType `json:"crossChainTradingType" db:"cross_chain_trading_type"`
	StartDate               *time.Time                  `json:"startDate,omitempty" db:"start_date"`
	EndDate                 *time.Time                  `json:"endDate,omitempty" db:"end_date"`
	JoinStartDate           *time.Time                  `json:"joinStartDate,omitempty" db:"join_start_date"`
	JoinEndDate             *time.Time                  `json:"joinEndDate,omitempty" db:"join_end_date"`
	MaxParticipants         *int                        `json:"maxParticipants,omitempty" db:"max_participants"`
	MinimumStake            *decimal.Decimal            `json:"minimumStake,omitempty" db:"minimum_stake"`
	EvaluationMetric        types.EvaluationMetric      `json:"evaluationMetric,omitempty" db:"evaluation_metric"`
	MinimumFundingThreshold *decimal.Decimal            `json:"minimumFundingThreshold,omitempty" db:"minimum_funding_threshold"`
	CreatedAt               time.Time                   `json:"createdAt" db:"created_at"`
	UpdatedAt               time.Time                   `json:"updatedAt" db:"updated_at"`
}

// IsPerps reports whether the competition sources equity from a perps provider
func (c *Competition) IsPerps() bool {
	return c.Type == types.CompetitionTypePerpetualFutures
}

// JoinWindowOpen reports whether now falls inside the configured join window.
// An unset bound is treated as open on that side.
func (c *Competition) JoinWindowOpen(now time.Time) bool {
	if c.JoinStartDate != nil && now.Before(*c.JoinStartDate) {
		return false
	}
	if c.JoinEndDate != nil && now.After(*c.JoinEndDate) {
		return false
	}
	return true
}

// TradingConstraints holds per-competition token eligibility thresholds.
// A zero threshold disables the corresponding check.
type TradingConstraints struct {
	CompetitionID       string    `json:"competitionId" db:"competition_id"`
	MinimumPairAgeHours float64   `json:"minimumPairAgeHours" db:"minimum_pair_age_hours"`
	Minimum24hVolumeUsd float64   `json:"minimum24hVolumeUsd" db:"minimum_24h_volume_usd"`
	MinimumLiquidityUsd float64   `json:"minimumLiquidityUsd" db:"minimum_liquidity_usd"`
	MinimumFdvUsd       float64   `json:"minimumFdvUsd" db:"minimum_fdv_usd"`
	CreatedAt           time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time `json:"updatedAt" db:"updated_at"`
}

// CompetitionReward is a reward slot for a final rank
type CompetitionReward struct {
	ID            string          `json:"id" db:"id"`
	CompetitionID string          `json:"competitionId" db:"competition_id"`
	Rank          int             `json:"rank" db:"rank"`
	Reward        decimal.Decimal `json:"reward" db:"reward"`
	AgentID       *string         `json:"agentId,omitempty" db:"agent_id"`
}

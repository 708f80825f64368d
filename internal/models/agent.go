package models

import (
	"time"

	"github.com/trading-arena/internal/types"
)

// Agent is a competing trading agent owned by a user
type Agent struct {
	ID            string    `json:"id" db:"id"`
	OwnerID       string    `json:"ownerId" db:"owner_id"`
	Name          string    `json:"name" db:"name"`
	WalletAddress *string   `json:"walletAddress,omitempty" db:"wallet_address"`
	Status        string    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// HasWallet reports whether the agent has a wallet address configured
func (a *Agent) HasWallet() bool {
	return a.WalletAddress != nil && *a.WalletAddress != ""
}

// CompetitionParticipation is an agent's membership in one competition.
// It is independent of the agent's global status.
type CompetitionParticipation struct {
	CompetitionID      string                    `json:"competitionId" db:"competition_id"`
	AgentID            string                    `json:"agentId" db:"agent_id"`
	Status             types.ParticipationStatus `json:"status" db:"status"`
	DeactivationReason *string                   `json:"deactivationReason,omitempty" db:"deactivation_reason"`
	DeactivatedAt      *time.Time                `json:"deactivatedAt,omitempty" db:"deactivated_at"`
	CreatedAt          time.Time                 `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time                 `json:"updatedAt" db:"updated_at"`
}

// AgentRank is the global skill score used to order pending leaderboards
type AgentRank struct {
	AgentID            string    `json:"agentId" db:"agent_id"`
	Score              float64   `json:"score" db:"score"`
	CompetitionsPlayed int       `json:"competitionsPlayed" db:"competitions_played"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}

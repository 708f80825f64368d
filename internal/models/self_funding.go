package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/trading-arena/internal/types"
)

// SelfFundingAlert records a suspected external capital injection.
// Only a human reviewer flips Reviewed.
type SelfFundingAlert struct {
	ID                string                 `json:"id" db:"id"`
	AgentID           string                 `json:"agentId" db:"agent_id"`
	CompetitionID     string                 `json:"competitionId" db:"competition_id"`
	ExpectedEquity    decimal.Decimal        `json:"expectedEquity" db:"expected_equity"`
	ActualEquity      decimal.Decimal        `json:"actualEquity" db:"actual_equity"`
	UnexplainedAmount decimal.Decimal        `json:"unexplainedAmount" db:"unexplained_amount"`
	DetectionMethod   types.DetectionMethod  `json:"detectionMethod" db:"detection_method"`
	Confidence        types.AlertConfidence  `json:"confidence" db:"confidence"`
	Severity          types.AlertSeverity    `json:"severity" db:"severity"`
	Evidence          map[string]interface{} `json:"evidence,omitempty" db:"evidence"`
	Reviewed          bool                   `json:"reviewed" db:"reviewed"`
	CreatedAt         time.Time              `json:"createdAt" db:"created_at"`
}

// Transfer is a deposit or withdrawal observed on an agent's perps account
type Transfer struct {
	AgentID       string             `json:"agentId" ch:"agent_id"`
	CompetitionID string             `json:"competitionId" ch:"competition_id"`
	Wallet        string             `json:"wallet" ch:"wallet"`
	Type          types.TransferType `json:"type" ch:"type"`
	Amount        decimal.Decimal    `json:"amount" ch:"amount"`
	Asset         string             `json:"asset" ch:"asset"`
	TxHash        string             `json:"txHash" ch:"tx_hash"`
	Chain         string             `json:"chain" ch:"chain"`
	Timestamp     time.Time          `json:"timestamp" ch:"timestamp"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/trading-arena/internal/types"
)

// Balance is an agent's holding of one token inside one competition
type Balance struct {
	AgentID       string              `json:"agentId" db:"agent_id"`
	CompetitionID string              `json:"competitionId" db:"competition_id"`
	TokenAddress  string              `json:"tokenAddress" db:"token_address"`
	Amount        decimal.Decimal     `json:"amount" db:"amount"`
	Symbol        string              `json:"symbol" db:"symbol"`
	SpecificChain types.SpecificChain `json:"specificChain" db:"specific_chain"`
	UpdatedAt     time.Time           `json:"updatedAt" db:"updated_at"`
}

// Trade is an immutable record of one executed simulated trade
type Trade struct {
	ID                string               `json:"id" db:"id"`
	AgentID           string               `json:"agentId" db:"agent_id"`
	CompetitionID     string               `json:"competitionId" db:"competition_id"`
	FromToken         string               `json:"fromToken" db:"from_token"`
	ToToken           string               `json:"toToken" db:"to_token"`
	FromTokenSymbol   string               `json:"fromTokenSymbol" db:"from_token_symbol"`
	ToTokenSymbol     string               `json:"toTokenSymbol" db:"to_token_symbol"`
	FromAmount        decimal.Decimal      `json:"fromAmount" db:"from_amount"`
	ToAmount          decimal.Decimal      `json:"toAmount" db:"to_amount"`
	Price             decimal.Decimal      `json:"price" db:"price"`
	TradeAmountUsd    decimal.Decimal      `json:"tradeAmountUsd" db:"trade_amount_usd"`
	FromChain         types.BlockchainType `json:"fromChain" db:"from_chain"`
	ToChain           types.BlockchainType `json:"toChain" db:"to_chain"`
	FromSpecificChain types.SpecificChain  `json:"fromSpecificChain" db:"from_specific_chain"`
	ToSpecificChain   types.SpecificChain  `json:"toSpecificChain" db:"to_specific_chain"`
	Reason            string               `json:"reason" db:"reason"`
	Success           bool                 `json:"success" db:"success"`
	Timestamp         time.Time            `json:"timestamp" db:"timestamp"`
}

// IsBurn reports whether the trade sent tokens to a zero-priced destination
func (t *Trade) IsBurn() bool {
	return t.ToAmount.IsZero() && t.Price.IsZero()
}

// TradeResult is a committed trade plus the post-trade balances
type TradeResult struct {
	Trade            *Trade          `json:"trade"`
	FromTokenBalance decimal.Decimal `json:"fromTokenBalance"`
	ToTokenBalance   decimal.Decimal `json:"toTokenBalance"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/trading-arena/internal/types"
)

// PriceQuote is a token price plus the market data used by trading constraints.
// Optional fields are nil when the oracle did not report them.
type PriceQuote struct {
	Token         string               `json:"token"`
	Price         decimal.Decimal      `json:"price"`
	Symbol        string               `json:"symbol"`
	Chain         types.BlockchainType `json:"chain"`
	SpecificChain types.SpecificChain  `json:"specificChain"`
	LiquidityUsd  *float64             `json:"liquidityUsd,omitempty"`
	Volume24hUsd  *float64             `json:"volume24hUsd,omitempty"`
	FdvUsd        *float64             `json:"fdvUsd,omitempty"`
	PairCreatedAt *time.Time           `json:"pairCreatedAt,omitempty"`
	FetchedAt     time.Time            `json:"fetchedAt"`
}

// PerpsAccount is the external derivatives account state of one wallet
type PerpsAccount struct {
	Wallet         string          `json:"wallet"`
	TotalEquity    decimal.Decimal `json:"totalEquity"`
	TotalPnl       decimal.Decimal `json:"totalPnl"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
}

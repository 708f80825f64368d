// Package service implements the competition engine: trade execution, portfolio valuation,
// snapshots, leaderboards, the competition lifecycle and the self-funding monitor.
package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

// PriceOracle resolves token prices and market data.
// GetPrice returns (nil, nil) when the token is unknown; chain may be empty.
type PriceOracle interface {
	GetPrice(ctx context.Context, token string, chain types.SpecificChain) (*models.PriceQuote, error)
	GetBulkPrices(ctx context.Context, tokens []string) (map[string]*models.PriceQuote, error)
}

// PerpsProvider reads external derivatives account state
type PerpsProvider interface {
	GetAccountSummary(ctx context.Context, wallet string) (*models.PerpsAccount, error)
}

// TransferHistoryProvider is implemented by perps providers that expose deposits and withdrawals
type TransferHistoryProvider interface {
	GetTransferHistory(ctx context.Context, wallet string, since time.Time) ([]*models.Transfer, error)
}

// StakeReader reads the amount a wallet has staked
type StakeReader interface {
	GetStake(ctx context.Context, wallet string) (decimal.Decimal, error)
}

// Clock returns the current time
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

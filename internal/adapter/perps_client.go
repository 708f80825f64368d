package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trading-arena/internal/circuitbreaker"
	"github.com/trading-arena/internal/config"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

const perpsProvider = "perps-provider"

type accountSummaryResponse struct {
	TotalEquity    decimal.Decimal `json:"totalEquity"`
	TotalPnl       decimal.Decimal `json:"totalPnl"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
}

type transferResponse struct {
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
	TxHash    string          `json:"txHash"`
	Chain     string          `json:"chain"`
	Timestamp time.Time       `json:"timestamp"`
}

type transfersResponse struct {
	Transfers []transferResponse `json:"transfers"`
}

// PerpsClient reads external perpetual-futures account state over REST
type PerpsClient struct {
	rest *restClient
}

// NewPerpsClient creates a perps provider client
func NewPerpsClient(cfg config.PerpsConfig, breakers *circuitbreaker.Manager) *PerpsClient {
	breaker := breakers.GetOrCreate(&circuitbreaker.Config{
		Name:             perpsProvider,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
		IsFailure:        isTransient,
	})
	return &PerpsClient{
		rest: newRestClient(perpsProvider, strings.TrimRight(cfg.BaseURL, "/"), cfg.Timeout, cfg.RequestsPerSec, cfg.MaxRetries, breaker),
	}
}

// GetAccountSummary returns equity, PnL and initial capital of wallet
func (c *PerpsClient) GetAccountSummary(ctx context.Context, wallet string) (*models.PerpsAccount, error) {
	body, err := c.rest.get(ctx, fmt.Sprintf("/v1/accounts/%s/summary", url.PathEscape(wallet)))
	if err != nil {
		return nil, err
	}

	var resp accountSummaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse account summary: %w", err)
	}
	return &models.PerpsAccount{
		Wallet:         wallet,
		TotalEquity:    resp.TotalEquity,
		TotalPnl:       resp.TotalPnl,
		InitialCapital: resp.InitialCapital,
	}, nil
}

// GetTransferHistory returns deposits and withdrawals of wallet at or after since.
// Entries of any other type are dropped.
func (c *PerpsClient) GetTransferHistory(ctx context.Context, wallet string, since time.Time) ([]*models.Transfer, error) {
	path := fmt.Sprintf("/v1/accounts/%s/transfers?since=%s",
		url.PathEscape(wallet), url.QueryEscape(since.UTC().Format(time.RFC3339)))
	body, err := c.rest.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var resp transfersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse transfer history: %w", err)
	}

	out := make([]*models.Transfer, 0, len(resp.Transfers))
	for _, t := range resp.Transfers {
		kind := types.TransferType(strings.ToLower(t.Type))
		if kind != types.TransferDeposit && kind != types.TransferWithdraw {
			continue
		}
		out = append(out, &models.Transfer{
			Wallet:    wallet,
			Type:      kind,
			Amount:    t.Amount.Abs(),
			Asset:     t.Asset,
			TxHash:    t.TxHash,
			Chain:     t.Chain,
			Timestamp: t.Timestamp.UTC(),
		})
	}
	return out, nil
}

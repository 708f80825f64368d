package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trading-arena/internal/cache"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/models"
)

// BalanceReader reads agent balances
type BalanceReader interface {
	GetBalances(ctx context.Context, agentID, competitionID string) ([]*models.Balance, error)
	GetCompetitionBalances(ctx context.Context, competitionID string, agentIDs []string) ([]*models.Balance, error)
}

// PortfolioService values agent portfolios as balances times current prices
type PortfolioService struct {
	balances BalanceReader
	prices   PriceOracle
	values   *cache.ReadThrough[decimal.Decimal]
}

// NewPortfolioService creates a portfolio service; single-agent values are cached for ttl
func NewPortfolioService(balances BalanceReader, prices PriceOracle, c cache.Cache, ttl time.Duration) *PortfolioService {
	return &PortfolioService{
		balances: balances,
		prices:   prices,
		values:   cache.NewReadThrough[decimal.Decimal](c, ttl),
	}
}

func portfolioKey(agentID, competitionID string) string {
	return cache.Key(cache.KeyPortfolioValue, competitionID, agentID)
}

// GetPortfolioValue returns the total USD value of an agent's balances.
// Tokens the oracle cannot price contribute nothing.
func (s *PortfolioService) GetPortfolioValue(ctx context.Context, agentID, competitionID string) (decimal.Decimal, error) {
	return s.values.Get(ctx, portfolioKey(agentID, competitionID), func(ctx context.Context) (decimal.Decimal, error) {
		balances, err := s.balances.GetBalances(ctx, agentID, competitionID)
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to load balances: %w", err)
		}
		values, err := s.value(ctx, balances)
		if err != nil {
			return decimal.Zero, err
		}
		return values[agentID], nil
	})
}

// ValueAgents values many agents with one balance read and one bulk price lookup.
// Every requested agent is present in the result; agents without balances are worth zero.
func (s *PortfolioService) ValueAgents(ctx context.Context, competitionID string, agentIDs []string) (map[string]decimal.Decimal, error) {
	balances, err := s.balances.GetCompetitionBalances(ctx, competitionID, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load competition balances: %w", err)
	}
	values, err := s.value(ctx, balances)
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(agentIDs))
	for _, id := range agentIDs {
		out[id] = values[id]
	}
	return out, nil
}

// InvalidateAgent drops the cached value of one agent
func (s *PortfolioService) InvalidateAgent(ctx context.Context, agentID, competitionID string) error {
	return s.values.Invalidate(ctx, portfolioKey(agentID, competitionID))
}

func (s *PortfolioService) value(ctx context.Context, balances []*models.Balance) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if len(balances) == 0 {
		return out, nil
	}

	tokens := make([]string, 0, len(balances))
	for _, b := range balances {
		if b.Amount.IsPositive() {
			tokens = append(tokens, b.TokenAddress)
		}
	}
	quotes := map[string]*models.PriceQuote{}
	if len(tokens) > 0 {
		var err error
		quotes, err = s.prices.GetBulkPrices(ctx, tokens)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch prices: %w", err)
		}
	}

	for _, b := range balances {
		total := out[b.AgentID]
		if q, ok := quotes[b.TokenAddress]; ok && q != nil && b.Amount.IsPositive() {
			total = total.Add(b.Amount.Mul(q.Price))
		} else if b.Amount.IsPositive() {
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"agentId": b.AgentID,
				"token":   b.TokenAddress,
			}).Debug("No price for held token, valuing at zero")
		}
		out[b.AgentID] = total
	}
	return out, nil
}

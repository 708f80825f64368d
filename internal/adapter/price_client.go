package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trading-arena/internal/cache"
	"github.com/trading-arena/internal/chain"
	"github.com/trading-arena/internal/circuitbreaker"
	"github.com/trading-arena/internal/config"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/ratelimit"
	"github.com/trading-arena/internal/types"
)

const (
	priceProvider = "price-oracle"
	// maxTokensPerRequest is the largest address list the tokens endpoint accepts
	maxTokensPerRequest = 30
)

// dexChainIDs maps our specific chains to the oracle's chain identifiers
var dexChainIDs = map[types.SpecificChain]string{
	types.ChainEthereum:  "ethereum",
	types.ChainPolygon:   "polygon",
	types.ChainBSC:       "bsc",
	types.ChainArbitrum:  "arbitrum",
	types.ChainOptimism:  "optimism",
	types.ChainAvalanche: "avalanche",
	types.ChainBase:      "base",
	types.ChainLinea:     "linea",
	types.ChainZkSync:    "zksync",
	types.ChainScroll:    "scroll",
	types.ChainMantle:    "mantle",
	types.ChainSolana:    "solana",
}

func specificChainFromDex(chainID string) (types.SpecificChain, bool) {
	for chain, id := range dexChainIDs {
		if id == chainID {
			return chain, true
		}
	}
	return "", false
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	BaseToken struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUsd  string `json:"priceUsd"`
	Liquidity *struct {
		Usd *float64 `json:"usd"`
	} `json:"liquidity"`
	Volume *struct {
		H24 *float64 `json:"h24"`
	} `json:"volume"`
	Fdv           *float64 `json:"fdv"`
	PairCreatedAt *int64   `json:"pairCreatedAt"`
}

type dexTokensResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// PriceClient fetches token prices and market data from a DexScreener-compatible API
type PriceClient struct {
	rest *restClient
	now  func() time.Time
}

// NewPriceClient creates a price client; the breaker is registered with breakers for status reporting
func NewPriceClient(cfg config.PriceOracleConfig, breakers *circuitbreaker.Manager) *PriceClient {
	breaker := breakers.GetOrCreate(&circuitbreaker.Config{
		Name:             priceProvider,
		MaxFailures:      cfg.BreakerFailures,
		Timeout:          cfg.BreakerReset,
		HalfOpenMaxCalls: 1,
		IsFailure:        isTransient,
	})
	return &PriceClient{
		rest: newRestClient(priceProvider, strings.TrimRight(cfg.BaseURL, "/"), cfg.Timeout, cfg.RequestsPerSec, cfg.MaxRetries, breaker),
		now:  time.Now,
	}
}

// WithBudget makes every oracle request draw from budget. A nil budget is ignored.
func (c *PriceClient) WithBudget(budget *ratelimit.Budget) *PriceClient {
	if budget != nil {
		c.rest.budget = budget
	}
	return c
}

// GetPrice returns the quote for token, or nil when the oracle does not know it.
// An empty chain accepts the deepest pair on any chain.
func (c *PriceClient) GetPrice(ctx context.Context, token string, chain types.SpecificChain) (*models.PriceQuote, error) {
	pairs, err := c.fetchPairs(ctx, []string{token})
	if err != nil {
		return nil, err
	}
	return c.bestQuote(token, chain, pairs), nil
}

// GetBulkPrices returns quotes keyed by the requested token string.
// Unknown tokens are absent from the result.
func (c *PriceClient) GetBulkPrices(ctx context.Context, tokens []string) (map[string]*models.PriceQuote, error) {
	out := make(map[string]*models.PriceQuote, len(tokens))
	unique := dedupe(tokens)

	for start := 0; start < len(unique); start += maxTokensPerRequest {
		end := start + maxTokensPerRequest
		if end > len(unique) {
			end = len(unique)
		}
		chunk := unique[start:end]

		pairs, err := c.fetchPairs(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for _, token := range chunk {
			if q := c.bestQuote(token, "", pairs); q != nil {
				out[token] = q
			}
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"requested": len(unique),
		"resolved":  len(out),
	}).Debug("Fetched bulk prices")
	return out, nil
}

func (c *PriceClient) fetchPairs(ctx context.Context, tokens []string) ([]dexPair, error) {
	escaped := make([]string, len(tokens))
	for i, t := range tokens {
		escaped[i] = url.PathEscape(t)
	}
	body, err := c.rest.get(ctx, "/latest/dex/tokens/"+strings.Join(escaped, ","))
	if err != nil {
		return nil, err
	}

	var resp dexTokensResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse price response: %w", err)
	}
	return resp.Pairs, nil
}

// bestQuote picks the most liquid pair whose base token is token
func (c *PriceClient) bestQuote(token string, chain types.SpecificChain, pairs []dexPair) *models.PriceQuote {
	var best *dexPair
	var bestLiquidity float64 = -1

	for i := range pairs {
		p := &pairs[i]
		if !sameToken(p.BaseToken.Address, token) {
			continue
		}
		if chain != "" && dexChainIDs[chain] != p.ChainID {
			continue
		}
		if _, ok := specificChainFromDex(p.ChainID); !ok {
			continue
		}
		liquidity := 0.0
		if p.Liquidity != nil && p.Liquidity.Usd != nil {
			liquidity = *p.Liquidity.Usd
		}
		if liquidity > bestLiquidity {
			best, bestLiquidity = p, liquidity
		}
	}
	if best == nil {
		return nil
	}

	price, err := decimal.NewFromString(best.PriceUsd)
	if err != nil {
		return nil
	}
	specific, _ := specificChainFromDex(best.ChainID)

	quote := &models.PriceQuote{
		Token:         token,
		Price:         price,
		Symbol:        best.BaseToken.Symbol,
		Chain:         specific.Family(),
		SpecificChain: specific,
		FetchedAt:     c.now().UTC(),
	}
	if best.Liquidity != nil {
		quote.LiquidityUsd = best.Liquidity.Usd
	}
	if best.Volume != nil {
		quote.Volume24hUsd = best.Volume.H24
	}
	quote.FdvUsd = best.Fdv
	if best.PairCreatedAt != nil {
		created := time.UnixMilli(*best.PairCreatedAt).UTC()
		quote.PairCreatedAt = &created
	}
	return quote
}

// sameToken compares EVM addresses case-insensitively and base58 addresses exactly
func sameToken(a, b string) bool {
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// CachedPriceClient is a read-through cache in front of a PriceClient
type CachedPriceClient struct {
	inner  *PriceClient
	quotes *cache.ReadThrough[*models.PriceQuote]
	store  cache.Cache
	ttl    time.Duration
}

// NewCachedPriceClient wraps inner with quotes cached for ttl
func NewCachedPriceClient(inner *PriceClient, c cache.Cache, ttl time.Duration) *CachedPriceClient {
	if c == nil {
		c = cache.Nop{}
	}
	return &CachedPriceClient{
		inner:  inner,
		quotes: cache.NewReadThrough[*models.PriceQuote](c, ttl),
		store:  c,
		ttl:    ttl,
	}
}

// GetPrice serves a cached quote or fetches it
func (c *CachedPriceClient) GetPrice(ctx context.Context, token string, chain types.SpecificChain) (*models.PriceQuote, error) {
	key := priceKey(chain, token)
	return c.quotes.Get(ctx, key, func(ctx context.Context) (*models.PriceQuote, error) {
		return c.inner.GetPrice(ctx, token, chain)
	})
}

// GetBulkPrices serves cached quotes and fetches the rest in one bulk call
func (c *CachedPriceClient) GetBulkPrices(ctx context.Context, tokens []string) (map[string]*models.PriceQuote, error) {
	out := make(map[string]*models.PriceQuote, len(tokens))
	var missing []string
	for _, token := range dedupe(tokens) {
		var q *models.PriceQuote
		if found, err := c.store.Get(ctx, priceKey("", token), &q); err == nil && found && q != nil {
			out[token] = q
			continue
		}
		missing = append(missing, token)
	}
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := c.inner.GetBulkPrices(ctx, missing)
	if err != nil {
		return nil, err
	}
	for token, q := range fetched {
		out[token] = q
		_ = c.store.Set(ctx, priceKey("", token), q, c.ttl)
	}
	return out, nil
}

// priceKey folds EVM address case; SVM addresses are case sensitive and kept as is
func priceKey(specific types.SpecificChain, token string) string {
	return cache.Key(cache.KeyPrice, string(specific), chain.NormalizeAddress(token))
}

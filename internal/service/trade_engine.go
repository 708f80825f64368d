package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trading-arena/internal/chain"
	"github.com/trading-arena/internal/config"
	apperrors "github.com/trading-arena/internal/errors"
	"github.com/trading-arena/internal/logging"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/ratelimit"
	"github.com/trading-arena/internal/storage"
	"github.com/trading-arena/internal/types"
)

// TradeStore reads balances and commits trades atomically
type TradeStore interface {
	GetBalance(ctx context.Context, agentID, competitionID, tokenAddress string) (decimal.Decimal, error)
	CommitTrade(ctx context.Context, trade *models.Trade, to storage.TokenMeta) (*models.TradeResult, error)
}

// CompetitionReader loads competitions
type CompetitionReader interface {
	GetByID(ctx context.Context, id string) (*models.Competition, error)
}

// ParticipationReader loads an agent's participation in a competition
type ParticipationReader interface {
	GetParticipation(ctx context.Context, competitionID, agentID string) (*models.CompetitionParticipation, error)
}

// PortfolioValuer values a single agent's portfolio
type PortfolioValuer interface {
	GetPortfolioValue(ctx context.Context, agentID, competitionID string) (decimal.Decimal, error)
	InvalidateAgent(ctx context.Context, agentID, competitionID string) error
}

// ConstraintSource supplies trading constraints
type ConstraintSource interface {
	GetConstraints(ctx context.Context, competitionID string) (*models.TradingConstraints, error)
}

// RandomSource returns a uniform value in [0, 1)
type RandomSource func() float64

// TradeRequest is one simulated trade submitted by an agent
type TradeRequest struct {
	AgentID           string
	CompetitionID     string
	FromToken         string
	ToToken           string
	FromAmount        decimal.Decimal
	Reason            string
	FromChain         types.BlockchainType
	ToChain           types.BlockchainType
	FromSpecificChain types.SpecificChain
	ToSpecificChain   types.SpecificChain
}

// amountScale is the fractional precision of stored token amounts
const amountScale = 18

var (
	slippagePer10k  = decimal.RequireFromString("0.0005")
	tenThousand     = decimal.NewFromInt(10000)
	slippageFloor   = decimal.RequireFromString("0.9")
	slippageSpread  = decimal.RequireFromString("0.2")
	percentDivisor  = decimal.NewFromInt(100)
	maxSlippageRate = decimal.NewFromInt(1)
)

// TradeEngine validates and executes simulated trades
type TradeEngine struct {
	competitions   CompetitionReader
	participations ParticipationReader
	trades         TradeStore
	prices         PriceOracle
	portfolio      PortfolioValuer
	constraints    ConstraintSource
	resolver       *chain.Resolver

	maxTradePercentage decimal.Decimal
	minTradeAmount     decimal.Decimal
	exemptSymbols      map[string]struct{}
	exemptTokens       map[string]struct{}

	random RandomSource
	now    Clock
}

// TradeEngineDeps groups the collaborators of a TradeEngine
type TradeEngineDeps struct {
	Competitions   CompetitionReader
	Participations ParticipationReader
	Trades         TradeStore
	Prices         PriceOracle
	Portfolio      PortfolioValuer
	Constraints    ConstraintSource
}

// NewTradeEngine creates a trade engine from the trading configuration
func NewTradeEngine(deps TradeEngineDeps, cfg config.TradingConfig) *TradeEngine {
	exemptSymbols := make(map[string]struct{})
	for _, s := range append(append([]string{}, cfg.StablecoinSymbols...), cfg.MajorTokenSymbols...) {
		exemptSymbols[strings.ToUpper(s)] = struct{}{}
	}
	exemptTokens := make(map[string]struct{})
	for _, b := range cfg.InitialBalances {
		exemptTokens[chain.NormalizeAddress(b.TokenAddress)] = struct{}{}
	}

	return &TradeEngine{
		competitions:       deps.Competitions,
		participations:     deps.Participations,
		trades:             deps.Trades,
		prices:             deps.Prices,
		portfolio:          deps.Portfolio,
		constraints:        deps.Constraints,
		resolver:           chain.NewResolver(cfg.DefaultEVMChain, cfg.DefaultSVMChain),
		maxTradePercentage: cfg.MaxTradePercentage,
		minTradeAmount:     cfg.MinTradeAmount,
		exemptSymbols:      exemptSymbols,
		exemptTokens:       exemptTokens,
		random:             rand.Float64,
		now:                systemClock,
	}
}

// SetRandomSource replaces the slippage randomness
func (e *TradeEngine) SetRandomSource(r RandomSource) {
	e.random = r
}

// ExecuteTrade validates req and commits it. Every failure before the commit leaves no side effects.
func (e *TradeEngine) ExecuteTrade(ctx context.Context, req TradeRequest) (*models.TradeResult, error) {
	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityInteractive)
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"agentId":       req.AgentID,
		"competitionId": req.CompetitionID,
	})

	fromToken := chain.NormalizeAddress(strings.TrimSpace(req.FromToken))
	toToken := chain.NormalizeAddress(strings.TrimSpace(req.ToToken))

	if err := e.validateInput(req, fromToken, toToken); err != nil {
		return nil, err
	}

	competition, err := e.requireTradable(ctx, req.CompetitionID, req.AgentID)
	if err != nil {
		return nil, err
	}

	fromRes, err := e.resolver.Resolve(fromToken, chain.Hint{Chain: req.FromChain, SpecificChain: req.FromSpecificChain})
	if err != nil {
		return nil, apperrors.NewValidationError("fromToken", err.Error())
	}
	toRes, err := e.resolver.Resolve(toToken, chain.Hint{Chain: req.ToChain, SpecificChain: req.ToSpecificChain})
	if err != nil {
		return nil, apperrors.NewValidationError("toToken", err.Error())
	}
	if err := checkCrossChain(competition.CrossChainTradingType, fromRes, toRes); err != nil {
		return nil, err
	}

	fromQuote, fromRes, err := e.quote(ctx, fromToken, fromRes)
	if err != nil {
		return nil, err
	}
	toQuote, toRes, err := e.quote(ctx, toToken, toRes)
	if err != nil {
		return nil, err
	}
	if err := checkCrossChain(competition.CrossChainTradingType, fromRes, toRes); err != nil {
		return nil, err
	}
	if !fromQuote.Price.IsPositive() {
		return nil, apperrors.NewPolicyError("PRICE_UNAVAILABLE",
			fmt.Sprintf("unable to determine a price for source token %s", fromToken),
			map[string]interface{}{"token": fromToken})
	}

	burn := toQuote.Price.IsZero()
	if !burn && !e.isExempt(toToken, toQuote.Symbol) {
		tc, err := e.constraints.GetConstraints(ctx, competition.ID)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to load trading constraints", err)
		}
		if err := e.checkConstraints(tc, toQuote); err != nil {
			return nil, err
		}
	}

	fromUSD := req.FromAmount.Mul(fromQuote.Price)
	if err := e.checkBalanceAndSize(ctx, req, fromToken, fromUSD); err != nil {
		return nil, err
	}

	toAmount, exchangeRate := decimal.Zero, decimal.Zero
	if !burn {
		effectiveUSD := fromUSD.Mul(decimal.NewFromInt(1).Sub(e.slippage(fromUSD)))
		toAmount = effectiveUSD.DivRound(toQuote.Price, amountScale)
		if !toAmount.IsPositive() {
			return nil, apperrors.NewValidationError("fromAmount",
				fmt.Sprintf("trade too small: %s %s buys less than 1e-%d %s", req.FromAmount.String(), fromQuote.Symbol, amountScale, toQuote.Symbol))
		}
		exchangeRate = toAmount.DivRound(req.FromAmount, amountScale)
	}

	trade := &models.Trade{
		ID:                uuid.New().String(),
		AgentID:           req.AgentID,
		CompetitionID:     competition.ID,
		FromToken:         fromToken,
		ToToken:           toToken,
		FromTokenSymbol:   fromQuote.Symbol,
		ToTokenSymbol:     toQuote.Symbol,
		FromAmount:        req.FromAmount,
		ToAmount:          toAmount,
		Price:             exchangeRate,
		TradeAmountUsd:    fromUSD,
		FromChain:         fromRes.Chain,
		ToChain:           toRes.Chain,
		FromSpecificChain: fromRes.SpecificChain,
		ToSpecificChain:   toRes.SpecificChain,
		Reason:            req.Reason,
		Success:           true,
		Timestamp:         e.now(),
	}

	result, err := e.trades.CommitTrade(ctx, trade, storage.TokenMeta{Symbol: toQuote.Symbol, SpecificChain: toRes.SpecificChain})
	if err != nil {
		if errors.Is(err, storage.ErrInsufficientBalance) {
			return nil, insufficientBalanceError(fromToken, decimal.Zero, req.FromAmount, false)
		}
		return nil, apperrors.NewDatabaseError("commit trade", err)
	}

	if err := e.portfolio.InvalidateAgent(ctx, req.AgentID, competition.ID); err != nil {
		logger.WithError(err).Warn("Failed to invalidate cached portfolio value")
	}

	logger.WithFields(map[string]interface{}{
		"tradeId":  trade.ID,
		"from":     fromQuote.Symbol,
		"to":       toQuote.Symbol,
		"amount":   req.FromAmount.String(),
		"usdValue": fromUSD.StringFixed(2),
		"burn":     burn,
	}).Info("Trade executed")
	return result, nil
}

func (e *TradeEngine) validateInput(req TradeRequest, fromToken, toToken string) error {
	if req.AgentID == "" {
		return apperrors.NewValidationError("agentId", "required")
	}
	if req.CompetitionID == "" {
		return apperrors.NewValidationError("competitionId", "required")
	}
	if fromToken == "" || toToken == "" {
		return apperrors.NewValidationError("token", "source and destination tokens are required")
	}
	if req.FromAmount.LessThan(e.minTradeAmount) {
		return apperrors.NewValidationError("amount", fmt.Sprintf("must be at least %s", e.minTradeAmount.String()))
	}
	if strings.TrimSpace(req.Reason) == "" {
		return apperrors.NewValidationError("reason", "required")
	}
	if fromToken == toToken {
		return apperrors.NewValidationError("toToken", "cannot trade a token for itself")
	}
	return nil
}

func (e *TradeEngine) requireTradable(ctx context.Context, competitionID, agentID string) (*models.Competition, error) {
	competition, err := e.competitions.GetByID(ctx, competitionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("competition", competitionID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load competition", err)
	}
	if competition.Status != types.CompetitionStatusActive {
		return nil, apperrors.NewPolicyError("COMPETITION_NOT_ACTIVE",
			fmt.Sprintf("competition %s is %s, trades are only accepted while active", competitionID, competition.Status),
			map[string]interface{}{"competitionId": competitionID, "status": string(competition.Status)})
	}
	if competition.IsPerps() {
		return nil, apperrors.NewPolicyError("COMPETITION_TYPE_UNSUPPORTED",
			"simulated trades are not available in perpetual futures competitions",
			map[string]interface{}{"competitionId": competitionID})
	}

	participation, err := e.participations.GetParticipation(ctx, competitionID, agentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("participant", agentID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("load participation", err)
	}
	if participation.Status != types.ParticipationActive {
		return nil, apperrors.NewPolicyError("AGENT_NOT_ACTIVE",
			fmt.Sprintf("agent %s is %s in this competition", agentID, participation.Status),
			map[string]interface{}{"agentId": agentID, "status": string(participation.Status)})
	}
	return competition, nil
}

// quote fetches the price of token. A detected chain with no quote on its default network is
// retried without a chain filter and adopts the network the oracle reports.
func (e *TradeEngine) quote(ctx context.Context, token string, res chain.Resolution) (*models.PriceQuote, chain.Resolution, error) {
	q, err := e.prices.GetPrice(ctx, token, res.SpecificChain)
	if err != nil {
		return nil, res, err
	}
	if q == nil && res.Detected {
		q, err = e.prices.GetPrice(ctx, token, "")
		if err != nil {
			return nil, res, err
		}
		if q != nil && q.SpecificChain != "" && q.SpecificChain.Family() == res.Chain {
			res.SpecificChain = q.SpecificChain
		}
	}
	if q == nil {
		return nil, res, apperrors.NewNotFoundError("token price", token)
	}
	return q, res, nil
}

func checkCrossChain(policy types.CrossChainTradingType, from, to chain.Resolution) error {
	switch policy {
	case types.CrossChainDisallowAll:
		if from.SpecificChain != to.SpecificChain {
			return apperrors.NewPolicyError("CROSS_CHAIN_DISALLOWED",
				fmt.Sprintf("cross-chain trading is disabled: %s to %s", from.SpecificChain, to.SpecificChain),
				map[string]interface{}{"fromSpecificChain": string(from.SpecificChain), "toSpecificChain": string(to.SpecificChain)})
		}
	case types.CrossChainDisallowXParent:
		if from.Chain != to.Chain {
			return apperrors.NewPolicyError("CROSS_CHAIN_DISALLOWED",
				fmt.Sprintf("trading between blockchain families is disabled: %s to %s", from.Chain, to.Chain),
				map[string]interface{}{"fromChain": string(from.Chain), "toChain": string(to.Chain)})
		}
	}
	return nil
}

func (e *TradeEngine) isExempt(token, symbol string) bool {
	if _, ok := e.exemptTokens[token]; ok {
		return true
	}
	_, ok := e.exemptSymbols[strings.ToUpper(symbol)]
	return ok
}

func (e *TradeEngine) checkConstraints(tc *models.TradingConstraints, q *models.PriceQuote) error {
	if tc.MinimumPairAgeHours > 0 {
		if q.PairCreatedAt == nil {
			return apperrors.NewMissingDataError("pair age", q.Token)
		}
		age := e.now().Sub(*q.PairCreatedAt).Hours()
		if age < tc.MinimumPairAgeHours {
			return apperrors.NewConstraintError("pair age (hours)", age, tc.MinimumPairAgeHours)
		}
	}
	if tc.Minimum24hVolumeUsd > 0 {
		if q.Volume24hUsd == nil {
			return apperrors.NewMissingDataError("24h volume", q.Token)
		}
		if *q.Volume24hUsd < tc.Minimum24hVolumeUsd {
			return apperrors.NewConstraintError("24h volume (USD)", *q.Volume24hUsd, tc.Minimum24hVolumeUsd)
		}
	}
	if tc.MinimumLiquidityUsd > 0 {
		if q.LiquidityUsd == nil {
			return apperrors.NewMissingDataError("liquidity", q.Token)
		}
		if *q.LiquidityUsd < tc.MinimumLiquidityUsd {
			return apperrors.NewConstraintError("liquidity (USD)", *q.LiquidityUsd, tc.MinimumLiquidityUsd)
		}
	}
	if tc.MinimumFdvUsd > 0 {
		if q.FdvUsd == nil {
			return apperrors.NewMissingDataError("FDV", q.Token)
		}
		if *q.FdvUsd < tc.MinimumFdvUsd {
			return apperrors.NewConstraintError("FDV (USD)", *q.FdvUsd, tc.MinimumFdvUsd)
		}
	}
	return nil
}

func (e *TradeEngine) checkBalanceAndSize(ctx context.Context, req TradeRequest, fromToken string, fromUSD decimal.Decimal) error {
	balance, err := e.trades.GetBalance(ctx, req.AgentID, req.CompetitionID, fromToken)
	if err != nil {
		return apperrors.NewDatabaseError("load balance", err)
	}
	if balance.LessThan(req.FromAmount) {
		return insufficientBalanceError(fromToken, balance, req.FromAmount, true)
	}

	portfolioValue, err := e.portfolio.GetPortfolioValue(ctx, req.AgentID, req.CompetitionID)
	if err != nil {
		return apperrors.NewUpstreamError("portfolio valuation", err)
	}
	maxAllowed := portfolioValue.Mul(e.maxTradePercentage).Div(percentDivisor)
	if fromUSD.GreaterThan(maxAllowed) {
		return apperrors.NewPolicyError("TRADE_EXCEEDS_MAX_SIZE",
			fmt.Sprintf("trade value $%s exceeds maximum size of %s%% of portfolio value ($%s)",
				fromUSD.StringFixed(2), e.maxTradePercentage.String(), maxAllowed.StringFixed(2)),
			map[string]interface{}{
				"tradeValueUsd":      fromUSD.StringFixed(2),
				"maxTradeValueUsd":   maxAllowed.StringFixed(2),
				"maxTradePercentage": e.maxTradePercentage.String(),
				"portfolioValueUsd":  portfolioValue.StringFixed(2),
			})
	}
	return nil
}

// slippage returns the fraction of the USD value lost to price impact:
// 0.05% per $10k traded, scaled by a random factor in [0.9, 1.1)
func (e *TradeEngine) slippage(fromUSD decimal.Decimal) decimal.Decimal {
	base := fromUSD.Div(tenThousand).Mul(slippagePer10k)
	factor := slippageFloor.Add(decimal.NewFromFloat(e.random()).Mul(slippageSpread))
	s := base.Mul(factor)
	if s.GreaterThan(maxSlippageRate) {
		return maxSlippageRate
	}
	return s
}

func insufficientBalanceError(token string, balance, amount decimal.Decimal, known bool) error {
	msg := fmt.Sprintf("insufficient balance of %s for a trade of %s", token, amount.String())
	details := map[string]interface{}{"token": token, "requested": amount.String()}
	if known {
		msg = fmt.Sprintf("insufficient balance of %s: %s < %s", token, balance.String(), amount.String())
		details["balance"] = balance.String()
	}
	return apperrors.NewPolicyError("INSUFFICIENT_BALANCE", msg, details)
}

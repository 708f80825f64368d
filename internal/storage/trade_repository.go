package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

// TradeRepository handles balances and the trade ledger
type TradeRepository struct {
	pool *pgxpool.Pool
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(pool *pgxpool.Pool) *TradeRepository {
	return &TradeRepository{
		pool: pool,
	}
}

// TokenMeta describes the destination token of a trade for balance creation
type TokenMeta struct {
	Symbol        string
	SpecificChain types.SpecificChain
}

// GetBalance returns the balance of one token; a missing row is a zero balance
func (r *TradeRepository) GetBalance(ctx context.Context, agentID, competitionID, tokenAddress string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT amount FROM balances
		WHERE agent_id = $1 AND competition_id = $2 AND token_address = $3`,
		agentID, competitionID, tokenAddress).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return amount, nil
}

func (r *TradeRepository) queryBalances(ctx context.Context, query string, args ...interface{}) ([]*models.Balance, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []*models.Balance
	for rows.Next() {
		var b models.Balance
		if err := rows.Scan(&b.AgentID, &b.CompetitionID, &b.TokenAddress, &b.Amount, &b.Symbol, &b.SpecificChain, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating balances: %w", err)
	}
	return balances, nil
}

// GetBalances returns all non-zero balances of an agent in a competition
func (r *TradeRepository) GetBalances(ctx context.Context, agentID, competitionID string) ([]*models.Balance, error) {
	return r.queryBalances(ctx, `
		SELECT agent_id, competition_id, token_address, amount, symbol, specific_chain, updated_at
		FROM balances
		WHERE agent_id = $1 AND competition_id = $2 AND amount > 0
		ORDER BY token_address`, agentID, competitionID)
}

// GetCompetitionBalances returns all non-zero balances of the given agents in a competition
func (r *TradeRepository) GetCompetitionBalances(ctx context.Context, competitionID string, agentIDs []string) ([]*models.Balance, error) {
	return r.queryBalances(ctx, `
		SELECT agent_id, competition_id, token_address, amount, symbol, specific_chain, updated_at
		FROM balances
		WHERE competition_id = $1 AND agent_id = ANY($2) AND amount > 0
		ORDER BY agent_id, token_address`, competitionID, agentIDs)
}

// ResetBalances replaces every balance of an agent in a competition with the given allocation
func (r *TradeRepository) ResetBalances(ctx context.Context, agentID, competitionID string, allocation []*models.Balance) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM balances WHERE agent_id = $1 AND competition_id = $2`, agentID, competitionID); err != nil {
			return fmt.Errorf("failed to clear balances: %w", err)
		}

		if len(allocation) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, b := range allocation {
			batch.Queue(`
				INSERT INTO balances (agent_id, competition_id, token_address, amount, symbol, specific_chain, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
				agentID, competitionID, b.TokenAddress, b.Amount, b.Symbol, b.SpecificChain)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert starting balances: %w", err)
		}
		return nil
	})
}

// CommitTrade applies a trade atomically: the source balance is decremented only if it covers
// the amount, the destination balance is incremented unless the trade is a burn, and the trade
// row is inserted. ErrInsufficientBalance leaves no side effects.
func (r *TradeRepository) CommitTrade(ctx context.Context, trade *models.Trade, to TokenMeta) (*models.TradeResult, error) {
	result := &models.TradeResult{Trade: trade}

	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE balances
			SET amount = amount - $4, updated_at = NOW()
			WHERE agent_id = $1 AND competition_id = $2 AND token_address = $3 AND amount >= $4
			RETURNING amount`,
			trade.AgentID, trade.CompetitionID, trade.FromToken, trade.FromAmount,
		).Scan(&result.FromTokenBalance)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInsufficientBalance
			}
			return fmt.Errorf("failed to decrement balance: %w", err)
		}

		if trade.ToAmount.IsPositive() {
			err = tx.QueryRow(ctx, `
				INSERT INTO balances (agent_id, competition_id, token_address, amount, symbol, specific_chain, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, NOW())
				ON CONFLICT (agent_id, competition_id, token_address) DO UPDATE SET
					amount = balances.amount + EXCLUDED.amount,
					updated_at = NOW()
				RETURNING amount`,
				trade.AgentID, trade.CompetitionID, trade.ToToken, trade.ToAmount, to.Symbol, to.SpecificChain,
			).Scan(&result.ToTokenBalance)
			if err != nil {
				return fmt.Errorf("failed to increment balance: %w", err)
			}
		} else {
			err = tx.QueryRow(ctx, `
				SELECT amount FROM balances
				WHERE agent_id = $1 AND competition_id = $2 AND token_address = $3`,
				trade.AgentID, trade.CompetitionID, trade.ToToken,
			).Scan(&result.ToTokenBalance)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("failed to read destination balance: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO trades (
				id, agent_id, competition_id, from_token, to_token, from_token_symbol, to_token_symbol,
				from_amount, to_amount, price, trade_amount_usd, from_chain, to_chain,
				from_specific_chain, to_specific_chain, reason, success, timestamp
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			trade.ID, trade.AgentID, trade.CompetitionID, trade.FromToken, trade.ToToken,
			trade.FromTokenSymbol, trade.ToTokenSymbol, trade.FromAmount, trade.ToAmount, trade.Price,
			trade.TradeAmountUsd, trade.FromChain, trade.ToChain, trade.FromSpecificChain,
			trade.ToSpecificChain, trade.Reason, trade.Success, trade.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListTrades returns an agent's trades in a competition, newest first
func (r *TradeRepository) ListTrades(ctx context.Context, agentID, competitionID string, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, agent_id, competition_id, from_token, to_token, from_token_symbol, to_token_symbol,
			from_amount, to_amount, price, trade_amount_usd, from_chain, to_chain,
			from_specific_chain, to_specific_chain, reason, success, timestamp
		FROM trades
		WHERE agent_id = $1 AND competition_id = $2
		ORDER BY timestamp DESC
		LIMIT $3`, agentID, competitionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(
			&t.ID, &t.AgentID, &t.CompetitionID, &t.FromToken, &t.ToToken, &t.FromTokenSymbol, &t.ToTokenSymbol,
			&t.FromAmount, &t.ToAmount, &t.Price, &t.TradeAmountUsd, &t.FromChain, &t.ToChain,
			&t.FromSpecificChain, &t.ToSpecificChain, &t.Reason, &t.Success, &t.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

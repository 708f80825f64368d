package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

const singleActiveIndex = "uq_competitions_single_active"

// CompetitionRepository handles competitions, trading constraints, final leaderboards and rewards
type CompetitionRepository struct {
	pool *pgxpool.Pool
}

// NewCompetitionRepository creates a new competition repository
func NewCompetitionRepository(pool *pgxpool.Pool) *CompetitionRepository {
	return &CompetitionRepository{
		pool: pool,
	}
}

const competitionColumns = `
	id, name, description, type, status, cross_chain_trading_type,
	start_date, end_date, join_start_date, join_end_date,
	max_participants, minimum_stake, evaluation_metric, minimum_funding_threshold,
	created_at, updated_at`

func scanCompetition(row pgx.Row) (*models.Competition, error) {
	var c models.Competition
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &c.Type, &c.Status, &c.CrossChainTradingType,
		&c.StartDate, &c.EndDate, &c.JoinStartDate, &c.JoinEndDate,
		&c.MaxParticipants, &c.MinimumStake, &c.EvaluationMetric, &c.MinimumFundingThreshold,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Create inserts a new competition
func (r *CompetitionRepository) Create(ctx context.Context, c *models.Competition) error {
	query := `
		INSERT INTO competitions (
			id, name, description, type, status, cross_chain_trading_type,
			start_date, end_date, join_start_date, join_end_date,
			max_participants, minimum_stake, evaluation_metric, minimum_funding_threshold,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`

	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.Description, c.Type, c.Status, c.CrossChainTradingType,
		c.StartDate, c.EndDate, c.JoinStartDate, c.JoinEndDate,
		c.MaxParticipants, c.MinimumStake, c.EvaluationMetric, c.MinimumFundingThreshold,
		now,
	)
	if err != nil {
		if isUniqueViolation(err, singleActiveIndex) {
			return ErrActiveCompetitionExists
		}
		return fmt.Errorf("failed to insert competition: %w", err)
	}
	c.CreatedAt, c.UpdatedAt = now, now
	return nil
}

// GetByID retrieves a competition by ID
func (r *CompetitionRepository) GetByID(ctx context.Context, id string) (*models.Competition, error) {
	query := `SELECT ` + competitionColumns + ` FROM competitions WHERE id = $1`

	c, err := scanCompetition(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get competition: %w", err)
	}
	return c, nil
}

// GetActive returns the single active competition or ErrNotFound
func (r *CompetitionRepository) GetActive(ctx context.Context) (*models.Competition, error) {
	query := `SELECT ` + competitionColumns + ` FROM competitions WHERE status = 'active' LIMIT 1`

	c, err := scanCompetition(r.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get active competition: %w", err)
	}
	return c, nil
}

func (r *CompetitionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Competition, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query competitions: %w", err)
	}
	defer rows.Close()

	var out []*models.Competition
	for rows.Next() {
		c, err := scanCompetition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan competition: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating competitions: %w", err)
	}
	return out, nil
}

// ListDueToEnd returns active or ending competitions whose end date has passed
func (r *CompetitionRepository) ListDueToEnd(ctx context.Context, now time.Time) ([]*models.Competition, error) {
	query := `SELECT ` + competitionColumns + `
		FROM competitions
		WHERE status IN ('active', 'ending') AND end_date IS NOT NULL AND end_date <= $1
		ORDER BY end_date ASC`
	return r.list(ctx, query, now)
}

// ListDueToStart returns pending competitions whose start date has passed, earliest first
func (r *CompetitionRepository) ListDueToStart(ctx context.Context, now time.Time) ([]*models.Competition, error) {
	query := `SELECT ` + competitionColumns + `
		FROM competitions
		WHERE status = 'pending' AND start_date IS NOT NULL AND start_date <= $1
		ORDER BY start_date ASC, created_at ASC`
	return r.list(ctx, query, now)
}

// Transition moves a competition from one status to another in a single conditional write.
// ErrTransitionLost means the row was not in the expected status.
// Moving to active sets the start date to now; moving to ended sets the end date when unset.
func (r *CompetitionRepository) Transition(ctx context.Context, id string, from, to types.CompetitionStatus) (*models.Competition, error) {
	return transition(ctx, r.pool, id, from, to)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func transition(ctx context.Context, q queryRower, id string, from, to types.CompetitionStatus) (*models.Competition, error) {
	query := `
		UPDATE competitions SET
			status = $3::text,
			start_date = CASE WHEN $3::text = 'active' THEN NOW() ELSE start_date END,
			end_date = CASE WHEN $3::text = 'ended' THEN COALESCE(LEAST(end_date, NOW()), NOW()) ELSE end_date END,
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + competitionColumns

	c, err := scanCompetition(q.QueryRow(ctx, query, id, from, to))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTransitionLost
		}
		if isUniqueViolation(err, singleActiveIndex) {
			return nil, ErrActiveCompetitionExists
		}
		return nil, fmt.Errorf("failed to transition competition %s from %s to %s: %w", id, from, to, err)
	}
	return c, nil
}

// GetConstraints returns the trading constraints of a competition or ErrNotFound
func (r *CompetitionRepository) GetConstraints(ctx context.Context, competitionID string) (*models.TradingConstraints, error) {
	query := `
		SELECT competition_id, minimum_pair_age_hours, minimum_24h_volume_usd,
			minimum_liquidity_usd, minimum_fdv_usd, created_at, updated_at
		FROM trading_constraints
		WHERE competition_id = $1
	`

	var tc models.TradingConstraints
	err := r.pool.QueryRow(ctx, query, competitionID).Scan(
		&tc.CompetitionID, &tc.MinimumPairAgeHours, &tc.Minimum24hVolumeUsd,
		&tc.MinimumLiquidityUsd, &tc.MinimumFdvUsd, &tc.CreatedAt, &tc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get trading constraints: %w", err)
	}
	return &tc, nil
}

// UpsertConstraints creates or replaces the trading constraints of a competition
func (r *CompetitionRepository) UpsertConstraints(ctx context.Context, tc *models.TradingConstraints) error {
	query := `
		INSERT INTO trading_constraints (
			competition_id, minimum_pair_age_hours, minimum_24h_volume_usd,
			minimum_liquidity_usd, minimum_fdv_usd, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (competition_id) DO UPDATE SET
			minimum_pair_age_hours = EXCLUDED.minimum_pair_age_hours,
			minimum_24h_volume_usd = EXCLUDED.minimum_24h_volume_usd,
			minimum_liquidity_usd = EXCLUDED.minimum_liquidity_usd,
			minimum_fdv_usd = EXCLUDED.minimum_fdv_usd,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		tc.CompetitionID, tc.MinimumPairAgeHours, tc.Minimum24hVolumeUsd,
		tc.MinimumLiquidityUsd, tc.MinimumFdvUsd,
	).Scan(&tc.CreatedAt, &tc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert trading constraints: %w", err)
	}
	return nil
}

// FinalizeInput is everything written when a competition ends
type FinalizeInput struct {
	CompetitionID string
	Entries       []*models.LeaderboardEntry
	Ranks         []*models.AgentRank
}

// Finalize marks an ending competition ended and, in the same transaction, persists the
// final leaderboard, the updated skill ranks and the reward winners.
// ErrTransitionLost means another caller finalized first and nothing was written.
func (r *CompetitionRepository) Finalize(ctx context.Context, in FinalizeInput) (*models.Competition, error) {
	var ended *models.Competition

	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		c, err := transition(ctx, tx, in.CompetitionID, types.CompetitionStatusEnding, types.CompetitionStatusEnded)
		if err != nil {
			return err
		}
		ended = c

		if len(in.Entries) > 0 {
			batch := &pgx.Batch{}
			for _, e := range in.Entries {
				batch.Queue(`
					INSERT INTO competitions_leaderboard (
						competition_id, agent_id, rank, score, total_value, pnl, starting_value, active,
						calmar_ratio, sortino_ratio, simple_return, max_drawdown, downside_deviation,
						has_risk_metrics, created_at
					) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())`,
					in.CompetitionID, e.AgentID, e.Rank, e.Score, e.Value, e.Pnl, e.StartingValue, e.Active,
					e.CalmarRatio, e.SortinoRatio, e.SimpleReturn, e.MaxDrawdown, e.DownsideDeviation,
					e.HasRiskMetrics,
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to insert leaderboard: %w", err)
			}
		}

		if len(in.Ranks) > 0 {
			batch := &pgx.Batch{}
			for _, rk := range in.Ranks {
				batch.Queue(`
					INSERT INTO agent_ranks (agent_id, score, competitions_played, updated_at)
					VALUES ($1, $2, $3, NOW())
					ON CONFLICT (agent_id) DO UPDATE SET
						score = EXCLUDED.score,
						competitions_played = EXCLUDED.competitions_played,
						updated_at = NOW()`,
					rk.AgentID, rk.Score, rk.CompetitionsPlayed,
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("failed to update agent ranks: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			UPDATE competition_rewards cr
			SET agent_id = lb.agent_id
			FROM competitions_leaderboard lb
			WHERE cr.competition_id = $1
				AND lb.competition_id = cr.competition_id
				AND lb.rank = cr.rank
				AND lb.active`,
			in.CompetitionID,
		)
		if err != nil {
			return fmt.Errorf("failed to assign rewards: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ended, nil
}

// GetLeaderboard returns the persisted final leaderboard ordered by rank; empty when not finalized
func (r *CompetitionRepository) GetLeaderboard(ctx context.Context, competitionID string) ([]*models.LeaderboardEntry, error) {
	query := `
		SELECT lb.agent_id, COALESCE(a.name, ''), lb.rank, lb.score, lb.total_value, lb.pnl,
			lb.starting_value, lb.active, lb.calmar_ratio, lb.sortino_ratio, lb.simple_return,
			lb.max_drawdown, lb.downside_deviation, lb.has_risk_metrics
		FROM competitions_leaderboard lb
		LEFT JOIN agents a ON a.id = lb.agent_id
		WHERE lb.competition_id = $1
		ORDER BY lb.rank ASC
	`

	rows, err := r.pool.Query(ctx, query, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		if err := rows.Scan(
			&e.AgentID, &e.AgentName, &e.Rank, &e.Score, &e.Value, &e.Pnl,
			&e.StartingValue, &e.Active, &e.CalmarRatio, &e.SortinoRatio, &e.SimpleReturn,
			&e.MaxDrawdown, &e.DownsideDeviation, &e.HasRiskMetrics,
		); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}
	return entries, nil
}

// ListRewards returns the reward slots of a competition ordered by rank
func (r *CompetitionRepository) ListRewards(ctx context.Context, competitionID string) ([]*models.CompetitionReward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, competition_id, rank, reward, agent_id
		FROM competition_rewards
		WHERE competition_id = $1
		ORDER BY rank ASC`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var rewards []*models.CompetitionReward
	for rows.Next() {
		var rw models.CompetitionReward
		if err := rows.Scan(&rw.ID, &rw.CompetitionID, &rw.Rank, &rw.Reward, &rw.AgentID); err != nil {
			return nil, fmt.Errorf("failed to scan reward: %w", err)
		}
		rewards = append(rewards, &rw)
	}
	return rewards, rows.Err()
}

// CreateReward adds a reward slot for a rank
func (r *CompetitionRepository) CreateReward(ctx context.Context, rw *models.CompetitionReward) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO competition_rewards (id, competition_id, rank, reward)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (competition_id, rank) DO UPDATE SET reward = EXCLUDED.reward`,
		rw.ID, rw.CompetitionID, rw.Rank, rw.Reward)
	if err != nil {
		return fmt.Errorf("failed to insert reward: %w", err)
	}
	return nil
}

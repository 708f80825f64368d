package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

// PerpsRepository handles synced perps account summaries and risk metrics
type PerpsRepository struct {
	pool *pgxpool.Pool
}

// NewPerpsRepository creates a new perps repository
func NewPerpsRepository(pool *pgxpool.Pool) *PerpsRepository {
	return &PerpsRepository{
		pool: pool,
	}
}

// UpsertAccountSummaries stores the latest account state of each agent
func (r *PerpsRepository) UpsertAccountSummaries(ctx context.Context, summaries []*models.PerpsAccountSummary) error {
	if len(summaries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range summaries {
		batch.Queue(`
			INSERT INTO perps_account_summaries (agent_id, competition_id, total_equity, total_pnl, initial_capital, synced_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (agent_id, competition_id) DO UPDATE SET
				total_equity = EXCLUDED.total_equity,
				total_pnl = EXCLUDED.total_pnl,
				initial_capital = EXCLUDED.initial_capital,
				synced_at = EXCLUDED.synced_at`,
			s.AgentID, s.CompetitionID, s.TotalEquity, s.TotalPnl, s.InitialCapital, s.SyncedAt)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert account summaries: %w", err)
	}
	return nil
}

// GetAccountSummaries returns the latest synced summaries of a competition keyed by agent ID
func (r *PerpsRepository) GetAccountSummaries(ctx context.Context, competitionID string) (map[string]*models.PerpsAccountSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, competition_id, total_equity, total_pnl, initial_capital, synced_at
		FROM perps_account_summaries WHERE competition_id = $1`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query account summaries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.PerpsAccountSummary)
	for rows.Next() {
		var s models.PerpsAccountSummary
		if err := rows.Scan(&s.AgentID, &s.CompetitionID, &s.TotalEquity, &s.TotalPnl, &s.InitialCapital, &s.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account summary: %w", err)
		}
		out[s.AgentID] = &s
	}
	return out, rows.Err()
}

// UpsertRiskMetrics stores the latest risk metrics of an agent
func (r *PerpsRepository) UpsertRiskMetrics(ctx context.Context, m *models.RiskMetrics) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO risk_metrics (
			agent_id, competition_id, simple_return, max_drawdown, downside_deviation,
			calmar_ratio, sortino_ratio, snapshot_count, calculated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_id, competition_id) DO UPDATE SET
			simple_return = EXCLUDED.simple_return,
			max_drawdown = EXCLUDED.max_drawdown,
			downside_deviation = EXCLUDED.downside_deviation,
			calmar_ratio = EXCLUDED.calmar_ratio,
			sortino_ratio = EXCLUDED.sortino_ratio,
			snapshot_count = EXCLUDED.snapshot_count,
			calculated_at = EXCLUDED.calculated_at`,
		m.AgentID, m.CompetitionID, m.SimpleReturn, m.MaxDrawdown, m.DownsideDeviation,
		m.CalmarRatio, m.SortinoRatio, m.SnapshotCount, m.CalculatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert risk metrics: %w", err)
	}
	return nil
}

// metricColumn maps an evaluation metric to its risk_metrics column.
// The column name is interpolated into SQL so only these values are accepted.
func metricColumn(metric types.EvaluationMetric) (string, error) {
	switch metric {
	case types.MetricCalmarRatio:
		return "rm.calmar_ratio", nil
	case types.MetricSortinoRatio:
		return "rm.sortino_ratio", nil
	case types.MetricSimpleReturn:
		return "rm.simple_return", nil
	default:
		return "", fmt.Errorf("unsupported evaluation metric: %s", metric)
	}
}

// GetRiskAdjustedLeaderboard returns the active participants of a perps competition in final order:
// agents with the evaluation metric first by metric descending, then agents lacking it, each group
// tie-broken by equity descending and agent ID. Rank is assigned from that order.
func (r *PerpsRepository) GetRiskAdjustedLeaderboard(ctx context.Context, competitionID string, metric types.EvaluationMetric) ([]*models.LeaderboardEntry, error) {
	col, err := metricColumn(metric)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		WITH latest AS (
			SELECT DISTINCT ON (agent_id) agent_id, total_value
			FROM portfolio_snapshots
			WHERE competition_id = $1
			ORDER BY agent_id, timestamp DESC, id DESC
		), earliest AS (
			SELECT DISTINCT ON (agent_id) agent_id, total_value
			FROM portfolio_snapshots
			WHERE competition_id = $1
			ORDER BY agent_id, timestamp ASC, id ASC
		)
		SELECT
			ca.agent_id::text,
			COALESCE(a.name, ''),
			COALESCE(s.total_equity, l.total_value, 0) AS equity,
			COALESCE(s.total_pnl, l.total_value - e.total_value, 0) AS pnl,
			COALESCE(s.initial_capital, e.total_value, 0) AS starting_value,
			rm.calmar_ratio, rm.sortino_ratio, rm.simple_return, rm.max_drawdown, rm.downside_deviation,
			(rm.agent_id IS NOT NULL) AS has_risk_metrics,
			ROW_NUMBER() OVER (ORDER BY (%[1]s IS NULL), %[1]s DESC, COALESCE(s.total_equity, l.total_value, 0) DESC, ca.agent_id) AS rank
		FROM competition_agents ca
		JOIN agents a ON a.id = ca.agent_id
		LEFT JOIN perps_account_summaries s ON s.agent_id = ca.agent_id AND s.competition_id = ca.competition_id
		LEFT JOIN risk_metrics rm ON rm.agent_id = ca.agent_id AND rm.competition_id = ca.competition_id
		LEFT JOIN latest l ON l.agent_id = ca.agent_id
		LEFT JOIN earliest e ON e.agent_id = ca.agent_id
		WHERE ca.competition_id = $1 AND ca.status = 'active'
		ORDER BY rank
	`, col)

	rows, err := r.pool.Query(ctx, query, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk-adjusted leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []*models.LeaderboardEntry
	for rows.Next() {
		e := models.LeaderboardEntry{Active: true}
		var rank int64
		if err := rows.Scan(
			&e.AgentID, &e.AgentName, &e.Value, &e.Pnl, &e.StartingValue,
			&e.CalmarRatio, &e.SortinoRatio, &e.SimpleReturn, &e.MaxDrawdown, &e.DownsideDeviation,
			&e.HasRiskMetrics, &rank,
		); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		e.Rank = int(rank)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard: %w", err)
	}
	return entries, nil
}

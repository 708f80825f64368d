package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/trading-arena/internal/models"
)

// SnapshotRepository handles the append-only portfolio value time series
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{
		pool: pool,
	}
}

// CreateBatch appends snapshots in a single round trip
func (r *SnapshotRepository) CreateBatch(ctx context.Context, snapshots []*models.PortfolioSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range snapshots {
		ts := s.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO portfolio_snapshots (agent_id, competition_id, timestamp, total_value)
			VALUES ($1, $2, $3, $4)`,
			s.AgentID, s.CompetitionID, ts, s.TotalValue)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert snapshots: %w", err)
	}
	return nil
}

func scanSnapshots(rows pgx.Rows) ([]*models.PortfolioSnapshot, error) {
	defer rows.Close()

	var out []*models.PortfolioSnapshot
	for rows.Next() {
		var s models.PortfolioSnapshot
		if err := rows.Scan(&s.ID, &s.AgentID, &s.CompetitionID, &s.Timestamp, &s.TotalValue); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return out, nil
}

// LatestPerAgent returns the most recent snapshot of every agent in a competition
func (r *SnapshotRepository) LatestPerAgent(ctx context.Context, competitionID string) ([]*models.PortfolioSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT ON (agent_id) id, agent_id, competition_id, timestamp, total_value
		FROM portfolio_snapshots
		WHERE competition_id = $1
		ORDER BY agent_id, timestamp DESC, id DESC`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest snapshots: %w", err)
	}
	return scanSnapshots(rows)
}

// ListByAgent returns an agent's snapshots in chronological order
func (r *SnapshotRepository) ListByAgent(ctx context.Context, competitionID, agentID string) ([]*models.PortfolioSnapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, agent_id, competition_id, timestamp, total_value
		FROM portfolio_snapshots
		WHERE competition_id = $1 AND agent_id = $2
		ORDER BY timestamp ASC, id ASC`, competitionID, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent snapshots: %w", err)
	}
	return scanSnapshots(rows)
}

// BulkAgentMetrics computes starting, current and 24h-ago values for a set of agents in one query.
// Agents without snapshots are omitted.
func (r *SnapshotRepository) BulkAgentMetrics(ctx context.Context, competitionID string, agentIDs []string, now time.Time) ([]*models.AgentMetrics, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}

	query := `
		WITH agents AS (
			SELECT UNNEST($2::uuid[]) AS agent_id
		)
		SELECT
			a.agent_id::text,
			first_snap.total_value,
			last_snap.total_value,
			COALESCE(day_snap.total_value, first_snap.total_value)
		FROM agents a
		JOIN LATERAL (
			SELECT total_value FROM portfolio_snapshots
			WHERE competition_id = $1 AND agent_id = a.agent_id
			ORDER BY timestamp ASC, id ASC LIMIT 1
		) first_snap ON TRUE
		JOIN LATERAL (
			SELECT total_value FROM portfolio_snapshots
			WHERE competition_id = $1 AND agent_id = a.agent_id
			ORDER BY timestamp DESC, id DESC LIMIT 1
		) last_snap ON TRUE
		LEFT JOIN LATERAL (
			SELECT total_value FROM portfolio_snapshots
			WHERE competition_id = $1 AND agent_id = a.agent_id
			ORDER BY ABS(EXTRACT(EPOCH FROM (timestamp - ($3::timestamptz - INTERVAL '24 hours')))) ASC
			LIMIT 1
		) day_snap ON TRUE
	`

	rows, err := r.pool.Query(ctx, query, competitionID, agentIDs, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent metrics: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentMetrics
	for rows.Next() {
		var m models.AgentMetrics
		if err := rows.Scan(&m.AgentID, &m.StartingValue, &m.CurrentValue, &m.Value24hAgo); err != nil {
			return nil, fmt.Errorf("failed to scan agent metrics: %w", err)
		}
		out = append(out, FillAgentMetrics(&m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent metrics: %w", err)
	}
	return out, nil
}

var hundred = decimal.NewFromInt(100)

// FillAgentMetrics derives pnl and change figures from the three raw values
func FillAgentMetrics(m *models.AgentMetrics) *models.AgentMetrics {
	m.Pnl = m.CurrentValue.Sub(m.StartingValue)
	if m.StartingValue.IsPositive() {
		m.PnlPercent = m.Pnl.Div(m.StartingValue).Mul(hundred).InexactFloat64()
	}
	m.Change24h = m.CurrentValue.Sub(m.Value24hAgo)
	if m.Value24hAgo.IsPositive() {
		m.Change24hPercent = m.Change24h.Div(m.Value24hAgo).Mul(hundred).InexactFloat64()
	}
	return m
}

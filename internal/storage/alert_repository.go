package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trading-arena/internal/models"
)

// AlertRepository handles self-funding alerts
type AlertRepository struct {
	pool *pgxpool.Pool
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(pool *pgxpool.Pool) *AlertRepository {
	return &AlertRepository{
		pool: pool,
	}
}

// CreateBatch inserts alerts in a single transaction
func (r *AlertRepository) CreateBatch(ctx context.Context, alerts []*models.SelfFundingAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range alerts {
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		evidence, err := json.Marshal(a.Evidence)
		if err != nil {
			return fmt.Errorf("failed to marshal evidence: %w", err)
		}
		batch.Queue(`
			INSERT INTO self_funding_alerts (
				id, agent_id, competition_id, expected_equity, actual_equity, unexplained_amount,
				detection_method, confidence, severity, evidence, reviewed, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, $11)`,
			a.ID, a.AgentID, a.CompetitionID, a.ExpectedEquity, a.ActualEquity, a.UnexplainedAmount,
			a.DetectionMethod, a.Confidence, a.Severity, evidence, a.CreatedAt)
	}

	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert alerts: %w", err)
		}
		return nil
	})
}

// AgentsWithUnreviewedAlerts returns the subset of agentIDs that have an unreviewed alert
func (r *AlertRepository) AgentsWithUnreviewedAlerts(ctx context.Context, competitionID string, agentIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(agentIDs) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT agent_id::text
		FROM self_funding_alerts
		WHERE competition_id = $1 AND agent_id = ANY($2) AND reviewed = FALSE`,
		competitionID, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreviewed alerts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan agent id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ListByCompetition returns alerts of a competition, newest first
func (r *AlertRepository) ListByCompetition(ctx context.Context, competitionID string, unreviewedOnly bool) ([]*models.SelfFundingAlert, error) {
	query := `
		SELECT id, agent_id, competition_id, expected_equity, actual_equity, unexplained_amount,
			detection_method, confidence, severity, evidence, reviewed, created_at
		FROM self_funding_alerts
		WHERE competition_id = $1`
	if unreviewedOnly {
		query += ` AND reviewed = FALSE`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, competitionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.SelfFundingAlert
	for rows.Next() {
		var a models.SelfFundingAlert
		var evidence []byte
		if err := rows.Scan(
			&a.ID, &a.AgentID, &a.CompetitionID, &a.ExpectedEquity, &a.ActualEquity, &a.UnexplainedAmount,
			&a.DetectionMethod, &a.Confidence, &a.Severity, &evidence, &a.Reviewed, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		if len(evidence) > 0 {
			if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
				return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
			}
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

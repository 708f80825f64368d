package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

// AgentRepository handles agents, competition participation and global skill ranks
type AgentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(pool *pgxpool.Pool) *AgentRepository {
	return &AgentRepository{
		pool: pool,
	}
}

// GetByID retrieves an agent by ID
func (r *AgentRepository) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, name, wallet_address, status, created_at
		FROM agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.OwnerID, &a.Name, &a.WalletAddress, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &a, nil
}

// GetByIDs retrieves the agents with the given IDs; unknown IDs are omitted
func (r *AgentRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, owner_id, name, wallet_address, status, created_at
		FROM agents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.WalletAddress, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

const participationColumns = `competition_id, agent_id, status, deactivation_reason, deactivated_at, created_at, updated_at`

func scanParticipation(row pgx.Row) (*models.CompetitionParticipation, error) {
	var p models.CompetitionParticipation
	err := row.Scan(&p.CompetitionID, &p.AgentID, &p.Status, &p.DeactivationReason, &p.DeactivatedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetParticipation returns an agent's participation in a competition or ErrNotFound
func (r *AgentRepository) GetParticipation(ctx context.Context, competitionID, agentID string) (*models.CompetitionParticipation, error) {
	p, err := scanParticipation(r.pool.QueryRow(ctx, `
		SELECT `+participationColumns+`
		FROM competition_agents WHERE competition_id = $1 AND agent_id = $2`,
		competitionID, agentID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get participation: %w", err)
	}
	return p, err
}

// ListParticipants returns the participants of a competition, optionally filtered by status
func (r *AgentRepository) ListParticipants(ctx context.Context, competitionID string, status *types.ParticipationStatus) ([]*models.CompetitionParticipation, error) {
	query := `SELECT ` + participationColumns + ` FROM competition_agents WHERE competition_id = $1`
	args := []interface{}{competitionID}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, *status)
	}
	query += ` ORDER BY created_at ASC, agent_id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	var out []*models.CompetitionParticipation
	for rows.Next() {
		p, err := scanParticipation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddParticipant registers an agent in a competition or reactivates a withdrawn registration.
// The competition row is locked so the participant limit and the one-agent-per-owner rule
// are checked against a stable count.
func (r *AgentRepository) AddParticipant(ctx context.Context, competitionID, agentID string) error {
	return withTx(ctx, r.pool, func(tx pgx.Tx) error {
		var maxParticipants *int
		err := tx.QueryRow(ctx, `SELECT max_participants FROM competitions WHERE id = $1 FOR UPDATE`, competitionID).
			Scan(&maxParticipants)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to lock competition: %w", err)
		}

		var current types.ParticipationStatus
		err = tx.QueryRow(ctx, `
			SELECT status FROM competition_agents WHERE competition_id = $1 AND agent_id = $2`,
			competitionID, agentID).Scan(&current)
		switch {
		case err == nil && current == types.ParticipationActive:
			return ErrAlreadyParticipating
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("failed to read participation: %w", err)
		}

		var ownerTaken bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1
				FROM competition_agents ca
				JOIN agents other ON other.id = ca.agent_id
				JOIN agents me ON me.id = $2
				WHERE ca.competition_id = $1
					AND ca.status = 'active'
					AND ca.agent_id <> me.id
					AND other.owner_id = me.owner_id
			)`, competitionID, agentID).Scan(&ownerTaken)
		if err != nil {
			return fmt.Errorf("failed to check owner participation: %w", err)
		}
		if ownerTaken {
			return ErrOwnerAlreadyParticipating
		}

		if maxParticipants != nil {
			var count int
			if err := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM competition_agents WHERE competition_id = $1 AND status = 'active'`,
				competitionID).Scan(&count); err != nil {
				return fmt.Errorf("failed to count participants: %w", err)
			}
			if count >= *maxParticipants {
				return ErrParticipantLimit
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO competition_agents (competition_id, agent_id, status, created_at, updated_at)
			VALUES ($1, $2, 'active', NOW(), NOW())
			ON CONFLICT (competition_id, agent_id) DO UPDATE SET
				status = 'active',
				deactivation_reason = NULL,
				deactivated_at = NULL,
				updated_at = NOW()`,
			competitionID, agentID)
		if err != nil {
			return fmt.Errorf("failed to insert participant: %w", err)
		}
		return nil
	})
}

// UpdateParticipationStatus sets a participant's status; reason is recorded for deactivations
func (r *AgentRepository) UpdateParticipationStatus(ctx context.Context, competitionID, agentID string, status types.ParticipationStatus, reason *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE competition_agents SET
			status = $3::text,
			deactivation_reason = CASE WHEN $3::text = 'active' THEN NULL ELSE $4 END,
			deactivated_at = CASE WHEN $3::text = 'active' THEN NULL ELSE NOW() END,
			updated_at = NOW()
		WHERE competition_id = $1 AND agent_id = $2`,
		competitionID, agentID, status, reason)
	if err != nil {
		return fmt.Errorf("failed to update participation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRanks returns the global skill ranks of the given agents keyed by agent ID
func (r *AgentRepository) GetRanks(ctx context.Context, agentIDs []string) (map[string]*models.AgentRank, error) {
	ranks := make(map[string]*models.AgentRank, len(agentIDs))
	if len(agentIDs) == 0 {
		return ranks, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT agent_id, score, competitions_played, updated_at
		FROM agent_ranks WHERE agent_id = ANY($1)`, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent ranks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rk models.AgentRank
		if err := rows.Scan(&rk.AgentID, &rk.Score, &rk.CompetitionsPlayed, &rk.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent rank: %w", err)
		}
		ranks[rk.AgentID] = &rk
	}
	return ranks, rows.Err()
}

// Create inserts an agent
func (r *AgentRepository) Create(ctx context.Context, a *models.Agent) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO agents (id, owner_id, name, wallet_address, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at`,
		a.ID, a.OwnerID, a.Name, a.WalletAddress, a.Status).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

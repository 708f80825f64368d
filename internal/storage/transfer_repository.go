package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

// TransferRepository is the ClickHouse audit log of perps account transfers
type TransferRepository struct {
	db *ClickHouseDB
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *ClickHouseDB) *TransferRepository {
	return &TransferRepository{db: db}
}

// InsertBatch appends transfers; duplicates collapse on the ReplacingMergeTree key
func (r *TransferRepository) InsertBatch(ctx context.Context, transfers []*models.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO perps_transfers (
			agent_id, competition_id, wallet, type, amount, asset, tx_hash, chain, timestamp
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare transfer batch: %w", err)
	}

	for _, t := range transfers {
		if err := batch.Append(
			t.AgentID,
			t.CompetitionID,
			t.Wallet,
			string(t.Type),
			t.Amount,
			t.Asset,
			t.TxHash,
			t.Chain,
			t.Timestamp,
		); err != nil {
			return fmt.Errorf("failed to append transfer: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send transfer batch: %w", err)
	}
	return nil
}

// ListByAgent returns an agent's recorded transfers since a point in time, oldest first
func (r *TransferRepository) ListByAgent(ctx context.Context, competitionID, agentID string, since time.Time) ([]*models.Transfer, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT agent_id, competition_id, wallet, type, amount, asset, tx_hash, chain, timestamp
		FROM perps_transfers FINAL
		WHERE competition_id = ? AND agent_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC`, competitionID, agentID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*models.Transfer
	for rows.Next() {
		var (
			t      models.Transfer
			kind   string
			amount decimal.Decimal
		)
		if err := rows.Scan(&t.AgentID, &t.CompetitionID, &t.Wallet, &kind, &amount, &t.Asset, &t.TxHash, &t.Chain, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		t.Type = types.TransferType(kind)
		t.Amount = amount
		out = append(out, &t)
	}
	return out, rows.Err()
}

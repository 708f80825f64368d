package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trading-arena/internal/config"
	"github.com/trading-arena/internal/models"
	"github.com/trading-arena/internal/types"
)

type recordingExecer struct {
	statements []string
	failOn     int
}

func (r *recordingExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	r.statements = append(r.statements, query)
	if r.failOn > 0 && len(r.statements) == r.failOn {
		return errors.New("syntax error")
	}
	return nil
}

func TestSplitSQLStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (
    id String -- inline
);

-- second
CREATE TABLE b (id String);
SELECT 1`

	got := splitSQLStatements(script)
	require.Len(t, got, 3)
	assert.Equal(t, "CREATE TABLE a (\n    id String -- inline\n)", got[0])
	assert.Equal(t, "CREATE TABLE b (id String)", got[1])
	assert.Equal(t, "SELECT 1", got[2])

	assert.Empty(t, splitSQLStatements("-- only comments\n\n"))
}

func TestRunClickHouseMigrations(t *testing.T) {
	migrations := fstest.MapFS{
		"002_second.sql": {Data: []byte("CREATE TABLE b (id String);\n")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id String);\nCREATE TABLE c (id String);\n")},
		"README.md":      {Data: []byte("not a migration")},
	}

	db := &recordingExecer{}
	require.NoError(t, RunClickHouseMigrations(context.Background(), db, migrations))
	assert.Equal(t, []string{
		"CREATE TABLE a (id String)",
		"CREATE TABLE c (id String)",
		"CREATE TABLE b (id String)",
	}, db.statements)

	failing := &recordingExecer{failOn: 2}
	err := RunClickHouseMigrations(context.Background(), failing, migrations)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2 in 001_first.sql")
	assert.Len(t, failing.statements, 2, "later files are not applied after a failure")

	assert.NoError(t, RunClickHouseMigrations(context.Background(), db, fstest.MapFS{}))
}

func TestRunClickHouseMigrations_ShippedFiles(t *testing.T) {
	db := &recordingExecer{}
	require.NoError(t, RunClickHouseMigrations(context.Background(), db, os.DirFS("../../migrations/clickhouse")))
	require.NotEmpty(t, db.statements)
	assert.Contains(t, db.statements[0], "CREATE TABLE IF NOT EXISTS perps_transfers")
}

func testClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     envOr("TEST_CLICKHOUSE_HOST", "localhost"),
		Port:     envOr("TEST_CLICKHOUSE_PORT", "9000"),
		Database: envOr("TEST_CLICKHOUSE_DB", "default"),
		User:     envOr("TEST_CLICKHOUSE_USER", "default"),
		Password: envOr("TEST_CLICKHOUSE_PASSWORD", ""),
	}
	db, err := NewClickHouseDB(testContext(t), cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunClickHouseMigrations(testContext(t), db, os.DirFS("../../migrations/clickhouse")))
	return db
}

func TestTransferRepository_RoundTrip(t *testing.T) {
	db := testClickHouse(t)
	repo := NewTransferRepository(db)
	ctx := testContext(t)

	competitionID, agentID := uuid.NewString(), uuid.NewString()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deposit := &models.Transfer{
		AgentID: agentID, CompetitionID: competitionID, Wallet: "0xabc",
		Type: types.TransferDeposit, Amount: decimal.RequireFromString("250.5"), Asset: "USDC",
		TxHash: "0x01", Chain: "arbitrum", Timestamp: start.Add(time.Hour),
	}
	early := *deposit
	early.TxHash, early.Timestamp = "0x00", start.Add(-time.Hour)

	require.NoError(t, repo.InsertBatch(ctx, []*models.Transfer{deposit, &early}))
	// re-inserting the same transfer collapses on the merge key
	require.NoError(t, repo.InsertBatch(ctx, []*models.Transfer{deposit}))

	got, err := repo.ListByAgent(ctx, competitionID, agentID, start)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.TransferDeposit, got[0].Type)
	assert.True(t, got[0].Amount.Equal(deposit.Amount))
	assert.Equal(t, "0x01", got[0].TxHash)
}

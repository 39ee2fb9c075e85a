package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/opsflow/internal/model"
)

// Helper function to create test storage.
func createTestStorage(t *testing.T) *SQLStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testOperation(id, userID string, amount float64, date time.Time) *model.MasterOperation {
	return &model.MasterOperation{
		ID:              id,
		UserID:          userID,
		OperationType:   model.OperationExpense,
		Amount:          amount,
		Currency:        "CAD",
		Description:     "Office chairs",
		Counterparty:    "Staples",
		TransactionDate: date,
		Status:          model.OperationPendingReview,
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))

	version, err := store.schemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExpectedSchemaVersion, version)
}

func TestBeginTx(t *testing.T) {
	store := createTestStorage(t)
	ctx := context.Background()
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("rollback discards writes", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.CreateMasterOperation(ctx, testOperation("op-rb", "u1", 10, date)))
		require.NoError(t, tx.Rollback())

		_, err = store.GetMasterOperation(ctx, "op-rb")
		require.Error(t, err)
	})

	t.Run("commit keeps writes", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.CreateMasterOperation(ctx, testOperation("op-c", "u1", 10, date)))
		require.NoError(t, tx.Commit())
		require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

		op, err := store.GetMasterOperation(ctx, "op-c")
		require.NoError(t, err)
		assert.Equal(t, "Staples", op.Counterparty)
	})

	t.Run("nested transactions are rejected", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()

		_, err = tx.BeginTx(ctx)
		require.ErrorIs(t, err, ErrNestedTransaction)
		require.Error(t, tx.Migrate(ctx))
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLStorage{dialect: DialectPostgres}
	lite := &SQLStorage{dialect: DialectSQLite}

	query := "SELECT 1 FROM t WHERE a = ? AND b = ? LIMIT ?"
	assert.Equal(t, "SELECT 1 FROM t WHERE a = $1 AND b = $2 LIMIT $3", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

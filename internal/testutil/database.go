// Package testutil provides shared helpers for tests that need a real database.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/opsflow/internal/model"
	"github.com/Veraticus/opsflow/internal/storage"
)

// TestDB is a migrated in-memory store with seeding helpers.
type TestDB struct {
	Storage *storage.SQLStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database.
// It automatically handles migrations and cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// MustCompany stores a company owned by ownerID.
func (db *TestDB) MustCompany(id, ownerID string, threshold float64) *model.Company {
	db.t.Helper()

	company := &model.Company{
		ID:                id,
		OwnerID:           ownerID,
		TenantID:          "tenant-" + id,
		Name:              "Company " + id,
		ApprovalThreshold: threshold,
	}
	if err := db.Storage.SaveCompany(context.Background(), company); err != nil {
		db.t.Fatalf("failed to seed company %q: %v", id, err)
	}
	return company
}

// MustOperation stores a master operation.
func (db *TestDB) MustOperation(op model.MasterOperation) *model.MasterOperation {
	db.t.Helper()

	if op.Currency == "" {
		op.Currency = "CAD"
	}
	if op.OperationType == "" {
		op.OperationType = model.OperationExpense
	}
	if op.TransactionDate.IsZero() {
		op.TransactionDate = time.Now().UTC()
	}
	if err := db.Storage.CreateMasterOperation(context.Background(), &op); err != nil {
		db.t.Fatalf("failed to seed operation %q: %v", op.ID, err)
	}
	return &op
}

// MustRule stores a business rule.
func (db *TestDB) MustRule(rule model.BusinessRule) {
	db.t.Helper()

	if err := db.Storage.SaveBusinessRule(context.Background(), &rule); err != nil {
		db.t.Fatalf("failed to seed rule %q: %v", rule.Name, err)
	}
}

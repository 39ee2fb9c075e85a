package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/opsflow/internal/model"
)

// SaveCompany inserts or updates a company.
func (s *SQLStorage) SaveCompany(ctx context.Context, company *model.Company) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if company == nil {
		return fmt.Errorf("%w: company", ErrNilParameter)
	}
	if err := validateString(company.ID, "company.ID"); err != nil {
		return err
	}
	if err := validateString(company.OwnerID, "company.OwnerID"); err != nil {
		return err
	}
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO companies (id, owner_id, tenant_id, name, approval_threshold, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id,
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			approval_threshold = excluded.approval_threshold`,
		company.ID, company.OwnerID, company.TenantID, company.Name, company.ApprovalThreshold, company.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save company: %w", err)
	}
	return nil
}

// GetCompany retrieves a company by ID.
func (s *SQLStorage) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	company, err := scanCompany(s.queryRow(ctx, `
		SELECT id, owner_id, tenant_id, name, approval_threshold, created_at
		FROM companies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("company", id)
	}
	return company, err
}

// GetCompanyByOwner returns the oldest company owned by ownerID.
func (s *SQLStorage) GetCompanyByOwner(ctx context.Context, ownerID string) (*model.Company, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(ownerID, "ownerID"); err != nil {
		return nil, err
	}

	company, err := scanCompany(s.queryRow(ctx, `
		SELECT id, owner_id, tenant_id, name, approval_threshold, created_at
		FROM companies WHERE owner_id = ? ORDER BY created_at ASC, id ASC LIMIT 1`, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("company owned by", ownerID)
	}
	return company, err
}

// ListCompanies returns companies owned by ownerID, or every company when ownerID is empty.
func (s *SQLStorage) ListCompanies(ctx context.Context, ownerID string) ([]model.Company, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, owner_id, tenant_id, name, approval_threshold, created_at FROM companies`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query companies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var companies []model.Company
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		companies = append(companies, *company)
	}
	return companies, rows.Err()
}

func scanCompany(row rowScanner) (*model.Company, error) {
	var c model.Company
	if err := row.Scan(&c.ID, &c.OwnerID, &c.TenantID, &c.Name, &c.ApprovalThreshold, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan company: %w", err)
	}
	return &c, nil
}

// SaveClient inserts a client.
func (s *SQLStorage) SaveClient(ctx context.Context, client *model.Client) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("%w: client", ErrNilParameter)
	}
	if err := validateString(client.ID, "client.ID"); err != nil {
		return err
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	_, err := s.exec(ctx, `
		INSERT INTO clients (id, user_id, company_id, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		client.ID, client.UserID, client.CompanyID, client.Name, client.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

// ListClients returns a user's clients, optionally only those created since a point in time.
func (s *SQLStorage) ListClients(ctx context.Context, userID string, since *time.Time) ([]model.Client, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, user_id, company_id, name, created_at FROM clients WHERE user_id = ?`
	args := []any{userID}
	if since != nil {
		query += ` AND created_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clients []model.Client
	for rows.Next() {
		var c model.Client
		if err := rows.Scan(&c.ID, &c.UserID, &c.CompanyID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

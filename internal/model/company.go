package model

import "time"

// Company is the tenant-scoped business an event is filed against.
type Company struct {
	CreatedAt         time.Time `json:"created_at"`
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	TenantID          string    `json:"tenant_id"`
	Name              string    `json:"name"`
	ApprovalThreshold float64   `json:"approval_threshold"`
}

// Client is a customer of a company; only its creation date matters to the core.
type Client struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id,omitempty"`
	Name      string    `json:"name"`
}

// Package tenant provides the tenant lookup capability for the payment engine.
//
// Tenant CRUD lives in the admin backend; this package only answers "does
// this tenant exist and may it transact" before money moves.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrTenantNotFound  = errors.New("tenant: not found")
	ErrTenantSuspended = errors.New("tenant: suspended")
)

// Status represents a tenant's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Tenant represents an organisation using the platform.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store reads tenant records.
type Store interface {
	Get(ctx context.Context, id string) (*Tenant, error)
}

// Validate returns the tenant if it exists and is allowed to transact.
func Validate(ctx context.Context, store Store, id string) (*Tenant, error) {
	t, err := store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", id, err)
	}
	if t.Status != StatusActive {
		return nil, fmt.Errorf("tenant %s: %w", id, ErrTenantSuspended)
	}
	return t, nil
}

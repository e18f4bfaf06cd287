// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/docvault/internal/model"
)

// UserRepository provides access to accounts. Users are never hard-deleted.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByEmail loads a user by lower-cased email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// GetByNationalID loads a user by national identifier.
	GetByNationalID(ctx context.Context, nationalID string) (*model.User, error)
	// UpdateRole replaces role, organization and permissions.
	UpdateRole(ctx context.Context, u *model.User) error
	// SetActive flips the soft-deactivation flag.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// OrganizationRepository provides access to government organizations.
type OrganizationRepository interface {
	// Create inserts a new organization.
	Create(ctx context.Context, o *model.Organization) error
	// GetByID loads an organization by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error)
	// List returns all organizations ordered by tier, then code.
	List(ctx context.Context) ([]model.Organization, error)
}

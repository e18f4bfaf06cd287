package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/docvault/internal/model"
)

// DocumentRepository provides access to documents and their lifecycle.
type DocumentRepository interface {
	// Create inserts a new document in whatever status it carries.
	Create(ctx context.Context, d *model.Document) error
	// SetAnchor stores the integrity receipt of an already created document.
	SetAnchor(ctx context.Context, id uuid.UUID, hash, txID string) error
	// GetByID returns a single document by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Document, error)
	// ListByOwner returns documents owned by the user, newest first.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Document, error)
	// ListPending returns pending documents whose tags intersect domains.
	// A nil domains slice means no tag filter.
	ListPending(ctx context.Context, domains []string) ([]model.Document, error)
	// Transition applies a status change only if the stored status still
	// equals t.From. It returns errs.ErrInvalidStateTransition when the
	// stored status differs and errs.ErrNotFound when the row is missing.
	Transition(ctx context.Context, t model.Transition) (*model.Document, error)
}

// AuditRepository appends audit entries.
type AuditRepository interface {
	// Append stores one entry.
	Append(ctx context.Context, e model.AuditEntry) error
}

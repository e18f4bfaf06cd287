package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/model"
)

// DocumentRepo implements DocumentRepository using PostgreSQL.
type DocumentRepo struct{ db *DB }

// NewDocumentRepo constructs a document repository.
func NewDocumentRepo(db *DB) *DocumentRepo { return &DocumentRepo{db: db} }

const docColumns = `id, owner_user_id, title, type, storage_url, status, uploaded_by, issuer_org_id, ` +
	`verified_by, verified_at, verification_note, rejected_by, rejected_at, rejection_reason, ` +
	`blockchain_hash, anchor_tx_id, authenticity_score, tags, created_at, updated_at`

// Create inserts a document row as given.
func (r *DocumentRepo) Create(ctx context.Context, d *model.Document) error {
	const q = `
INSERT INTO documents (id, owner_user_id, title, type, storage_url, status, uploaded_by, issuer_org_id,
  verified_by, verified_at, verification_note, blockchain_hash, anchor_tx_id, authenticity_score, tags, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`
	_, err := r.db.Pool.Exec(ctx, q,
		d.ID, d.OwnerUserID, d.Title, d.Type, d.StorageURL, string(d.Status), d.UploadedBy,
		nullUUID(d.IssuerOrgID), nullUUID(d.VerifiedBy), d.VerifiedAt, d.VerificationNote,
		d.BlockchainHash, d.AnchorTxID, d.AuthenticityScore, d.Tags, d.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: owner or organization", errs.ErrNotFound)
	}
	return err
}

// SetAnchor records the anchor receipt without touching status or updated_at.
func (r *DocumentRepo) SetAnchor(ctx context.Context, id uuid.UUID, hash, txID string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE documents SET blockchain_hash=$2, anchor_tx_id=$3 WHERE id=$1`, id, hash, txID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// GetByID returns a single document by id.
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	d, err := scanDocument(r.db.Pool.QueryRow(ctx, `SELECT `+docColumns+` FROM documents WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListByOwner returns the owner's documents, newest first.
func (r *DocumentRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Document, error) {
	return r.list(ctx, `SELECT `+docColumns+` FROM documents WHERE owner_user_id=$1 ORDER BY created_at DESC`, ownerID)
}

// ListPending returns pending documents routed to any of the domains, oldest first.
func (r *DocumentRepo) ListPending(ctx context.Context, domains []string) ([]model.Document, error) {
	if domains == nil {
		return r.list(ctx, `SELECT `+docColumns+` FROM documents WHERE status=$1 ORDER BY created_at ASC`,
			string(model.StatusPending))
	}
	return r.list(ctx, `SELECT `+docColumns+` FROM documents WHERE status=$1 AND tags && $2 ORDER BY created_at ASC`,
		string(model.StatusPending), domains)
}

func (r *DocumentRepo) list(ctx context.Context, q string, args ...any) ([]model.Document, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Transition applies a compare-and-swap on status in a single statement, so
// two concurrent transitions of the same document cannot both succeed.
func (r *DocumentRepo) Transition(ctx context.Context, t model.Transition) (*model.Document, error) {
	if !model.CanTransition(t.From, t.To) {
		return nil, errs.ErrInvalidStateTransition
	}
	var q string
	switch t.To {
	case model.StatusVerified:
		q = `
UPDATE documents
SET status=$2, verified_by=$3, verified_at=$4, verification_note=$5, updated_at=$4
WHERE id=$1 AND status=$6
RETURNING ` + docColumns
	case model.StatusRejected:
		q = `
UPDATE documents
SET status=$2, rejected_by=$3, rejected_at=$4, rejection_reason=$5, updated_at=$4
WHERE id=$1 AND status=$6
RETURNING ` + docColumns
	}

	d, err := scanDocument(r.db.Pool.QueryRow(ctx, q, t.DocID, string(t.To), t.Actor, t.At, t.Note, string(t.From)))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	// Nothing updated: tell a missing row apart from a status mismatch.
	var cur string
	err = r.db.Pool.QueryRow(ctx, `SELECT status FROM documents WHERE id=$1`, t.DocID).Scan(&cur)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errs.ErrNotFound
	case err != nil:
		return nil, err
	}
	return nil, fmt.Errorf("%w: document is %s", errs.ErrInvalidStateTransition, cur)
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	var (
		d                      model.Document
		status                 string
		issuerOrg              uuid.NullUUID
		verifiedBy, rejectedBy uuid.NullUUID
	)
	if err := row.Scan(&d.ID, &d.OwnerUserID, &d.Title, &d.Type, &d.StorageURL, &status, &d.UploadedBy,
		&issuerOrg, &verifiedBy, &d.VerifiedAt, &d.VerificationNote, &rejectedBy, &d.RejectedAt,
		&d.RejectionReason, &d.BlockchainHash, &d.AnchorTxID, &d.AuthenticityScore, &d.Tags,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = model.DocStatus(status)
	d.IssuerOrgID = uuidPtr(issuerOrg)
	d.VerifiedBy = uuidPtr(verifiedBy)
	d.RejectedBy = uuidPtr(rejectedBy)
	return &d, nil
}

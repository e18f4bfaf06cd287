package postgres

import (
	"context"

	"github.com/and161185/docvault/internal/model"
)

// AuditRepo implements AuditRepository using PostgreSQL. The table is
// append-only: the repository exposes no update or delete.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Append inserts one audit entry.
func (r *AuditRepo) Append(ctx context.Context, e model.AuditEntry) error {
	const q = `
INSERT INTO audit_log (id, actor_id, action, target_doc_id, occurred_at, ip_address, details)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	_, err := r.db.Pool.Exec(ctx, q, e.ID, nullUUID(e.ActorID), string(e.Action),
		nullUUID(e.TargetDocID), e.Timestamp, e.IPAddress, details)
	return err
}

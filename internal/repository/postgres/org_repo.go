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

// OrgRepo implements OrganizationRepository using PostgreSQL.
type OrgRepo struct{ db *DB }

// NewOrgRepo constructs an organization repository.
func NewOrgRepo(db *DB) *OrgRepo { return &OrgRepo{db: db} }

// Create inserts a new organization.
func (r *OrgRepo) Create(ctx context.Context, o *model.Organization) error {
	const q = `
INSERT INTO organizations (id, name, code, type, tier, tags)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, o.ID, o.Name, o.Code, string(o.Type), o.Tier, o.Tags)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects an organization by ID.
func (r *OrgRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Organization, error) {
	const q = `SELECT id, name, code, type, tier, tags, created_at FROM organizations WHERE id=$1`
	o, err := scanOrg(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// List returns all organizations.
func (r *OrgRepo) List(ctx context.Context) ([]model.Organization, error) {
	const q = `SELECT id, name, code, type, tier, tags, created_at FROM organizations ORDER BY tier ASC, code ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Organization
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOrg(row pgx.Row) (*model.Organization, error) {
	var (
		o    model.Organization
		typ  string
		tier int16
	)
	if err := row.Scan(&o.ID, &o.Name, &o.Code, &typ, &tier, &o.Tags, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.Type = model.OrgType(typ)
	if !o.Type.Valid() {
		return nil, fmt.Errorf("organization %s: unknown type %q", o.ID, typ)
	}
	o.Tier = int(tier)
	return &o, nil
}

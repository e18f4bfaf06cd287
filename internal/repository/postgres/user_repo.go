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

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, email, telephone, password_hash, national_id, role, organization_id, permissions, is_active, created_at, updated_at`

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, email, telephone, password_hash, national_id, role, organization_id, permissions, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.Pool.Exec(ctx, q,
		u.ID, u.Email, u.Telephone, u.PasswordHash, nullString(u.NationalID),
		string(u.Role), nullUUID(u.OrganizationID), u.Permissions.Strings(), u.IsActive)
	switch {
	case isUniqueViolation(err):
		return errs.ErrAlreadyExists
	case isForeignKeyViolation(err):
		return fmt.Errorf("%w: organization", errs.ErrNotFound)
	}
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
}

// GetByNationalID selects a user by national identifier.
func (r *UserRepo) GetByNationalID(ctx context.Context, nationalID string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE national_id=$1`, nationalID)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg any) (*model.User, error) {
	u, err := scanUser(r.db.Pool.QueryRow(ctx, q, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

// UpdateRole replaces role, organization and permissions.
func (r *UserRepo) UpdateRole(ctx context.Context, u *model.User) error {
	const q = `
UPDATE users
SET role=$2, organization_id=$3, permissions=$4, updated_at=now()
WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, u.ID, string(u.Role), nullUUID(u.OrganizationID), u.Permissions.Strings())
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: organization", errs.ErrNotFound)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetActive updates the soft-deactivation flag.
func (r *UserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const q = `UPDATE users SET is_active=$2, updated_at=now() WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u          model.User
		nationalID *string
		role       string
		orgID      uuid.NullUUID
		perms      []string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Telephone, &u.PasswordHash, &nationalID,
		&role, &orgID, &perms, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if nationalID != nil {
		u.NationalID = *nationalID
	}
	var err error
	if u.Role, err = model.ParseRole(role); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	if u.Permissions, err = model.ParseCapabilities(perms); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.OrganizationID = uuidPtr(orgID)
	return &u, nil
}

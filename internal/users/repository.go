package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

const identityColumns = `id, account_id, name, team, status, is_active, assigned_roles, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db db.Querier
}

// NewRepository constructs a repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// Get fetches a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (Identity, error) {
	row := r.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM users WHERE id = $1`, id)
	u, err := scanIdentity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Identity{}, shared.ErrUserNotFound
		}
		return Identity{}, fmt.Errorf("users: get %d: %w", id, err)
	}
	return u, nil
}

// List returns all users ordered by id.
func (r *Repository) List(ctx context.Context) ([]Identity, error) {
	rows, err := r.db.Query(ctx, `SELECT `+identityColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var out []Identity
	for rows.Next() {
		u, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("users: scan: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Create inserts a user.
func (r *Repository) Create(ctx context.Context, in NewIdentity) (Identity, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO users (account_id, name, team, status, is_active, assigned_roles)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+identityColumns,
		in.AccountID, in.Name, in.Team, string(in.Status), in.Status == StatusActive, NewRoleSet(in.Roles...).Codes())
	u, err := scanIdentity(row)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Identity{}, fmt.Errorf("users: create: %w", shared.ErrDuplicate)
		}
		return Identity{}, fmt.Errorf("users: create: %w", err)
	}
	return u, nil
}

// SetStatus updates the lifecycle status; is_active follows it.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET status = $2, is_active = $3, updated_at = NOW() WHERE id = $1`, id, string(status), status == StatusActive)
	if err != nil {
		return fmt.Errorf("users: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// AddRole appends code to the user's role set unless already held.
// The single-row update keeps concurrent assigns on one user atomic.
func (r *Repository) AddRole(ctx context.Context, id int64, code string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users
SET assigned_roles = CASE WHEN $2 = ANY(assigned_roles) THEN assigned_roles ELSE array_append(assigned_roles, $2) END,
    updated_at = NOW()
WHERE id = $1`, id, code)
	if err != nil {
		return fmt.Errorf("users: add role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

// RemoveRole drops code from the user's role set. Missing codes are a no-op.
func (r *Repository) RemoveRole(ctx context.Context, id int64, code string) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET assigned_roles = array_remove(assigned_roles, $2), updated_at = NOW() WHERE id = $1`, id, code)
	if err != nil {
		return fmt.Errorf("users: remove role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrUserNotFound
	}
	return nil
}

func scanIdentity(row pgx.Row) (Identity, error) {
	var (
		u      Identity
		status string
		codes  []string
	)
	if err := row.Scan(&u.ID, &u.AccountID, &u.Name, &u.Team, &status, &u.IsActive, &codes, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return Identity{}, err
	}
	u.Status = Status(status)
	u.AssignedRoles = NewRoleSet(codes...)
	return u, nil
}

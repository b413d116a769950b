package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

const roleColumns = `id, code, display_name, is_active, is_system_protected, display_order, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	db db.Querier
}

// NewRepository constructs a repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// List returns all roles ordered for display.
func (r *Repository) List(ctx context.Context) ([]Role, error) {
	return r.query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY display_order, id`)
}

// ListByCodes returns the roles whose code is in codes, active or not, ordered for display.
// Unknown codes are skipped.
func (r *Repository) ListByCodes(ctx context.Context, codes []string) ([]Role, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+roleColumns+` FROM roles WHERE code = ANY($1) ORDER BY display_order, id`, codes)
}

// Get fetches a role by id.
func (r *Repository) Get(ctx context.Context, id int64) (Role, error) {
	return r.one(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
}

// GetByCode fetches a role by its stable code.
func (r *Repository) GetByCode(ctx context.Context, code string) (Role, error) {
	return r.one(ctx, `SELECT `+roleColumns+` FROM roles WHERE code = $1`, code)
}

// Create inserts a new role.
func (r *Repository) Create(ctx context.Context, in NewRole) (Role, error) {
	role, err := r.one(ctx, `INSERT INTO roles (code, display_name, is_active, is_system_protected, display_order)
VALUES ($1, $2, $3, $4, $5)
RETURNING `+roleColumns,
		in.Code, in.DisplayName, in.IsActive, in.IsSystemProtected, in.DisplayOrder)
	if err != nil && shared.IsUniqueViolation(err) {
		return Role{}, fmt.Errorf("roles: create %s: %w", in.Code, shared.ErrDuplicate)
	}
	return role, err
}

// Rename changes the display name of an unprotected role.
func (r *Repository) Rename(ctx context.Context, id int64, name string) error {
	tag, err := r.db.Exec(ctx, `UPDATE roles SET display_name = $2, updated_at = NOW() WHERE id = $1 AND NOT is_system_protected`, id, name)
	if err != nil {
		return fmt.Errorf("roles: rename: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// SetActive toggles whether the role takes part in aggregation.
func (r *Repository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE roles SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("roles: set active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrRoleNotFound
	}
	return nil
}

// Delete removes an unprotected role and strips its code from every user in the
// same statement. Permission rows go with it through ON DELETE CASCADE.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	var deleted int
	err := r.db.QueryRow(ctx, `WITH deleted AS (
    DELETE FROM roles WHERE id = $1 AND NOT is_system_protected RETURNING code
), stripped AS (
    UPDATE users SET assigned_roles = array_remove(users.assigned_roles, d.code), updated_at = NOW()
    FROM deleted d
    WHERE d.code = ANY(users.assigned_roles)
)
SELECT count(*) FROM deleted`, id).Scan(&deleted)
	if err != nil {
		return fmt.Errorf("roles: delete: %w", err)
	}
	if deleted == 0 {
		return r.explainMiss(ctx, id)
	}
	return nil
}

// explainMiss distinguishes a protected role from a missing one after a guarded write touched no rows.
func (r *Repository) explainMiss(ctx context.Context, id int64) error {
	role, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystemProtected {
		return shared.ErrSystemProtected
	}
	return fmt.Errorf("roles: write to role %d affected no rows", id)
}

func (r *Repository) one(ctx context.Context, query string, args ...any) (Role, error) {
	role, err := scanRole(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrRoleNotFound
		}
		return Role{}, fmt.Errorf("roles: query: %w", err)
	}
	return role, nil
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Role, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("roles: scan: %w", err)
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Code, &role.DisplayName, &role.IsActive, &role.IsSystemProtected,
		&role.DisplayOrder, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Grant is one permission row.
type Grant struct {
	RoleID     int64     `json:"role_id"`
	ResourceID int64     `json:"resource_id"`
	Tier       Tier      `json:"tier"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Repository stores the permission matrix in role_permissions, unique on (role_id, resource_id).
type Repository struct {
	db db.Querier
}

// NewRepository constructs a repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// Upsert writes the tier for (roleID, resourceID). Repeating it is harmless.
func (r *Repository) Upsert(ctx context.Context, roleID, resourceID int64, tier Tier) error {
	_, err := r.db.Exec(ctx, `INSERT INTO role_permissions (role_id, resource_id, tier, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (role_id, resource_id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = EXCLUDED.updated_at`,
		roleID, resourceID, tier.String())
	if err != nil {
		switch {
		case shared.IsUniqueViolation(err), shared.IsRetryable(err):
			return fmt.Errorf("rbac: upsert grant: %w", shared.ErrConflictingGrant)
		case shared.IsForeignKeyViolation(err):
			return fmt.Errorf("rbac: upsert grant: role or resource vanished: %w", shared.ErrNotFound)
		}
		return fmt.Errorf("rbac: upsert grant: %w", err)
	}
	return nil
}

// Delete removes the row. Deleting an absent row is a no-op.
func (r *Repository) Delete(ctx context.Context, roleID, resourceID int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND resource_id = $2`, roleID, resourceID); err != nil {
		if shared.IsRetryable(err) {
			return fmt.Errorf("rbac: delete grant: %w", shared.ErrConflictingGrant)
		}
		return fmt.Errorf("rbac: delete grant: %w", err)
	}
	return nil
}

// TiersFor returns role id → tier on one resource for the given roles.
func (r *Repository) TiersFor(ctx context.Context, roleIDs []int64, resourceID int64) (map[int64]Tier, error) {
	out := make(map[int64]Tier, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT role_id, resource_id, tier, updated_at FROM role_permissions WHERE role_id = ANY($1) AND resource_id = $2`, roleIDs, resourceID)
	if err != nil {
		return nil, fmt.Errorf("rbac: tiers for resource %d: %w", resourceID, err)
	}
	grants, err := collectGrants(rows)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		out[g.RoleID] = g.Tier
	}
	return out, nil
}

// TiersForRoles returns resource id → role id → tier for every row of the given roles.
func (r *Repository) TiersForRoles(ctx context.Context, roleIDs []int64) (map[int64]map[int64]Tier, error) {
	out := make(map[int64]map[int64]Tier)
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT role_id, resource_id, tier, updated_at FROM role_permissions WHERE role_id = ANY($1)`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("rbac: tiers for roles: %w", err)
	}
	grants, err := collectGrants(rows)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		if out[g.ResourceID] == nil {
			out[g.ResourceID] = make(map[int64]Tier)
		}
		out[g.ResourceID][g.RoleID] = g.Tier
	}
	return out, nil
}

// ListByRole returns every row of one role.
func (r *Repository) ListByRole(ctx context.Context, roleID int64) ([]Grant, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id, resource_id, tier, updated_at FROM role_permissions WHERE role_id = $1 ORDER BY resource_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list grants: %w", err)
	}
	return collectGrants(rows)
}

type grantRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func collectGrants(rows grantRows) ([]Grant, error) {
	defer rows.Close()
	var out []Grant
	for rows.Next() {
		var (
			g    Grant
			name string
		)
		if err := rows.Scan(&g.RoleID, &g.ResourceID, &name, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("rbac: scan grant: %w", err)
		}
		tier, err := ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("rbac: role %d resource %d: %w", g.RoleID, g.ResourceID, err)
		}
		g.Tier = tier
		out = append(out, g)
	}
	return out, rows.Err()
}

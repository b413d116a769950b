package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

const resourceColumns = `id, category, page_name, url_path, level, parent_group, is_enabled, display_order, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for the catalog.
type Repository struct {
	db db.Querier
}

// NewRepository constructs a repository.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

// ListEnabled returns enabled resources in menu order.
func (r *Repository) ListEnabled(ctx context.Context) ([]Resource, error) {
	return r.list(ctx, `SELECT `+resourceColumns+` FROM resources WHERE is_enabled ORDER BY category, display_order, id`)
}

// ListAll returns every resource, disabled ones included, in menu order.
func (r *Repository) ListAll(ctx context.Context) ([]Resource, error) {
	return r.list(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY category, display_order, id`)
}

func (r *Repository) list(ctx context.Context, query string) ([]Resource, error) {
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("catalog: list resources: %w", err)
	}
	defer rows.Close()
	var out []Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("catalog: scan resource: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// Get fetches a resource by id.
func (r *Repository) Get(ctx context.Context, id int64) (Resource, error) {
	row := r.db.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
	res, err := scanResource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resource{}, shared.ErrResourceNotFound
		}
		return Resource{}, fmt.Errorf("catalog: get resource %d: %w", id, err)
	}
	return res, nil
}

// Create inserts a resource.
func (r *Repository) Create(ctx context.Context, in NewResource) (Resource, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO resources (category, page_name, url_path, level, parent_group, is_enabled, display_order)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+resourceColumns,
		in.Category, in.PageName, in.URLPath, int(in.Level), in.ParentGroup, in.IsEnabled, in.DisplayOrder)
	res, err := scanResource(row)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Resource{}, fmt.Errorf("catalog: create resource: %w", shared.ErrDuplicate)
		}
		return Resource{}, fmt.Errorf("catalog: create resource: %w", err)
	}
	return res, nil
}

// SetEnabled flips the kill switch. Permission rows are left untouched.
func (r *Repository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE resources SET is_enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("catalog: set enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrResourceNotFound
	}
	return nil
}

func scanResource(row pgx.Row) (Resource, error) {
	var (
		res   Resource
		level int
	)
	err := row.Scan(&res.ID, &res.Category, &res.PageName, &res.URLPath, &level, &res.ParentGroup,
		&res.IsEnabled, &res.DisplayOrder, &res.CreatedAt, &res.UpdatedAt)
	res.Level = Level(level)
	return res, err
}

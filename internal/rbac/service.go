package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/menuguard/internal/catalog"
	"github.com/odyssey-erp/menuguard/internal/roles"
	"github.com/odyssey-erp/menuguard/internal/shared"
	"github.com/odyssey-erp/menuguard/internal/users"
)

// UserDirectory looks up identities.
type UserDirectory interface {
	Get(ctx context.Context, id int64) (users.Identity, error)
}

// RoleDirectory looks up role definitions.
type RoleDirectory interface {
	Get(ctx context.Context, id int64) (roles.Role, error)
	ListByCodes(ctx context.Context, codes []string) ([]roles.Role, error)
}

// Catalog looks up protected resources.
type Catalog interface {
	Get(ctx context.Context, id int64) (catalog.Resource, error)
	ListAll(ctx context.Context) ([]catalog.Resource, error)
	ListEnabled(ctx context.Context) ([]catalog.Resource, error)
}

// Matrix stores permission rows.
type Matrix interface {
	Upsert(ctx context.Context, roleID, resourceID int64, tier Tier) error
	Delete(ctx context.Context, roleID, resourceID int64) error
	TiersFor(ctx context.Context, roleIDs []int64, resourceID int64) (map[int64]Tier, error)
	TiersForRoles(ctx context.Context, roleIDs []int64) (map[int64]map[int64]Tier, error)
	ListByRole(ctx context.Context, roleID int64) ([]Grant, error)
}

// Service orchestrates permission resolution and grant editing.
type Service struct {
	users   UserDirectory
	roles   RoleDirectory
	catalog Catalog
	matrix  Matrix
	cache   *Cache
	logger  *slog.Logger
	builds  singleflight.Group
	// grants counts local grant edits so in-flight builds are not shared across them.
	grants  atomic.Int64
}

// NewService constructs a Service. cache may be nil.
func NewService(users UserDirectory, roles RoleDirectory, catalog Catalog, matrix Matrix, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, roles: roles, catalog: catalog, matrix: matrix, cache: cache, logger: logger}
}

// Resolve returns the effective tier of userID on resourceID.
func (s *Service) Resolve(ctx context.Context, userID, resourceID int64) (Tier, error) {
	d, err := s.Explain(ctx, userID, resourceID)
	if err != nil {
		return TierNone, err
	}
	return d.Tier, nil
}

// Explain resolves like Resolve and also reports how the tier was reached.
// It always reads the store, never the cache.
func (s *Service) Explain(ctx context.Context, userID, resourceID int64) (Decision, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.users.Get(gctx, userID)
		if err != nil {
			return err
		}
		snap.User = u
		return nil
	})
	g.Go(func() error {
		res, err := s.catalog.Get(gctx, resourceID)
		if err != nil {
			return err
		}
		snap.Resource = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return Decision{}, fmt.Errorf("rbac: explain user %d resource %d: %w", userID, resourceID, err)
	}
	if !snap.User.CanAct() {
		return Resolve(snap), nil
	}

	held, err := s.roles.ListByCodes(ctx, snap.User.AssignedRoles.Codes())
	if err != nil {
		return Decision{}, fmt.Errorf("rbac: roles of user %d: %w", userID, err)
	}
	snap.Roles = held
	snap.Grants, err = s.matrix.TiersFor(ctx, activeIDs(held), resourceID)
	if err != nil {
		return Decision{}, err
	}
	return Resolve(snap), nil
}

// ListEffective returns the effective tier for every catalog resource, disabled
// ones included as TierNone. Each value is computed by Resolve.
func (s *Service) ListEffective(ctx context.Context, userID int64) (map[int64]Tier, error) {
	return s.cache.Effective(ctx, userID, func(ctx context.Context, key string) (map[int64]Tier, error) {
		return s.buildEffectiveShared(ctx, userID, key)
	})
}

// buildEffectiveShared joins concurrent builds of the same cache generation.
// The shared build ignores the first caller's cancellation; each waiter
// still returns on its own ctx.
func (s *Service) buildEffectiveShared(ctx context.Context, userID int64, key string) (map[int64]Tier, error) {
	flight := key + "@" + strconv.FormatInt(s.grants.Load(), 10)
	buildCtx := context.WithoutCancel(ctx)
	resultChan := s.builds.DoChan(flight, func() (interface{}, error) {
		return s.buildEffective(buildCtx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyTiers(res.Val.(map[int64]Tier)), nil
	}
}

func (s *Service) buildEffective(ctx context.Context, userID int64) (map[int64]Tier, error) {
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: effective for user %d: %w", userID, err)
	}

	var (
		resources []catalog.Resource
		held      []roles.Role
		grants    map[int64]map[int64]Tier
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		resources, err = s.catalog.ListAll(gctx)
		return err
	})
	if u.CanAct() {
		g.Go(func() error {
			var err error
			held, err = s.roles.ListByCodes(gctx, u.AssignedRoles.Codes())
			if err != nil {
				return err
			}
			grants, err = s.matrix.TiersForRoles(gctx, activeIDs(held))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rbac: effective for user %d: %w", userID, err)
	}

	out := make(map[int64]Tier, len(resources))
	for _, res := range resources {
		out[res.ID] = Resolve(Snapshot{User: u, Roles: held, Resource: res, Grants: grants[res.ID]}).Tier
	}
	return out, nil
}

// VisibleMenu returns the navigation tree of resources the user may at least see.
func (s *Service) VisibleMenu(ctx context.Context, userID int64) ([]*catalog.Node, error) {
	effective, err := s.ListEffective(ctx, userID)
	if err != nil {
		return nil, err
	}
	enabled, err := s.catalog.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: visible menu: %w", err)
	}
	return catalog.BuildTree(enabled, func(r catalog.Resource) bool {
		return effective[r.ID].AtLeast(TierViewCategory)
	}), nil
}

// Grant sets the tier of roleID on resourceID. Repeating a grant leaves the matrix unchanged.
func (s *Service) Grant(ctx context.Context, roleID, resourceID int64, tier Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("rbac: grant: %w: %d", shared.ErrInvalidTier, int(tier))
	}
	if _, err := s.roles.Get(ctx, roleID); err != nil {
		return fmt.Errorf("rbac: grant: %w", err)
	}
	if _, err := s.catalog.Get(ctx, resourceID); err != nil {
		return fmt.Errorf("rbac: grant: %w", err)
	}
	if err := s.matrix.Upsert(ctx, roleID, resourceID, tier); err != nil {
		return err
	}
	s.logger.Info("grant upserted", slog.Int64("role_id", roleID), slog.Int64("resource_id", resourceID), slog.String("tier", tier.String()))
	s.bump(ctx)
	return nil
}

// Revoke deletes the row for (roleID, resourceID). Absent rows are a no-op.
func (s *Service) Revoke(ctx context.Context, roleID, resourceID int64) error {
	if err := s.matrix.Delete(ctx, roleID, resourceID); err != nil {
		return err
	}
	s.logger.Info("grant revoked", slog.Int64("role_id", roleID), slog.Int64("resource_id", resourceID))
	s.bump(ctx)
	return nil
}

// ListGrants returns the rows of one role.
func (s *Service) ListGrants(ctx context.Context, roleID int64) ([]Grant, error) {
	if _, err := s.roles.Get(ctx, roleID); err != nil {
		return nil, fmt.Errorf("rbac: list grants: %w", err)
	}
	return s.matrix.ListByRole(ctx, roleID)
}

func (s *Service) bump(ctx context.Context) {
	s.grants.Add(1)
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("rbac cache bump", slog.Any("error", err))
	}
}

func activeIDs(held []roles.Role) []int64 {
	ids := make([]int64, 0, len(held))
	for _, r := range roles.Active(held) {
		ids = append(ids, r.ID)
	}
	return ids
}

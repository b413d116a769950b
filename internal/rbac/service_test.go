package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/menuguard/internal/catalog"
	"github.com/odyssey-erp/menuguard/internal/observability"
	"github.com/odyssey-erp/menuguard/internal/roles"
	"github.com/odyssey-erp/menuguard/internal/shared"
	"github.com/odyssey-erp/menuguard/internal/users"
)

type fakeUsers map[int64]users.Identity

func (f fakeUsers) Get(_ context.Context, id int64) (users.Identity, error) {
	u, ok := f[id]
	if !ok {
		return users.Identity{}, shared.ErrUserNotFound
	}
	return u, nil
}

type fakeRoles []roles.Role

func (f fakeRoles) Get(_ context.Context, id int64) (roles.Role, error) {
	for _, r := range f {
		if r.ID == id {
			return r, nil
		}
	}
	return roles.Role{}, shared.ErrRoleNotFound
}

func (f fakeRoles) ListByCodes(_ context.Context, codes []string) ([]roles.Role, error) {
	var out []roles.Role
	for _, r := range f {
		for _, c := range codes {
			if r.Code == c {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type fakeCatalog []catalog.Resource

func (f fakeCatalog) Get(_ context.Context, id int64) (catalog.Resource, error) {
	for _, r := range f {
		if r.ID == id {
			return r, nil
		}
	}
	return catalog.Resource{}, shared.ErrResourceNotFound
}

func (f fakeCatalog) ListAll(context.Context) ([]catalog.Resource, error) {
	return append([]catalog.Resource(nil), f...), nil
}

func (f fakeCatalog) ListEnabled(context.Context) ([]catalog.Resource, error) {
	var out []catalog.Resource
	for _, r := range f {
		if r.IsEnabled {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeMatrix struct {
	mu        sync.Mutex
	rows      map[[2]int64]Tier
	bulkReads int
	upsertErr error
}

func newFakeMatrix() *fakeMatrix {
	return &fakeMatrix{rows: make(map[[2]int64]Tier)}
}

func (m *fakeMatrix) Upsert(_ context.Context, roleID, resourceID int64, tier Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.rows[[2]int64{roleID, resourceID}] = tier
	return nil
}

func (m *fakeMatrix) Delete(_ context.Context, roleID, resourceID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, [2]int64{roleID, resourceID})
	return nil
}

func (m *fakeMatrix) TiersFor(_ context.Context, roleIDs []int64, resourceID int64) (map[int64]Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]Tier)
	for _, id := range roleIDs {
		if t, ok := m.rows[[2]int64{id, resourceID}]; ok {
			out[id] = t
		}
	}
	return out, nil
}

func (m *fakeMatrix) TiersForRoles(_ context.Context, roleIDs []int64) (map[int64]map[int64]Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkReads++
	out := make(map[int64]map[int64]Tier)
	for key, t := range m.rows {
		for _, id := range roleIDs {
			if key[0] != id {
				continue
			}
			if out[key[1]] == nil {
				out[key[1]] = make(map[int64]Tier)
			}
			out[key[1]][id] = t
		}
	}
	return out, nil
}

func (m *fakeMatrix) ListByRole(_ context.Context, roleID int64) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Grant
	for key, t := range m.rows {
		if key[0] == roleID {
			out = append(out, Grant{RoleID: roleID, ResourceID: key[1], Tier: t})
		}
	}
	return out, nil
}

// gatedMatrix holds the first bulk read, after it has taken its snapshot,
// until release is called.
type gatedMatrix struct {
	*fakeMatrix
	first   sync.Once
	entered chan struct{}
	gate    chan struct{}
	opened  sync.Once
}

func newGatedMatrix(t *testing.T) *gatedMatrix {
	m := &gatedMatrix{fakeMatrix: newFakeMatrix(), entered: make(chan struct{}), gate: make(chan struct{})}
	t.Cleanup(m.release)
	return m
}

func (m *gatedMatrix) TiersForRoles(ctx context.Context, roleIDs []int64) (map[int64]map[int64]Tier, error) {
	out, err := m.fakeMatrix.TiersForRoles(ctx, roleIDs)
	held := false
	m.first.Do(func() { held = true })
	if held {
		close(m.entered)
		<-m.gate
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return out, err
}

func (m *gatedMatrix) release() {
	m.opened.Do(func() { close(m.gate) })
}

func (m *fakeMatrix) reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bulkReads
}

func fixtureCatalog() fakeCatalog {
	return fakeCatalog{
		{ID: 10, Category: "HR", PageName: "HR", Level: catalog.LevelCategory, IsEnabled: true},
		{ID: 42, Category: "HR", PageName: "Evaluations", URLPath: "/hr/evaluations", Level: catalog.LevelPage, IsEnabled: true},
		{ID: 43, Category: "HR", PageName: "Payroll", URLPath: "/hr/payroll", Level: catalog.LevelPage, IsEnabled: true},
		{ID: 50, Category: "Legacy", PageName: "Legacy", Level: catalog.LevelCategory, IsEnabled: false},
	}
}

func newTestService(t *testing.T, cache *Cache) (*Service, *fakeMatrix) {
	t.Helper()
	matrix := newFakeMatrix()
	people := fakeUsers{
		7: activeUser("STAFF", "HR"),
		8: {ID: 8, Status: users.StatusInactive, IsActive: false, AssignedRoles: users.NewRoleSet("ADMIN")},
	}
	svc := NewService(people, fakeRoles{roleStaff, roleHR, roleAdmin}, fixtureCatalog(), matrix, cache, nil)
	return svc, matrix
}

func TestServiceExplainAndResolve(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.Grant(ctx, roleStaff.ID, 42, TierReadData))
	require.NoError(t, svc.Grant(ctx, roleHR.ID, 42, TierEditOthers))

	tier, err := svc.Resolve(ctx, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, TierEditOthers, tier)

	d, err := svc.Explain(ctx, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, []string{"HR"}, d.MatchedRoles)

	tier, err = svc.Resolve(ctx, 7, 43)
	require.NoError(t, err)
	assert.Equal(t, TierNone, tier)

	tier, err = svc.Resolve(ctx, 8, 42)
	require.NoError(t, err)
	assert.Equal(t, TierNone, tier)

	_, err = svc.Resolve(ctx, 99, 42)
	assert.True(t, errors.Is(err, shared.ErrUserNotFound))
	_, err = svc.Resolve(ctx, 7, 999)
	assert.True(t, errors.Is(err, shared.ErrResourceNotFound))
}

func TestServiceGrantValidation(t *testing.T) {
	svc, matrix := newTestService(t, nil)
	ctx := context.Background()

	assert.True(t, errors.Is(svc.Grant(ctx, roleStaff.ID, 42, Tier(17)), shared.ErrInvalidTier))
	assert.True(t, errors.Is(svc.Grant(ctx, 404, 42, TierReadData), shared.ErrRoleNotFound))
	assert.True(t, errors.Is(svc.Grant(ctx, roleStaff.ID, 404, TierReadData), shared.ErrResourceNotFound))
	assert.Empty(t, matrix.rows)

	matrix.upsertErr = shared.ErrConflictingGrant
	assert.True(t, errors.Is(svc.Grant(ctx, roleStaff.ID, 42, TierReadData), shared.ErrConflictingGrant))
}

func TestServiceGrantIsIdempotentAndRevokeRemovesRow(t *testing.T) {
	svc, matrix := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.Grant(ctx, roleStaff.ID, 42, TierManageOwn))
	require.NoError(t, svc.Grant(ctx, roleStaff.ID, 42, TierManageOwn))
	grants, err := svc.ListGrants(ctx, roleStaff.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, TierManageOwn, grants[0].Tier)

	require.NoError(t, svc.Revoke(ctx, roleStaff.ID, 42))
	require.NoError(t, svc.Revoke(ctx, roleStaff.ID, 42))
	assert.Empty(t, matrix.rows)

	_, err = svc.ListGrants(ctx, 404)
	assert.True(t, errors.Is(err, shared.ErrRoleNotFound))
}

func TestListEffectiveMatchesResolve(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.Grant(ctx, roleStaff.ID, 10, TierViewCategory))
	require.NoError(t, svc.Grant(ctx, roleHR.ID, 42, TierFull))
	require.NoError(t, svc.Grant(ctx, roleHR.ID, 50, TierFull))

	effective, err := svc.ListEffective(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, effective, len(fixtureCatalog()))
	for _, res := range fixtureCatalog() {
		tier, err := svc.Resolve(ctx, 7, res.ID)
		require.NoError(t, err)
		assert.Equal(t, tier, effective[res.ID], "resource %d", res.ID)
	}
	assert.Equal(t, TierNone, effective[50])
}

func TestVisibleMenuHidesUnreachableResources(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.Grant(ctx, roleStaff.ID, 10, TierViewCategory))
	require.NoError(t, svc.Grant(ctx, roleHR.ID, 42, TierReadData))

	tree, err := svc.VisibleMenu(ctx, 7)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, int64(10), tree[0].Resource.ID)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, int64(42), tree[0].Children[0].Resource.ID)

	tree, err = svc.VisibleMenu(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestListEffectiveUsesCacheUntilGrantChanges(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	metrics := observability.NewMetrics()
	cache := NewCache(client, CacheConfig{LocalSize: 16}, metrics, nil)

	svc, matrix := newTestService(t, cache)
	ctx := context.Background()
	require.NoError(t, svc.Grant(ctx, roleStaff.ID, 42, TierReadData))

	first, err := svc.ListEffective(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, TierReadData, first[42])
	second, err := svc.ListEffective(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, matrix.reads())

	second[42] = TierFull
	third, err := svc.ListEffective(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, TierReadData, third[42])

	require.NoError(t, svc.Grant(ctx, roleStaff.ID, 42, TierEditOthers))
	after, err := svc.ListEffective(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, TierEditOthers, after[42])
	assert.Equal(t, 2, matrix.reads())
}

func TestCacheSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, CacheConfig{}, nil, nil)
	mr.Close()

	calls := 0
	m, err := cache.Effective(context.Background(), 7, func(context.Context, string) (map[int64]Tier, error) {
		calls++
		return map[int64]Tier{42: TierFull}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, TierFull, m[42])
	assert.Equal(t, 1, calls)
}

func TestCacheVersionBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, CacheConfig{}, nil, nil)
	ctx := context.Background()

	v1, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)
	require.NoError(t, cache.Bump(ctx))
	v2, err := cache.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1+1, v2)
}

func TestListEffectiveDoesNotShareBuildAcrossRevoke(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, CacheConfig{LocalSize: 16}, nil, nil)
	matrix := newGatedMatrix(t)
	svc := NewService(fakeUsers{7: activeUser("STAFF")}, fakeRoles{roleStaff, roleHR, roleAdmin}, fixtureCatalog(), matrix, cache, nil)
	ctx := context.Background()
	require.NoError(t, svc.Grant(ctx, roleStaff.ID, 42, TierReadData))

	before := make(chan map[int64]Tier, 1)
	go func() {
		m, _ := svc.ListEffective(ctx, 7)
		before <- m
	}()
	<-matrix.entered
	require.NoError(t, svc.Revoke(ctx, roleStaff.ID, 42))

	fresh := make(chan map[int64]Tier, 1)
	go func() {
		m, _ := svc.ListEffective(ctx, 7)
		fresh <- m
	}()
	select {
	case m := <-fresh:
		assert.Equal(t, TierNone, m[42])
	case <-time.After(2 * time.Second):
		t.Fatal("ListEffective waited on a build started before the revoke")
	}

	matrix.release()
	assert.Equal(t, TierReadData, (<-before)[42])

	mr.FastForward(9 * time.Minute)
	again, err := svc.ListEffective(ctx, 7)
	require.NoError(t, err)
	tier, err := svc.Resolve(ctx, 7, 42)
	require.NoError(t, err)
	assert.Equal(t, TierNone, tier)
	assert.Equal(t, tier, again[42])
}

func TestListEffectiveSharedBuildOutlivesCanceledCaller(t *testing.T) {
	matrix := newGatedMatrix(t)
	svc := NewService(fakeUsers{7: activeUser("STAFF")}, fakeRoles{roleStaff, roleHR, roleAdmin}, fixtureCatalog(), matrix, nil, nil)
	require.NoError(t, svc.Grant(context.Background(), roleStaff.ID, 42, TierReadData))

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := svc.ListEffective(ctx, 7)
		first <- err
	}()
	<-matrix.entered
	cancel()
	assert.True(t, errors.Is(<-first, context.Canceled))

	second := make(chan error, 1)
	var got map[int64]Tier
	go func() {
		m, err := svc.ListEffective(context.Background(), 7)
		got = m
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)
	matrix.release()
	require.NoError(t, <-second)
	assert.Equal(t, TierReadData, got[42])
	assert.Equal(t, 1, matrix.reads())
}

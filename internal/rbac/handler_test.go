package rbac

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/menuguard/internal/shared"
)

type staticResolver struct {
	tier Tier
	err  error
}

func (s staticResolver) Resolve(context.Context, int64, int64) (Tier, error) {
	return s.tier, s.err
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func withActor(req *http.Request, userID int64) *http.Request {
	return req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: userID}))
}

func TestRequireTier(t *testing.T) {
	cases := []struct {
		name     string
		resolver staticResolver
		actor    int64
		status   int
	}{
		{name: "sufficient", resolver: staticResolver{tier: TierEditOthers}, actor: 7, status: http.StatusOK},
		{name: "insufficient", resolver: staticResolver{tier: TierReadData}, actor: 7, status: http.StatusForbidden},
		{name: "no actor", resolver: staticResolver{tier: TierFull}, status: http.StatusForbidden},
		{name: "unknown user", resolver: staticResolver{err: shared.ErrUserNotFound}, actor: 7, status: http.StatusForbidden},
		{name: "unknown resource", resolver: staticResolver{err: shared.ErrResourceNotFound}, actor: 7, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mw := Middleware{Resolver: tc.resolver}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.actor > 0 {
				req = withActor(req, tc.actor)
			}
			rr := httptest.NewRecorder()
			mw.RequireTier(42, TierEditOthers)(okHandler()).ServeHTTP(rr, req)
			assert.Equal(t, tc.status, rr.Code)
			if tc.status == http.StatusForbidden {
				assert.Contains(t, rr.Body.String(), `"detail":"denied"`)
			}
		})
	}
}

func newTestRouter(t *testing.T, guardTier Tier) (*chi.Mux, *Service) {
	t.Helper()
	svc, _ := newTestService(t, nil)
	h := NewHandler(nil, svc, Middleware{Resolver: staticResolver{tier: guardTier}}, nil, 0)
	router := chi.NewRouter()
	router.Route("/authz", h.MountRoutes)
	return router, svc
}

func TestHandlerGrantRequiresFull(t *testing.T) {
	router, svc := newTestRouter(t, TierEditOthers)
	req := withActor(httptest.NewRequest(http.MethodPut, "/authz/roles/1/grants/42", strings.NewReader(`{"tier":"READ_DATA"}`)), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	grants, err := svc.ListGrants(context.Background(), roleStaff.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestHandlerGrantAndEffective(t *testing.T) {
	router, _ := newTestRouter(t, TierFull)

	req := withActor(httptest.NewRequest(http.MethodPut, "/authz/roles/1/grants/42", strings.NewReader(`{"tier":"read_data"}`)), 7)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	req = withActor(httptest.NewRequest(http.MethodPut, "/authz/roles/1/grants/42", strings.NewReader(`{"tier":"GOD"}`)), 7)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withActor(httptest.NewRequest(http.MethodGet, "/authz/me/effective", nil), 7))
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Tiers map[string]string `json:"tiers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "READ_DATA", body.Tiers["42"])
	assert.Equal(t, "NONE", body.Tiers["43"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withActor(httptest.NewRequest(http.MethodGet, "/authz/users/7/resources/42/explain", nil), 7))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"reason":"granted"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, withActor(httptest.NewRequest(http.MethodDelete, "/authz/roles/1/grants/42", nil), 7))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHandlerMenuRequiresActor(t *testing.T) {
	router, _ := newTestRouter(t, TierFull)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/authz/me/menu", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

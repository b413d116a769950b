package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/menuguard/internal/rbac"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

type fixedOwners map[string]int64

func (f fixedOwners) OwnerOf(_ context.Context, _ int64, recordID string) (int64, error) {
	owner, ok := f[recordID]
	if !ok {
		return 0, shared.ErrRecordNotFound
	}
	return owner, nil
}

func newGateRouter(h *harness, owners fixedOwners) http.Handler {
	handler := NewHandler(nil, h.gate, owners, 0)
	router := chi.NewRouter()
	router.Route("/resources/{resourceID}/records", handler.MountRoutes)
	return router
}

func actorRequest(method, target, body string, actor int64) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: actor, Team: "HR"}))
}

func TestHandlerOwnershipComesFromStore(t *testing.T) {
	h := newHarness(rbac.TierManageOwn)
	router := newGateRouter(h, fixedOwners{"ev-1": 9})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, actorRequest(http.MethodPatch, "/resources/42/records/ev-1", `{"status":"완료"}`, 7))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), `"detail":"denied"`)
	assert.Empty(t, h.ledger.entries)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, actorRequest(http.MethodPatch, "/resources/42/records/ev-1", `{"status":"완료"}`, 9))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, h.ledger.entries, 1)
	assert.Equal(t, "HR", h.ledger.entries[0].ActorTeam)
}

func TestHandlerCreateAndRead(t *testing.T) {
	h := newHarness(rbac.TierManageOwn)
	router := newGateRouter(h, fixedOwners{})

	req := actorRequest(http.MethodPost, "/resources/42/records/", `{"id":"ev-2","status":"대기"}`, 7)
	req.Header.Set("Idempotency-Key", "k-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"record_id":"ev-2"`)

	req = actorRequest(http.MethodPost, "/resources/42/records/", `{"id":"ev-2","status":"대기"}`, 7)
	req.Header.Set("Idempotency-Key", "k-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, actorRequest(http.MethodGet, "/resources/42/records/ev-2", "", 7))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, actorRequest(http.MethodGet, "/resources/42/records/missing", "", 7))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerRequiresActor(t *testing.T) {
	h := newHarness(rbac.TierFull)
	router := newGateRouter(h, fixedOwners{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/resources/42/records/ev-1", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

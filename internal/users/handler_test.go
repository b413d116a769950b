package users

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsersRouter(repo *stubRepo, admin func(http.Handler) http.Handler) http.Handler {
	h := NewHandler(nil, NewService(repo, knownRoles{"HR_STAFF"}, &countingInvalidator{}, nil), admin)
	r := chi.NewRouter()
	r.Route("/users", h.MountRoutes)
	return r
}

func TestHandlerCreateAndGet(t *testing.T) {
	repo := &stubRepo{users: map[int64]Identity{}}
	router := newUsersRouter(repo, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/users/", strings.NewReader(`{"account_id":"park","status":"active","roles":["hr_staff"]}`)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), `"assigned_roles":["HR_STAFF"]`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/users/", strings.NewReader(`{"account_id":"choi","roles":["ghost"]}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Len(t, repo.users, 1)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/1", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/9", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerSetStatus(t *testing.T) {
	repo := &stubRepo{users: map[int64]Identity{1: {ID: 1, Status: StatusActive, IsActive: true}}}
	router := newUsersRouter(repo, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/users/1/status", strings.NewReader(`{"status":"inactive"}`)))
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.False(t, repo.users[1].CanAct())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/users/1/status", strings.NewReader(`{"status":"frozen"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/users/abc/status", strings.NewReader(`{"status":"active"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerAdminGuard(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) })
	}
	router := newUsersRouter(&stubRepo{users: map[int64]Identity{}}, deny)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/users/", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/menuguard/internal/shared"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("gate: %w", shared.ErrPermissionDenied), http.StatusForbidden},
		{fmt.Errorf("rbac: %w", shared.ErrResourceNotFound), http.StatusNotFound},
		{shared.ErrInvalidTier, http.StatusBadRequest},
		{shared.ErrSystemProtected, http.StatusUnprocessableEntity},
		{shared.ErrAlreadyApplied, http.StatusConflict},
		{shared.ErrConflictingGrant, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: disk", shared.ErrAuditWriteFailed), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		assert.Equal(t, tc.status, rr.Code, tc.err.Error())
	}
}

func TestRespondErrorHidesDenialDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("required EDIT_OTHERS held READ_DATA: %w", shared.ErrPermissionDenied))

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "denied", body.Detail)
	assert.NotContains(t, rr.Body.String(), "EDIT_OTHERS")
}

type grantBody struct {
	RoleID int64  `json:"role_id" validate:"required,gt=0"`
	Tier   string `json:"tier" validate:"required"`
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"role_id":3,"tier":"FULL"}`))
	var body grantBody
	require.NoError(t, DecodeAndValidate(req, &body))
	assert.Equal(t, int64(3), body.RoleID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tier":"FULL"}`))
	err := DecodeAndValidate(req, &grantBody{})
	assert.ErrorIs(t, err, shared.ErrValidation)
	assert.ErrorContains(t, err, "RoleID")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.ErrorIs(t, DecodeAndValidate(req, &grantBody{}), shared.ErrValidation)
}

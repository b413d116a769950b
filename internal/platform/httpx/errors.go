// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/menuguard/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Authorization failures only ever say "denied"; callers log the detail.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrPermissionDenied):
		Problem(w, http.StatusForbidden, "Forbidden", "denied")
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrInvalidTier), errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrSystemProtected):
		Problem(w, http.StatusUnprocessableEntity, "System Protected", err.Error())
	case errors.Is(err, shared.ErrAlreadyApplied):
		Problem(w, http.StatusConflict, "Already Applied", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrConflictingGrant), errors.Is(err, shared.ErrAuditWriteFailed):
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusServiceUnavailable, "Retry", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

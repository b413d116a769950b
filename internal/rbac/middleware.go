package rbac

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/menuguard/internal/platform/httpx"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Resolver answers tier questions for HTTP guards.
type Resolver interface {
	Resolve(ctx context.Context, userID, resourceID int64) (Tier, error)
}

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver Resolver
	Logger   *slog.Logger
}

// RequireTier ensures the current actor holds at least min on a fixed resource.
func (m Middleware) RequireTier(resourceID int64, min Tier) func(http.Handler) http.Handler {
	return m.require(func(*http.Request) (int64, error) { return resourceID, nil }, min)
}

// RequireTierParam is RequireTier with the resource id taken from a chi URL parameter.
func (m Middleware) RequireTierParam(param string, min Tier) func(http.Handler) http.Handler {
	return m.require(func(r *http.Request) (int64, error) {
		id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, param)
		}
		return id, nil
	}, min)
}

func (m Middleware) require(resource func(*http.Request) (int64, error), min Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrPermissionDenied)
				return
			}
			resourceID, err := resource(r)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			tier, err := m.Resolver.Resolve(r.Context(), actor.UserID, resourceID)
			if err != nil {
				// An unknown caller is a denial, not a missing resource.
				if errors.Is(err, shared.ErrUserNotFound) {
					err = shared.ErrPermissionDenied
				}
				m.log("rbac require tier", actor.UserID, resourceID, err)
				httpx.RespondError(w, err)
				return
			}
			if !tier.AtLeast(min) {
				m.log("rbac denied", actor.UserID, resourceID, nil)
				httpx.RespondError(w, shared.ErrPermissionDenied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) log(msg string, userID, resourceID int64, err error) {
	if m.Logger == nil {
		return
	}
	attrs := []any{slog.Int64("user_id", userID), slog.Int64("resource_id", resourceID)}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	m.Logger.Warn(msg, attrs...)
}

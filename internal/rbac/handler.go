package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/menuguard/internal/platform/httpx"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Handler exposes resolution and grant editing over JSON.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	guard      Middleware
	admin      func(http.Handler) http.Handler
	grantLimit int
}

// NewHandler builds a Handler. admin guards inspection of other users and
// roles; grant edits additionally require FULL on the target resource and
// are limited to grantLimit requests per minute per caller.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware, admin func(http.Handler) http.Handler, grantLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if admin == nil {
		admin = func(next http.Handler) http.Handler { return next }
	}
	if grantLimit <= 0 {
		grantLimit = 60
	}
	return &Handler{logger: logger, service: service, guard: guard, admin: admin, grantLimit: grantLimit}
}

// MountRoutes registers /authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me/menu", h.myMenu)
	r.Get("/me/effective", h.myEffective)

	r.Group(func(r chi.Router) {
		r.Use(h.admin)
		r.Get("/users/{userID}/effective", h.userEffective)
		r.Get("/users/{userID}/resources/{resourceID}", h.resolve)
		r.Get("/users/{userID}/resources/{resourceID}/explain", h.explain)
		r.Get("/roles/{roleID}/grants", h.listGrants)
	})

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(h.grantLimit, time.Minute, httprate.WithKeyFuncs(actorKey)))
		r.Use(h.guard.RequireTierParam("resourceID", TierFull))
		r.Put("/roles/{roleID}/grants/{resourceID}", h.grant)
		r.Delete("/roles/{roleID}/grants/{resourceID}", h.revoke)
	})
}

func actorKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(actor.UserID, 10), nil
	}
	return httprate.KeyByIP(r)
}

func (h *Handler) myMenu(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	tree, err := h.service.VisibleMenu(r.Context(), actor.UserID)
	if err != nil {
		h.fail(w, "visible menu", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"menu": tree})
}

func (h *Handler) myEffective(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	h.writeEffective(w, r, actor.UserID)
}

func (h *Handler) userEffective(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.writeEffective(w, r, userID)
}

func (h *Handler) writeEffective(w http.ResponseWriter, r *http.Request, userID int64) {
	tiers, err := h.service.ListEffective(r.Context(), userID)
	if err != nil {
		h.fail(w, "list effective", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "tiers": tiers})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	userID, resourceID, err := userAndResource(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	tier, err := h.service.Resolve(r.Context(), userID, resourceID)
	if err != nil {
		h.fail(w, "resolve tier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "resource_id": resourceID, "tier": tier})
}

func (h *Handler) explain(w http.ResponseWriter, r *http.Request) {
	userID, resourceID, err := userAndResource(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.service.Explain(r.Context(), userID, resourceID)
	if err != nil {
		h.fail(w, "explain tier", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) listGrants(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	grants, err := h.service.ListGrants(r.Context(), roleID)
	if err != nil {
		h.fail(w, "list grants", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"grants": grants})
}

type grantRequest struct {
	Tier string `json:"tier" validate:"required"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resourceID, err := pathID(r, "resourceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body grantRequest
	if err := httpx.DecodeAndValidate(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	tier, err := ParseTier(body.Tier)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Grant(r.Context(), roleID, resourceID, tier); err != nil {
		h.fail(w, "grant", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resourceID, err := pathID(r, "resourceID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Revoke(r.Context(), roleID, resourceID); err != nil {
		h.fail(w, "revoke", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func userAndResource(r *http.Request) (int64, int64, error) {
	userID, err := pathID(r, "userID")
	if err != nil {
		return 0, 0, err
	}
	resourceID, err := pathID(r, "resourceID")
	if err != nil {
		return 0, 0, err
	}
	return userID, resourceID, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}

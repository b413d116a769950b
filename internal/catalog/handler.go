package catalog

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/menuguard/internal/platform/httpx"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Handler exposes catalog administration over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	admin   func(http.Handler) http.Handler
}

// NewHandler builds a Handler. admin guards every mutating route.
func NewHandler(logger *slog.Logger, service *Service, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if admin == nil {
		admin = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{logger: logger, service: service, admin: admin}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listEnabled)
	r.Group(func(r chi.Router) {
		r.Use(h.admin)
		r.Get("/all", h.listAll)
		r.Post("/", h.create)
		r.Put("/{id}/enabled", h.setEnabled)
	})
	r.Get("/{id}", h.get)
}

func (h *Handler) listEnabled(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListEnabled(r.Context())
	if err != nil {
		h.fail(w, "list enabled resources", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resources": items})
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListAll(r.Context())
	if err != nil {
		h.fail(w, "list resources", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"resources": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get resource", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in NewResource
	if err := httpx.DecodeAndValidate(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create resource", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) setEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body enabledRequest
	if err := httpx.DecodeAndValidate(r, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.SetEnabled(r.Context(), id, *body.Enabled); err != nil {
		h.fail(w, "set resource enabled", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}

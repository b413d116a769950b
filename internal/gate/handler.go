package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/menuguard/internal/platform/httpx"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// OwnerLookup tells the handler who owns a record so ownership is never taken from the client.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, resourceID int64, recordID string) (int64, error)
}

// Handler exposes gated record operations over JSON.
type Handler struct {
	logger *slog.Logger
	gate   *Gate
	owners OwnerLookup
	limit  int
}

// NewHandler builds a Handler. limit caps mutations per actor per minute.
func NewHandler(logger *slog.Logger, gate *Gate, owners OwnerLookup, limit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = 120
	}
	return &Handler{logger: logger, gate: gate, owners: owners, limit: limit}
}

// MountRoutes registers /resources/{resourceID}/records routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{recordID}", h.perform(OpRead))
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(h.limit, time.Minute, httprate.WithKeyFuncs(actorKey)))
		r.Post("/", h.perform(OpCreate))
		r.Patch("/{recordID}", h.perform(OpUpdate))
		r.Delete("/{recordID}", h.perform(OpDelete))
	})
}

func actorKey(r *http.Request) (string, error) {
	if actor, ok := shared.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(actor.UserID, 10), nil
	}
	return httprate.KeyByIP(r)
}

func (h *Handler) perform(op Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := shared.ActorFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, shared.ErrPermissionDenied)
			return
		}
		resourceID, err := strconv.ParseInt(chi.URLParam(r, "resourceID"), 10, 64)
		if err != nil || resourceID <= 0 {
			httpx.RespondError(w, fmt.Errorf("%w: invalid resourceID", shared.ErrValidation))
			return
		}
		req := Request{
			ActorID:        actor.UserID,
			ActorTeam:      actor.Team,
			ResourceID:     resourceID,
			RecordID:       chi.URLParam(r, "recordID"),
			Operation:      op,
			ChangeLocation: strings.TrimSpace(r.Header.Get("X-Change-Location")),
			IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		}
		if op == OpCreate || op == OpUpdate {
			if err := httpx.DecodeJSON(r, &req.Payload); err != nil {
				httpx.RespondError(w, err)
				return
			}
			if op == OpCreate {
				if id, ok := req.Payload["id"].(string); ok {
					req.RecordID = id
					delete(req.Payload, "id")
				}
			}
		}
		if op == OpUpdate || op == OpDelete {
			owner, err := h.owners.OwnerOf(r.Context(), resourceID, req.RecordID)
			if err != nil && !errors.Is(err, shared.ErrRecordNotFound) {
				h.fail(w, "lookup record owner", err)
				return
			}
			req.IsOwner = err == nil && owner == actor.UserID
		}

		res, err := h.gate.Perform(r.Context(), req)
		if err != nil {
			h.fail(w, "perform", err)
			return
		}
		status := http.StatusOK
		if op == OpCreate {
			status = http.StatusCreated
		}
		httpx.JSON(w, status, res)
	}
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	var denied *DeniedError
	if errors.As(err, &denied) {
		h.logger.Warn(msg, slog.String("detail", denied.Detail()))
	} else {
		h.logger.Error(msg, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

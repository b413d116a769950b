package audithttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/menuguard/internal/audit"
	"github.com/odyssey-erp/menuguard/internal/platform/httpx"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

const (
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 90
)

// TimelineService defines the business contract for audit queries.
type TimelineService interface {
	History(ctx context.Context, resourceTag, recordID string, page shared.Page) (audit.Result, error)
	ByActor(ctx context.Context, filter audit.ActorFilter, page shared.Page) (audit.Result, error)
	Export(ctx context.Context, filter audit.ActorFilter) ([]audit.Entry, error)
}

// Handler menangani permintaan audit timeline.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	guard   func(http.Handler) http.Handler
	now     func() time.Time
}

// NewHandler membuat handler audit baru. guard melindungi semua route.
func NewHandler(logger *slog.Logger, service TimelineService, guard func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		logger:  logger,
		service: service,
		guard:   guard,
		now:     time.Now,
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	result, err := h.service.History(r.Context(), q.Get("resource"), q.Get("record"), page)
	if err != nil {
		h.handleError(w, "load audit history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleActorTimeline(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.ByActor(r.Context(), filter, page)
	if err != nil {
		h.handleError(w, "load audit timeline", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := h.parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Export(r.Context(), filter)
	if err != nil {
		h.handleError(w, "export audit timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(entries)
	if err != nil {
		h.handleError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"audit-actor-%d.csv\"", filter.ActorID))
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilter(r *http.Request) (audit.ActorFilter, error) {
	actorID, err := strconv.ParseInt(chi.URLParam(r, "actorID"), 10, 64)
	if err != nil || actorID <= 0 {
		return audit.ActorFilter{}, fmt.Errorf("%w: invalid actor", shared.ErrValidation)
	}
	now := h.now().UTC()
	toStr := strings.TrimSpace(r.URL.Query().Get("to"))
	if toStr == "" {
		toStr = now.Format("2006-01-02")
	}
	toTime, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return audit.ActorFilter{}, fmt.Errorf("%w: invalid to", shared.ErrValidation)
	}
	fromStr := strings.TrimSpace(r.URL.Query().Get("from"))
	if fromStr == "" {
		fromStr = toTime.Add(-defaultDateRange).Format("2006-01-02")
	}
	fromTime, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return audit.ActorFilter{}, fmt.Errorf("%w: invalid from", shared.ErrValidation)
	}
	if fromTime.After(toTime) || toTime.Sub(fromTime) > maxDateRangeHours*time.Hour {
		return audit.ActorFilter{}, fmt.Errorf("%w: invalid range", shared.ErrValidation)
	}
	// to is inclusive of the whole day.
	return audit.ActorFilter{ActorID: actorID, From: fromTime, To: toTime.Add(24 * time.Hour)}, nil
}

func parsePage(r *http.Request) (shared.Page, error) {
	number, size := 1, 0
	if v := strings.TrimSpace(r.URL.Query().Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return shared.Page{}, fmt.Errorf("%w: invalid page", shared.ErrValidation)
		}
		number = parsed
	}
	if v := strings.TrimSpace(r.URL.Query().Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return shared.Page{}, fmt.Errorf("%w: invalid page_size", shared.ErrValidation)
		}
		size = parsed
	}
	return shared.NewPage(number, size), nil
}

func (h *Handler) handleError(w http.ResponseWriter, message string, err error) {
	if h.logger != nil {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

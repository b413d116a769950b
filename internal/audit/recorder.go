package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/menuguard/internal/observability"
	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Appender menyimpan satu entri audit melalui querier milik pemanggil.
type Appender interface {
	Append(ctx context.Context, q db.Querier, e Entry) (int64, error)
}

// Recorder mengubah mutasi menjadi entri audit per field.
type Recorder struct {
	store    Appender
	validate *validator.Validate
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecorder membuat recorder. metrics boleh nil.
func NewRecorder(store Appender, metrics *observability.Metrics, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, validate: validator.New(), metrics: metrics, logger: logger, now: time.Now}
}

// Record menulis satu entri untuk setiap field yang berubah melalui q, yang
// harus berupa transaksi mutasi itu sendiri. Semua entri berbagi created_at dan
// tx_marker. Mutasi tanpa perubahan tidak menghasilkan entri.
func (r *Recorder) Record(ctx context.Context, q db.Querier, m Mutation) ([]Entry, error) {
	if err := r.validate.Struct(m); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", shared.ErrAuditWriteFailed, shared.ErrValidation, err)
	}
	changes, err := Diff(m.Fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAuditWriteFailed, err)
	}
	if len(changes) == 0 {
		return nil, nil
	}

	marker := m.TxMarker
	if marker == uuid.Nil {
		marker = uuid.New()
	}
	at := r.now().UTC()
	entries := make([]Entry, 0, len(changes))
	for _, c := range changes {
		e := Entry{
			ResourceTag:    m.ResourceTag,
			RecordID:       m.RecordID,
			ChangedField:   c.Field,
			Before:         c.Before,
			After:          c.After,
			ActorID:        m.ActorID,
			ActorTeam:      m.ActorTeam,
			ChangeLocation: m.ChangeLocation,
			Description:    Describe(m.ChangeLocation, c),
			AuthorizedTier: m.AuthorizedTier,
			TxMarker:       marker,
			CreatedAt:      at,
		}
		id, err := r.store.Append(ctx, q, e)
		if err != nil {
			r.logger.Error("audit append", slog.String("resource", m.ResourceTag), slog.String("record_id", m.RecordID),
				slog.String("field", c.Field), slog.Any("error", err))
			return nil, fmt.Errorf("%w: %w", shared.ErrAuditWriteFailed, err)
		}
		e.ID = id
		entries = append(entries, e)
	}
	r.metrics.ObserveAuditEntries(m.ResourceTag, len(entries))
	return entries, nil
}

// Describe menyusun deskripsi yang bisa dibaca manusia untuk satu perubahan.
func Describe(location string, c Change) string {
	return fmt.Sprintf("%s: %s changed from %s to %s", location, c.Field, quoteValue(c.Before), quoteValue(c.After))
}

func quoteValue(v *string) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%q", *v)
}

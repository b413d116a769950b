package audit

import (
	"time"

	"github.com/google/uuid"
)

// Entry mewakili satu baris audit_entries: satu field yang berubah pada satu mutasi.
type Entry struct {
	ID             int64     `json:"id"`
	ResourceTag    string    `json:"resource_tag"`
	RecordID       string    `json:"record_id"`
	ChangedField   string    `json:"changed_field"`
	Before         *string   `json:"before_value"`
	After          *string   `json:"after_value"`
	ActorID        int64     `json:"actor_id"`
	ActorTeam      string    `json:"actor_team,omitempty"`
	ChangeLocation string    `json:"change_location"`
	Description    string    `json:"description"`
	AuthorizedTier string    `json:"authorized_tier,omitempty"`
	TxMarker       uuid.UUID `json:"tx_marker"`
	CreatedAt      time.Time `json:"created_at"`
}

// Field adalah nilai sebelum dan sesudah untuk satu nama field.
type Field struct {
	Name   string `validate:"required"`
	Before any
	After  any
}

// Mutation adalah masukan untuk Recorder.Record.
type Mutation struct {
	ActorID        int64  `validate:"required,gt=0"`
	ActorTeam      string `validate:"max=100"`
	ResourceTag    string `validate:"required,max=255"`
	RecordID       string `validate:"required,max=255"`
	ChangeLocation string `validate:"required,max=255"`
	AuthorizedTier string
	// TxMarker dibuat otomatis bila kosong.
	TxMarker uuid.UUID
	Fields   []Field `validate:"dive"`
}

// FieldsFromMaps menyusun daftar Field dari snapshot sebelum/sesudah sebuah record.
// Kunci yang hanya ada di salah satu sisi dianggap nil di sisi lainnya.
func FieldsFromMaps(before, after map[string]any) []Field {
	names := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		names[k] = struct{}{}
	}
	for k := range after {
		names[k] = struct{}{}
	}
	fields := make([]Field, 0, len(names))
	for name := range names {
		fields = append(fields, Field{Name: name, Before: before[name], After: after[name]})
	}
	sortFields(fields)
	return fields
}

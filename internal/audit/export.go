package audit

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"time"
)

var csvHeader = []string{
	"id", "created_at", "actor_id", "actor_team", "resource_tag", "record_id", "changed_field",
	"before_value", "after_value", "authorized_tier", "change_location", "tx_marker", "description",
}

// WriteCSV mengekspor entri audit ke CSV. Nilai null ditulis sebagai sel kosong.
func WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.ActorID, 10),
			e.ActorTeam,
			e.ResourceTag,
			e.RecordID,
			e.ChangedField,
			valueOrEmpty(e.Before),
			valueOrEmpty(e.After),
			e.AuthorizedTier,
			e.ChangeLocation,
			e.TxMarker.String(),
			e.Description,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func valueOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

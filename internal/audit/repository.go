package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/menuguard/internal/platform/db"
)

// ActorFilter membatasi timeline per aktor dan rentang waktu. Waktu nol berarti tanpa batas.
type ActorFilter struct {
	ActorID int64
	From    time.Time
	To      time.Time
}

// Repository membaca dan menulis audit_entries. Tabel ini append-only.
type Repository struct {
	db db.Querier
}

// NewRepository membuat repository audit.
func NewRepository(q db.Querier) *Repository {
	return &Repository{db: q}
}

const entryColumns = `id, resource_tag, record_id, changed_field, before_value, after_value, actor_id, actor_team,
change_location, description, authorized_tier, tx_marker, created_at`

// Append menulis satu entri melalui q (biasanya transaksi pemanggil) dan mengembalikan id baru.
func (r *Repository) Append(ctx context.Context, q db.Querier, e Entry) (int64, error) {
	if q == nil {
		q = r.db
	}
	var id int64
	err := q.QueryRow(ctx, `INSERT INTO audit_entries (resource_tag, record_id, changed_field, before_value, after_value,
actor_id, actor_team, change_location, description, authorized_tier, tx_marker, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`,
		e.ResourceTag, e.RecordID, e.ChangedField, e.Before, e.After,
		e.ActorID, e.ActorTeam, e.ChangeLocation, e.Description, e.AuthorizedTier, e.TxMarker, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit: append entry: %w", err)
	}
	return id, nil
}

// History mengembalikan entri untuk satu record, terbaru dulu.
func (r *Repository) History(ctx context.Context, resourceTag, recordID string, limit, offset int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+`
FROM audit_entries
WHERE resource_tag = $1 AND record_id = $2
ORDER BY id DESC
LIMIT $3 OFFSET $4`, resourceTag, recordID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: history: %w", err)
	}
	return collectEntries(rows)
}

// ByActor mengembalikan entri seorang aktor dalam rentang waktu. limit <= 0 berarti semua.
func (r *Repository) ByActor(ctx context.Context, filter ActorFilter, limit, offset int) ([]Entry, error) {
	var limitArg pgtype.Int8
	if limit > 0 {
		limitArg = pgtype.Int8{Int64: int64(limit), Valid: true}
	}
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+`
FROM audit_entries
WHERE actor_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at < $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`, filter.ActorID, toPgTime(filter.From), toPgTime(filter.To), limitArg, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: by actor: %w", err)
	}
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e    Entry
			team pgtype.Text
			tier pgtype.Text
		)
		if err := rows.Scan(&e.ID, &e.ResourceTag, &e.RecordID, &e.ChangedField, &e.Before, &e.After,
			&e.ActorID, &team, &e.ChangeLocation, &e.Description, &tier, &e.TxMarker, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.ActorTeam = team.String
		e.AuthorizedTier = tier.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

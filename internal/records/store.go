// Package records is the default record store behind the mutation gate: schemaless
// JSON documents keyed by (resource, record).
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/menuguard/internal/gate"
	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// ownerField is maintained by the store and cannot be overwritten through a payload.
const ownerField = "owner_id"

// Record is one stored document.
type Record struct {
	ResourceID int64          `json:"resource_id"`
	RecordID   string         `json:"record_id"`
	OwnerID    int64          `json:"owner_id"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Store persists records in the records table.
type Store struct {
	db db.Querier
}

// NewStore constructs a Store. q is used for lookups outside the gate.
func NewStore(q db.Querier) *Store {
	return &Store{db: q}
}

// OwnerOf returns the creator of a record.
func (s *Store) OwnerOf(ctx context.Context, resourceID int64, recordID string) (int64, error) {
	var owner int64
	err := s.db.QueryRow(ctx, `SELECT owner_id FROM records WHERE resource_id = $1 AND record_id = $2`, resourceID, recordID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, shared.ErrRecordNotFound
		}
		return 0, fmt.Errorf("records: owner of %d/%s: %w", resourceID, recordID, err)
	}
	return owner, nil
}

// Apply executes req through q, the gate's transaction.
func (s *Store) Apply(ctx context.Context, q db.Querier, req gate.ApplyRequest) (gate.ApplyResult, error) {
	if q == nil {
		q = s.db
	}
	switch req.Operation {
	case gate.OpRead:
		rec, err := load(ctx, q, req.ResourceID, req.RecordID, false)
		if err != nil {
			return gate.ApplyResult{}, err
		}
		return gate.ApplyResult{RecordID: rec.RecordID, Result: rec}, nil
	case gate.OpCreate:
		return create(ctx, q, req)
	case gate.OpUpdate:
		return update(ctx, q, req)
	case gate.OpDelete:
		return remove(ctx, q, req)
	}
	return gate.ApplyResult{}, fmt.Errorf("%w: unsupported operation %s", shared.ErrValidation, req.Operation)
}

func create(ctx context.Context, q db.Querier, req gate.ApplyRequest) (gate.ApplyResult, error) {
	id := req.RecordID
	if id == "" {
		id = uuid.NewString()
	}
	data := payloadData(req.Payload)
	raw, err := json.Marshal(data)
	if err != nil {
		return gate.ApplyResult{}, fmt.Errorf("%w: encode payload: %v", shared.ErrValidation, err)
	}
	rec := Record{ResourceID: req.ResourceID, RecordID: id, OwnerID: req.ActorID, Data: data}
	err = q.QueryRow(ctx, `INSERT INTO records (resource_id, record_id, owner_id, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
RETURNING created_at, updated_at`, req.ResourceID, id, req.ActorID, raw).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return gate.ApplyResult{}, fmt.Errorf("records: create %s: %w", id, shared.ErrDuplicate)
		}
		return gate.ApplyResult{}, fmt.Errorf("records: create %s: %w", id, err)
	}
	after := copyData(data)
	after[ownerField] = req.ActorID
	return gate.ApplyResult{RecordID: id, Result: rec, After: after}, nil
}

func update(ctx context.Context, q db.Querier, req gate.ApplyRequest) (gate.ApplyResult, error) {
	rec, err := load(ctx, q, req.ResourceID, req.RecordID, true)
	if err != nil {
		return gate.ApplyResult{}, err
	}
	changes := payloadData(req.Payload)
	before := make(map[string]any, len(changes))
	next := copyData(rec.Data)
	for k, v := range changes {
		before[k] = rec.Data[k]
		next[k] = v
	}
	// Only touched keys are written; untouched fields keep their stored bytes.
	raw, err := json.Marshal(changes)
	if err != nil {
		return gate.ApplyResult{}, fmt.Errorf("%w: encode payload: %v", shared.ErrValidation, err)
	}
	err = q.QueryRow(ctx, `UPDATE records SET data = data || $3::jsonb, updated_at = NOW()
WHERE resource_id = $1 AND record_id = $2
RETURNING updated_at`, req.ResourceID, req.RecordID, raw).Scan(&rec.UpdatedAt)
	if err != nil {
		return gate.ApplyResult{}, fmt.Errorf("records: update %s: %w", req.RecordID, err)
	}
	rec.Data = next
	return gate.ApplyResult{RecordID: rec.RecordID, Result: rec, Before: before, After: changes}, nil
}

func remove(ctx context.Context, q db.Querier, req gate.ApplyRequest) (gate.ApplyResult, error) {
	rec, err := load(ctx, q, req.ResourceID, req.RecordID, true)
	if err != nil {
		return gate.ApplyResult{}, err
	}
	if _, err := q.Exec(ctx, `DELETE FROM records WHERE resource_id = $1 AND record_id = $2`, req.ResourceID, req.RecordID); err != nil {
		return gate.ApplyResult{}, fmt.Errorf("records: delete %s: %w", req.RecordID, err)
	}
	before := copyData(rec.Data)
	before[ownerField] = rec.OwnerID
	return gate.ApplyResult{RecordID: rec.RecordID, Before: before}, nil
}

func load(ctx context.Context, q db.Querier, resourceID int64, recordID string, forUpdate bool) (Record, error) {
	sql := `SELECT resource_id, record_id, owner_id, data, created_at, updated_at FROM records WHERE resource_id = $1 AND record_id = $2`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var (
		rec Record
		raw []byte
	)
	err := q.QueryRow(ctx, sql, resourceID, recordID).Scan(&rec.ResourceID, &rec.RecordID, &rec.OwnerID, &raw, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("records: %d/%s: %w", resourceID, recordID, shared.ErrRecordNotFound)
		}
		return Record{}, fmt.Errorf("records: load %d/%s: %w", resourceID, recordID, err)
	}
	rec.Data = map[string]any{}
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&rec.Data); err != nil {
			return Record{}, fmt.Errorf("records: decode %d/%s: %w", resourceID, recordID, err)
		}
	}
	return rec, nil
}

func payloadData(payload map[string]any) map[string]any {
	out := copyData(payload)
	delete(out, ownerField)
	return out
}

func copyData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

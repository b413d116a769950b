package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/odyssey-erp/menuguard/internal/audit"
	"github.com/odyssey-erp/menuguard/internal/observability"
	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/rbac"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Explainer resolves the actor's tier together with the resource it applies to.
type Explainer interface {
	Explain(ctx context.Context, userID, resourceID int64) (rbac.Decision, error)
}

// RecordStore owns business records. Apply runs inside the gate's transaction.
type RecordStore interface {
	Apply(ctx context.Context, q db.Querier, req ApplyRequest) (ApplyResult, error)
}

// AuditRecorder writes field-level entries through the same transaction.
type AuditRecorder interface {
	Record(ctx context.Context, q db.Querier, m audit.Mutation) ([]audit.Entry, error)
}

// TxRunner opens the single commit boundary shared by mutation and audit.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, db.Querier) error) error
}

// KeyClaimer records idempotency keys inside the transaction.
type KeyClaimer interface {
	Claim(ctx context.Context, q shared.Execer, key, scope string) error
}

// Request is one gated record operation.
type Request struct {
	ActorID        int64
	ActorTeam      string
	ResourceID     int64
	RecordID       string
	Operation      Operation
	IsOwner        bool
	Payload        map[string]any
	ChangeLocation string
	IdempotencyKey string
}

// ApplyRequest is what the record store receives once authorization passed.
type ApplyRequest struct {
	ResourceID  int64
	ResourceTag string
	RecordID    string
	Operation   Operation
	ActorID     int64
	Payload     map[string]any
}

// ApplyResult is the record store's answer. Before and After hold the field
// values the operation touched; RecordID is set when the store assigned one.
type ApplyResult struct {
	RecordID string
	Result   any
	Before   map[string]any
	After    map[string]any
}

// Result is returned to the gate's caller.
type Result struct {
	RecordID string        `json:"record_id"`
	Result   any           `json:"result,omitempty"`
	Tier     rbac.Tier     `json:"authorized_tier"`
	Entries  []audit.Entry `json:"audit_entries,omitempty"`
}

// Gate authorizes, applies and audits record operations as one unit.
type Gate struct {
	explainer Explainer
	store     RecordStore
	recorder  AuditRecorder
	tx        TxRunner
	keys      KeyClaimer
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// New constructs a Gate. keys and metrics may be nil.
func New(explainer Explainer, store RecordStore, recorder AuditRecorder, tx TxRunner, keys KeyClaimer, metrics *observability.Metrics, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{explainer: explainer, store: store, recorder: recorder, tx: tx, keys: keys, metrics: metrics, logger: logger}
}

// Perform checks the actor's tier against the operation and, when allowed,
// applies it and records one audit entry per changed field before commit.
// A denial has no side effects.
func (g *Gate) Perform(ctx context.Context, req Request) (Result, error) {
	req, err := normalize(req)
	if err != nil {
		return Result{}, err
	}
	required, err := RequiredTier(req.Operation, req.IsOwner)
	if err != nil {
		return Result{}, err
	}

	decision, err := g.explainer.Explain(ctx, req.ActorID, req.ResourceID)
	if err != nil {
		if errors.Is(err, shared.ErrUserNotFound) {
			return Result{}, g.deny(req, required, rbac.Decision{Reason: rbac.ReasonAccountInactive})
		}
		g.metrics.ObserveDecision(string(req.Operation), "error")
		return Result{}, fmt.Errorf("gate: resolve: %w", err)
	}
	if !decision.Tier.AtLeast(required) {
		return Result{}, g.deny(req, required, decision)
	}

	location := strings.TrimSpace(req.ChangeLocation)
	if location == "" {
		location = decision.Resource.PageName
	}

	var out Result
	err = g.tx.WithTx(ctx, func(ctx context.Context, q db.Querier) error {
		if req.IdempotencyKey != "" && req.Operation.Mutates() && g.keys != nil {
			scope := "gate:" + strconv.FormatInt(req.ResourceID, 10) + ":" + req.RecordID
			if err := g.keys.Claim(ctx, q, req.IdempotencyKey, scope); err != nil {
				return err
			}
		}
		applied, err := g.store.Apply(ctx, q, ApplyRequest{
			ResourceID:  req.ResourceID,
			ResourceTag: decision.Resource.Tag(),
			RecordID:    req.RecordID,
			Operation:   req.Operation,
			ActorID:     req.ActorID,
			Payload:     req.Payload,
		})
		if err != nil {
			return err
		}
		out = Result{RecordID: req.RecordID, Result: applied.Result, Tier: decision.Tier}
		if applied.RecordID != "" {
			out.RecordID = applied.RecordID
		}
		if !req.Operation.Mutates() {
			return nil
		}
		entries, err := g.recorder.Record(ctx, q, audit.Mutation{
			ActorID:        req.ActorID,
			ActorTeam:      req.ActorTeam,
			ResourceTag:    decision.Resource.Tag(),
			RecordID:       out.RecordID,
			ChangeLocation: location,
			AuthorizedTier: decision.Tier.String(),
			Fields:         audit.FieldsFromMaps(applied.Before, applied.After),
		})
		if err != nil {
			return err
		}
		out.Entries = entries
		return nil
	})
	if err != nil {
		g.metrics.ObserveDecision(string(req.Operation), "error")
		g.logger.Error("gate perform", slog.Int64("actor_id", req.ActorID), slog.Int64("resource_id", req.ResourceID),
			slog.String("record_id", req.RecordID), slog.String("operation", string(req.Operation)), slog.Any("error", err))
		return Result{}, err
	}
	g.metrics.ObserveDecision(string(req.Operation), "allowed")
	return out, nil
}

func (g *Gate) deny(req Request, required rbac.Tier, d rbac.Decision) error {
	denied := &DeniedError{
		ActorID:    req.ActorID,
		ResourceID: req.ResourceID,
		RecordID:   req.RecordID,
		Operation:  req.Operation,
		Required:   required,
		Effective:  d.Tier,
		Reason:     d.Reason,
	}
	g.metrics.ObserveDecision(string(req.Operation), "denied")
	g.logger.Warn("gate denied", slog.String("detail", denied.Detail()))
	return denied
}

func normalize(req Request) (Request, error) {
	if req.ActorID <= 0 {
		return req, fmt.Errorf("gate: %w", shared.ErrPermissionDenied)
	}
	if req.ResourceID <= 0 {
		return req, fmt.Errorf("%w: resource is required", shared.ErrValidation)
	}
	op, err := ParseOperation(string(req.Operation))
	if err != nil {
		return req, err
	}
	req.Operation = op
	req.RecordID = strings.TrimSpace(req.RecordID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if op != OpCreate && req.RecordID == "" {
		return req, fmt.Errorf("%w: record is required", shared.ErrValidation)
	}
	return req, nil
}

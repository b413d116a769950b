package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/menuguard/internal/audit"
	"github.com/odyssey-erp/menuguard/internal/catalog"
	"github.com/odyssey-erp/menuguard/internal/observability"
	"github.com/odyssey-erp/menuguard/internal/platform/db"
	"github.com/odyssey-erp/menuguard/internal/rbac"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// ledger is a tiny transactional store: writes are staged per transaction and
// only become visible on commit.
type ledger struct {
	records map[string]map[string]any
	entries []audit.Entry
	keys    map[string]bool

	staged        map[string]map[string]any
	stagedDeletes map[string]bool
	stagedEntries []audit.Entry
	stagedKeys    map[string]bool
}

func newLedger() *ledger {
	return &ledger{records: make(map[string]map[string]any), keys: make(map[string]bool)}
}

func (l *ledger) WithTx(ctx context.Context, fn func(context.Context, db.Querier) error) error {
	l.staged = make(map[string]map[string]any)
	l.stagedDeletes = make(map[string]bool)
	l.stagedEntries = nil
	l.stagedKeys = make(map[string]bool)
	if err := fn(ctx, nil); err != nil {
		return err
	}
	for id, rec := range l.staged {
		l.records[id] = rec
	}
	for id := range l.stagedDeletes {
		delete(l.records, id)
	}
	l.entries = append(l.entries, l.stagedEntries...)
	for k := range l.stagedKeys {
		l.keys[k] = true
	}
	return nil
}

type fakeStore struct {
	l        *ledger
	err      error
	calls    int
	assignID string
}

func (s *fakeStore) Apply(_ context.Context, _ db.Querier, req ApplyRequest) (ApplyResult, error) {
	s.calls++
	if s.err != nil {
		return ApplyResult{}, s.err
	}
	switch req.Operation {
	case OpRead:
		rec, ok := s.l.records[req.RecordID]
		if !ok {
			return ApplyResult{}, shared.ErrRecordNotFound
		}
		return ApplyResult{Result: rec}, nil
	case OpCreate:
		id := req.RecordID
		if id == "" {
			id = s.assignID
		}
		s.l.staged[id] = req.Payload
		return ApplyResult{RecordID: id, Result: req.Payload, After: req.Payload}, nil
	case OpUpdate:
		rec, ok := s.l.records[req.RecordID]
		if !ok {
			return ApplyResult{}, shared.ErrRecordNotFound
		}
		before := make(map[string]any)
		next := make(map[string]any)
		for k, v := range rec {
			next[k] = v
		}
		for k, v := range req.Payload {
			before[k] = rec[k]
			next[k] = v
		}
		s.l.staged[req.RecordID] = next
		return ApplyResult{Result: next, Before: before, After: req.Payload}, nil
	case OpDelete:
		rec, ok := s.l.records[req.RecordID]
		if !ok {
			return ApplyResult{}, shared.ErrRecordNotFound
		}
		s.l.stagedDeletes[req.RecordID] = true
		return ApplyResult{Before: rec}, nil
	}
	return ApplyResult{}, errors.New("unexpected operation")
}

type stagingAppender struct {
	l   *ledger
	err error
}

func (a *stagingAppender) Append(_ context.Context, _ db.Querier, e audit.Entry) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.l.stagedEntries = append(a.l.stagedEntries, e)
	return int64(len(a.l.entries) + len(a.l.stagedEntries)), nil
}

type stagingKeys struct{ l *ledger }

func (k stagingKeys) Claim(_ context.Context, _ shared.Execer, key, scope string) error {
	if k.l.keys[key] || k.l.stagedKeys[key] {
		return shared.ErrAlreadyApplied
	}
	k.l.stagedKeys[key] = true
	return nil
}

type fixedExplainer struct {
	tier rbac.Tier
	err  error
}

func (f fixedExplainer) Explain(_ context.Context, userID, resourceID int64) (rbac.Decision, error) {
	if f.err != nil {
		return rbac.Decision{}, f.err
	}
	reason := rbac.ReasonGranted
	if f.tier == rbac.TierNone {
		reason = rbac.ReasonNoGrant
	}
	return rbac.Decision{
		UserID:     userID,
		ResourceID: resourceID,
		Tier:       f.tier,
		Granted:    f.tier,
		Reason:     reason,
		Resource:   catalog.Resource{ID: resourceID, PageName: "Evaluations", URLPath: "/hr/evaluations", IsEnabled: true},
	}, nil
}

type harness struct {
	gate     *Gate
	ledger   *ledger
	store    *fakeStore
	appender *stagingAppender
}

func newHarness(tier rbac.Tier) *harness {
	l := newLedger()
	l.records["ev-1"] = map[string]any{"status": "대기", "team": "HR", "owner": float64(9)}
	store := &fakeStore{l: l, assignID: "ev-new"}
	appender := &stagingAppender{l: l}
	recorder := audit.NewRecorder(appender, nil, nil)
	g := New(fixedExplainer{tier: tier}, store, recorder, l, stagingKeys{l: l}, observability.NewMetrics(), nil)
	return &harness{gate: g, ledger: l, store: store, appender: appender}
}

func updateRequest(owner bool) Request {
	return Request{
		ActorID:    7,
		ActorTeam:  "HR",
		ResourceID: 42,
		RecordID:   "ev-1",
		Operation:  OpUpdate,
		IsOwner:    owner,
		Payload:    map[string]any{"status": "완료", "team": "HR"},
	}
}

func TestRequiredTier(t *testing.T) {
	cases := []struct {
		op    Operation
		owner bool
		want  rbac.Tier
	}{
		{OpRead, false, rbac.TierReadData},
		{OpRead, true, rbac.TierReadData},
		{OpCreate, false, rbac.TierManageOwn},
		{OpUpdate, true, rbac.TierManageOwn},
		{OpUpdate, false, rbac.TierEditOthers},
		{OpDelete, true, rbac.TierManageOwn},
		{OpDelete, false, rbac.TierEditOthers},
	}
	for _, tc := range cases {
		got, err := RequiredTier(tc.op, tc.owner)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s owner=%v", tc.op, tc.owner)
	}
	_, err := RequiredTier(Operation("PATCH"), false)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestUpdateWritesOneEntryPerChangedField(t *testing.T) {
	h := newHarness(rbac.TierEditOthers)
	res, err := h.gate.Perform(context.Background(), updateRequest(false))
	require.NoError(t, err)

	require.Len(t, h.ledger.entries, 1)
	e := h.ledger.entries[0]
	assert.Equal(t, "status", e.ChangedField)
	assert.Equal(t, "대기", *e.Before)
	assert.Equal(t, "완료", *e.After)
	assert.Equal(t, "/hr/evaluations", e.ResourceTag)
	assert.Equal(t, "Evaluations", e.ChangeLocation)
	assert.Equal(t, "EDIT_OTHERS", e.AuthorizedTier)
	assert.Equal(t, "완료", h.ledger.records["ev-1"]["status"])
	assert.Equal(t, rbac.TierEditOthers, res.Tier)
	assert.Len(t, res.Entries, 1)
}

func TestNonOwnerWithoutEditOthersIsDenied(t *testing.T) {
	h := newHarness(rbac.TierManageOwn)
	_, err := h.gate.Perform(context.Background(), updateRequest(false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrPermissionDenied))
	assert.Equal(t, "gate: permission denied", err.Error())

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, rbac.TierEditOthers, denied.Required)
	assert.Equal(t, rbac.TierManageOwn, denied.Effective)

	assert.Zero(t, h.store.calls)
	assert.Empty(t, h.ledger.entries)
	assert.Equal(t, "대기", h.ledger.records["ev-1"]["status"])
}

func TestOwnerWithManageOwnMayUpdate(t *testing.T) {
	h := newHarness(rbac.TierManageOwn)
	_, err := h.gate.Perform(context.Background(), updateRequest(true))
	require.NoError(t, err)
	assert.Len(t, h.ledger.entries, 1)
}

func TestReadNeverAudits(t *testing.T) {
	h := newHarness(rbac.TierReadData)
	res, err := h.gate.Perform(context.Background(), Request{ActorID: 7, ResourceID: 42, RecordID: "ev-1", Operation: "read"})
	require.NoError(t, err)
	assert.NotNil(t, res.Result)
	assert.Empty(t, h.ledger.entries)

	h = newHarness(rbac.TierViewCategory)
	_, err = h.gate.Perform(context.Background(), Request{ActorID: 7, ResourceID: 42, RecordID: "ev-1", Operation: OpRead})
	assert.True(t, errors.Is(err, shared.ErrPermissionDenied))
}

func TestApplyFailureWritesNoAudit(t *testing.T) {
	h := newHarness(rbac.TierFull)
	h.store.err = errors.New("constraint violated")
	_, err := h.gate.Perform(context.Background(), updateRequest(false))
	require.Error(t, err)
	assert.Empty(t, h.ledger.entries)
	assert.Equal(t, "대기", h.ledger.records["ev-1"]["status"])
}

func TestAuditFailureRollsBackMutation(t *testing.T) {
	h := newHarness(rbac.TierFull)
	h.appender.err = errors.New("audit table unavailable")
	_, err := h.gate.Perform(context.Background(), updateRequest(false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrAuditWriteFailed))
	assert.Empty(t, h.ledger.entries)
	assert.Equal(t, "대기", h.ledger.records["ev-1"]["status"])
}

func TestCreateAndDeleteAuditEveryField(t *testing.T) {
	h := newHarness(rbac.TierEditOthers)
	res, err := h.gate.Perform(context.Background(), Request{
		ActorID: 7, ResourceID: 42, Operation: OpCreate,
		Payload: map[string]any{"status": "대기", "score": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "ev-new", res.RecordID)
	require.Len(t, h.ledger.entries, 2)
	for _, e := range h.ledger.entries {
		assert.Nil(t, e.Before)
		assert.Equal(t, "ev-new", e.RecordID)
	}
	assert.Equal(t, h.ledger.entries[0].TxMarker, h.ledger.entries[1].TxMarker)

	_, err = h.gate.Perform(context.Background(), Request{ActorID: 7, ResourceID: 42, RecordID: "ev-1", Operation: OpDelete})
	require.NoError(t, err)
	assert.Len(t, h.ledger.entries, 5)
	_, ok := h.ledger.records["ev-1"]
	assert.False(t, ok)
}

func TestIdempotencyKeyAppliesOnce(t *testing.T) {
	h := newHarness(rbac.TierEditOthers)
	req := updateRequest(false)
	req.IdempotencyKey = "req-123"

	_, err := h.gate.Perform(context.Background(), req)
	require.NoError(t, err)
	_, err = h.gate.Perform(context.Background(), req)
	assert.True(t, errors.Is(err, shared.ErrAlreadyApplied))
	assert.Len(t, h.ledger.entries, 1)
	assert.Equal(t, 1, h.store.calls)
}

func TestUnknownActorIsDeniedAndMissingResourceIsNotFound(t *testing.T) {
	h := newHarness(rbac.TierFull)
	h.gate.explainer = fixedExplainer{err: shared.ErrUserNotFound}
	_, err := h.gate.Perform(context.Background(), updateRequest(false))
	assert.True(t, errors.Is(err, shared.ErrPermissionDenied))

	h.gate.explainer = fixedExplainer{err: shared.ErrResourceNotFound}
	_, err = h.gate.Perform(context.Background(), updateRequest(false))
	assert.True(t, errors.Is(err, shared.ErrNotFound))
	assert.Zero(t, h.store.calls)
}

func TestPerformValidatesRequest(t *testing.T) {
	h := newHarness(rbac.TierFull)
	_, err := h.gate.Perform(context.Background(), Request{ResourceID: 42, RecordID: "ev-1", Operation: OpRead})
	assert.True(t, errors.Is(err, shared.ErrPermissionDenied))
	_, err = h.gate.Perform(context.Background(), Request{ActorID: 7, ResourceID: 42, Operation: OpUpdate})
	assert.True(t, errors.Is(err, shared.ErrValidation))
	_, err = h.gate.Perform(context.Background(), Request{ActorID: 7, ResourceID: 42, RecordID: "x", Operation: "MERGE"})
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

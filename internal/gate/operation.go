package gate

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/menuguard/internal/rbac"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Operation is a record-level action passed through the gate.
type Operation string

const (
	OpRead   Operation = "READ"
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ParseOperation validates s.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToUpper(strings.TrimSpace(s))); op {
	case OpRead, OpCreate, OpUpdate, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("%w: unknown operation %q", shared.ErrValidation, s)
}

// Mutates reports whether op changes state and therefore writes audit entries.
func (op Operation) Mutates() bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// RequiredTier returns the minimum tier for op. Owners can update and delete
// their own records with MANAGE_OWN.
func RequiredTier(op Operation, isOwner bool) (rbac.Tier, error) {
	switch op {
	case OpRead:
		return rbac.TierReadData, nil
	case OpCreate:
		return rbac.TierManageOwn, nil
	case OpUpdate, OpDelete:
		if isOwner {
			return rbac.TierManageOwn, nil
		}
		return rbac.TierEditOthers, nil
	}
	return rbac.TierNone, fmt.Errorf("%w: unknown operation %q", shared.ErrValidation, string(op))
}

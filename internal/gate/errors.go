package gate

import (
	"fmt"

	"github.com/odyssey-erp/menuguard/internal/rbac"
	"github.com/odyssey-erp/menuguard/internal/shared"
)

// DeniedError carries the full denial detail for logs and operator tooling.
// Error() only ever reports "permission denied".
type DeniedError struct {
	ActorID    int64
	ResourceID int64
	RecordID   string
	Operation  Operation
	Required   rbac.Tier
	Effective  rbac.Tier
	Reason     rbac.Reason
}

func (e *DeniedError) Error() string {
	return "gate: permission denied"
}

// Is matches shared.ErrPermissionDenied.
func (e *DeniedError) Is(target error) bool {
	return target == shared.ErrPermissionDenied
}

func (e *DeniedError) Unwrap() error {
	return shared.ErrPermissionDenied
}

// Detail renders the denial for operators.
func (e *DeniedError) Detail() string {
	return fmt.Sprintf("actor %d %s resource %d record %q: requires %s, has %s (%s)",
		e.ActorID, e.Operation, e.ResourceID, e.RecordID, e.Required, e.Effective, e.Reason)
}

package users

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Status is the account lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusPending  Status = "pending"
)

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusActive, StatusInactive, StatusPending:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", shared.ErrValidation, s)
}

// Identity is a user as seen by the authorization engine.
// AssignedRoles is authoritative; the legacy single role column is never read.
type Identity struct {
	ID            int64     `json:"id"`
	AccountID     string    `json:"account_id"`
	Name          string    `json:"name"`
	Team          string    `json:"team"`
	Status        Status    `json:"status"`
	IsActive      bool      `json:"is_active"`
	AssignedRoles RoleSet   `json:"assigned_roles"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CanAct reports whether the account state allows any access at all.
func (u Identity) CanAct() bool {
	return u.IsActive && u.Status == StatusActive
}

// NewIdentity is the input for Create.
type NewIdentity struct {
	AccountID string   `json:"account_id" validate:"required,max=100"`
	Name      string   `json:"name" validate:"max=200"`
	Team      string   `json:"team" validate:"max=100"`
	Status    Status   `json:"status" validate:"omitempty,oneof=active inactive pending"`
	Roles     []string `json:"roles"`
}

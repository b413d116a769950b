package rbac

import (
	"github.com/odyssey-erp/menuguard/internal/catalog"
	"github.com/odyssey-erp/menuguard/internal/roles"
	"github.com/odyssey-erp/menuguard/internal/users"
)

// Reason explains how a Decision was reached.
type Reason string

const (
	ReasonGranted          Reason = "granted"
	ReasonAccountInactive  Reason = "account_inactive"
	ReasonNoActiveRoles    Reason = "no_active_roles"
	ReasonNoGrant          Reason = "no_grant"
	ReasonResourceDisabled Reason = "resource_disabled"
)

// Snapshot is everything resolution depends on.
type Snapshot struct {
	User     users.Identity
	Roles    []roles.Role
	Resource catalog.Resource
	// Grants maps role id to its tier on Resource. A missing entry means TierNone.
	Grants map[int64]Tier
}

// Decision is the outcome of resolving one user against one resource.
type Decision struct {
	UserID     int64 `json:"user_id"`
	ResourceID int64 `json:"resource_id"`
	// Tier is the effective tier, forced to TierNone for disabled resources.
	Tier Tier `json:"tier"`
	// Granted is the aggregated grant before the resource kill switch.
	Granted      Tier     `json:"granted"`
	MatchedRoles []string `json:"matched_roles,omitempty"`
	Reason       Reason   `json:"reason"`

	Resource catalog.Resource `json:"-"`
	Actor    users.Identity   `json:"-"`
}

// Resolve computes the effective tier from snap. It is a pure function.
//
// Account state is checked first, then only the user's active roles are
// aggregated by maximum, and finally a disabled resource forces TierNone
// without touching the grants that produced the aggregate.
func Resolve(snap Snapshot) Decision {
	d := Decision{
		UserID:     snap.User.ID,
		ResourceID: snap.Resource.ID,
		Resource:   snap.Resource,
		Actor:      snap.User,
	}
	if !snap.User.CanAct() {
		d.Reason = ReasonAccountInactive
		return d
	}

	active := activeHeld(snap.User, snap.Roles)
	if len(active) == 0 {
		d.Reason = ReasonNoActiveRoles
		return d
	}

	granted := TierNone
	for _, r := range active {
		if t := snap.Grants[r.ID]; t.Valid() && t > granted {
			granted = t
		}
	}
	d.Granted = granted
	if granted == TierNone {
		d.Reason = ReasonNoGrant
		return d
	}
	for _, r := range active {
		if snap.Grants[r.ID] == granted {
			d.MatchedRoles = append(d.MatchedRoles, r.Code)
		}
	}

	if !snap.Resource.IsEnabled {
		d.Reason = ReasonResourceDisabled
		return d
	}
	d.Tier = granted
	d.Reason = ReasonGranted
	return d
}

func activeHeld(u users.Identity, candidates []roles.Role) []roles.Role {
	out := make([]roles.Role, 0, len(candidates))
	for _, r := range candidates {
		if r.IsActive && u.AssignedRoles.Contains(r.Code) {
			out = append(out, r)
		}
	}
	return out
}

package rbac

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/menuguard/internal/shared"
)

// Tier is one rung of the capability ladder. Higher values imply the lower ones.
type Tier int

const (
	// TierNone is the default for any (role, resource) pair without a row.
	TierNone Tier = iota
	// TierViewCategory shows the resource in navigation only.
	TierViewCategory
	// TierReadData allows fetching and viewing records.
	TierReadData
	// TierManageOwn allows create/update/delete of records the actor owns.
	TierManageOwn
	// TierEditOthers allows create/update/delete of any record.
	TierEditOthers
	// TierFull adds administrative sub-operations such as editing the resource's grants.
	TierFull
)

var tierNames = [...]string{
	TierNone:         "NONE",
	TierViewCategory: "VIEW_CATEGORY",
	TierReadData:     "READ_DATA",
	TierManageOwn:    "MANAGE_OWN",
	TierEditOthers:   "EDIT_OTHERS",
	TierFull:         "FULL",
}

// Tiers lists the ladder lowest first.
func Tiers() []Tier {
	return []Tier{TierNone, TierViewCategory, TierReadData, TierManageOwn, TierEditOthers, TierFull}
}

// ParseTier maps a tier name to its value. Unknown names fail with shared.ErrInvalidTier.
func ParseTier(s string) (Tier, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for t, n := range tierNames {
		if n == name {
			return Tier(t), nil
		}
	}
	return TierNone, fmt.Errorf("%w: %q", shared.ErrInvalidTier, s)
}

// Valid reports whether t is on the ladder.
func (t Tier) Valid() bool {
	return t >= TierNone && t <= TierFull
}

// String returns the ladder name.
func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tier(%d)", int(t))
	}
	return tierNames[t]
}

// AtLeast reports whether t satisfies required.
func (t Tier) AtLeast(required Tier) bool {
	return t >= required
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", shared.ErrInvalidTier, int(t))
	}
	return []byte(tierNames[t]), nil
}

// UnmarshalText rejects names off the ladder.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MaxTier returns the highest of tiers, TierNone when empty.
func MaxTier(tiers ...Tier) Tier {
	best := TierNone
	for _, t := range tiers {
		if t > best {
			best = t
		}
	}
	return best
}

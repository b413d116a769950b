package users

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeCode canonicalizes a role code: trimmed, NFC, upper case.
func NormalizeCode(code string) string {
	return strings.ToUpper(norm.NFC.String(strings.TrimSpace(code)))
}

// RoleSet is an insertion-ordered set of role codes.
type RoleSet struct {
	codes []string
}

// NewRoleSet builds a set, normalizing codes and dropping blanks and duplicates.
func NewRoleSet(codes ...string) RoleSet {
	var s RoleSet
	for _, c := range codes {
		s = s.With(c)
	}
	return s
}

// Codes returns a copy of the codes in insertion order.
func (s RoleSet) Codes() []string {
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}

// Len returns the number of codes.
func (s RoleSet) Len() int { return len(s.codes) }

// Contains reports whether code is held.
func (s RoleSet) Contains(code string) bool {
	code = NormalizeCode(code)
	for _, c := range s.codes {
		if c == code {
			return true
		}
	}
	return false
}

// With returns a set that also holds code. Adding a held code is a no-op.
func (s RoleSet) With(code string) RoleSet {
	code = NormalizeCode(code)
	if code == "" || s.Contains(code) {
		return s
	}
	next := make([]string, len(s.codes), len(s.codes)+1)
	copy(next, s.codes)
	return RoleSet{codes: append(next, code)}
}

// Without returns a set that no longer holds code.
func (s RoleSet) Without(code string) RoleSet {
	code = NormalizeCode(code)
	next := make([]string, 0, len(s.codes))
	for _, c := range s.codes {
		if c != code {
			next = append(next, c)
		}
	}
	return RoleSet{codes: next}
}

// MarshalJSON encodes the set as an array.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Codes())
}

// UnmarshalJSON decodes an array, normalizing on the way in.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err != nil {
		return err
	}
	*s = NewRoleSet(codes...)
	return nil
}

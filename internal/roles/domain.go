package roles

import "time"

// Role is a named bundle of permission rows.
type Role struct {
	ID                int64     `json:"id"`
	Code              string    `json:"code"`
	DisplayName       string    `json:"display_name"`
	IsActive          bool      `json:"is_active"`
	IsSystemProtected bool      `json:"is_system_protected"`
	DisplayOrder      int       `json:"display_order"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewRole is the input for Create.
type NewRole struct {
	Code              string `json:"code" validate:"required,max=64"`
	DisplayName       string `json:"display_name" validate:"required,max=200"`
	IsActive          bool   `json:"is_active"`
	IsSystemProtected bool   `json:"is_system_protected"`
	DisplayOrder      int    `json:"display_order"`
}

// Active filters roles down to active ones, keeping order.
func Active(in []Role) []Role {
	out := make([]Role, 0, len(in))
	for _, r := range in {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out
}

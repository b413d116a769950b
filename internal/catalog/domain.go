package catalog

import "time"

// Level is the depth of a resource in the menu tree.
type Level int

const (
	LevelCategory Level = 1
	LevelPage     Level = 2
	LevelItem     Level = 3
)

// Resource is a protected, navigable menu node.
type Resource struct {
	ID           int64     `json:"id"`
	Category     string    `json:"category"`
	PageName     string    `json:"page_name"`
	URLPath      string    `json:"url_path"`
	Level        Level     `json:"level"`
	ParentGroup  string    `json:"parent_group"`
	IsEnabled    bool      `json:"is_enabled"`
	DisplayOrder int       `json:"display_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tag identifies the resource in audit entries.
func (r Resource) Tag() string {
	if r.URLPath != "" {
		return r.URLPath
	}
	return r.PageName
}

// NewResource is the input for Create.
type NewResource struct {
	Category     string `json:"category" validate:"required,max=100"`
	PageName     string `json:"page_name" validate:"required,max=200"`
	URLPath      string `json:"url_path" validate:"max=300"`
	Level        Level  `json:"level" validate:"min=1,max=3"`
	ParentGroup  string `json:"parent_group" validate:"max=200"`
	IsEnabled    bool   `json:"is_enabled"`
	DisplayOrder int    `json:"display_order"`
}

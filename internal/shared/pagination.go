package shared

const (
	// DefaultPageSize is used when the caller does not pass a size.
	DefaultPageSize = 20
	// MaxPageSize caps any requested size.
	MaxPageSize = 50
)

// Page is a clamped page request.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps page and size into valid bounds.
func NewPage(number, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if number <= 0 {
		number = 1
	}
	return Page{Number: number, Size: size}
}

// Offset returns the row offset for the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Limit fetches one extra row so HasNext can be detected without a count query.
func (p Page) Limit() int {
	return p.Size + 1
}

// PagingInfo carries paging metadata back to callers.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}

// Info builds paging metadata from the number of rows fetched with Limit.
func (p Page) Info(fetched int) PagingInfo {
	info := PagingInfo{Page: p.Number, PageSize: p.Size, HasNext: fetched > p.Size}
	if p.Number > 1 {
		info.PrevPage = p.Number - 1
	}
	if info.HasNext {
		info.NextPage = p.Number + 1
	}
	return info
}

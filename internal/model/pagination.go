package model

// Page size bounds for list endpoints. The cap keeps a single request
// from draining a large table.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Pagination bounds list queries. The zero value means the first page at
// the default size, so handlers can bind it straight from the query
// string without validation.
type Pagination struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"page_size"`
}

// Limit is the row cap applied to the query.
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// Offset is the number of rows skipped before the requested page.
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

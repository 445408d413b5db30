package types

import "math"

// Pagination defaults shared by every listing endpoint.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxPage keeps the row offset inside a Postgres integer.
	MaxPage = math.MaxInt32 / MaxLimit
)

// PageQuery carries pagination and free-text search for listings.
type PageQuery struct {
	Page   int
	Limit  int
	Search string
}

// Normalize applies defaults and bounds to the page window.
func (q PageQuery) Normalize() PageQuery {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Page > MaxPage {
		q.Page = MaxPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	return q
}

// Offset returns the zero-based number of rows to skip.
func (q PageQuery) Offset() int {
	q = q.Normalize()
	return (q.Page - 1) * q.Limit
}

// PageMeta describes the page window returned with a listing.
type PageMeta struct {
	Page      int `json:"page"`
	Limit     int `json:"limit"`
	Total     int `json:"total"`
	TotalPage int `json:"totalPage"`
}

// NewPageMeta computes page metadata from a matching-document count that is
// independent of the page window.
func NewPageMeta(q PageQuery, total int) PageMeta {
	q = q.Normalize()
	totalPage := 0
	if total > 0 {
		totalPage = (total + q.Limit - 1) / q.Limit
	}
	return PageMeta{
		Page:      q.Page,
		Limit:     q.Limit,
		Total:     total,
		TotalPage: totalPage,
	}
}

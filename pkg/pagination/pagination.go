package pagination

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
	MinLimit     = 1
)

// Params holds validated pagination parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Meta is the pagination block returned next to every page of items
type Meta struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	PageSize    int   `json:"pageSize"`
	TotalItems  int64 `json:"totalItems"`
}

// Page is a slice of items plus its pagination metadata
type Page[T any] struct {
	Items      []T  `json:"items"`
	Pagination Meta `json:"pagination"`
}

// New coerces page/limit values to their defaults when they are not positive
func New(page, limit int) Params {
	if page < MinLimit {
		page = DefaultPage
	}
	if limit < MinLimit {
		limit = DefaultLimit
	}
	// Saturate instead of wrapping so a huge page stays past the last row.
	offset := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		offset = (page - 1) * limit
	}
	return Params{
		Page:   page,
		Limit:  limit,
		Offset: offset,
	}
}

// Parse extracts and validates page/limit from query parameters.
// "pageSize" is accepted as an alias of "limit".
func Parse(c *gin.Context) Params {
	page, _ := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(DefaultPage)))
	rawLimit := c.Query("limit")
	if rawLimit == "" {
		rawLimit = c.DefaultQuery("pageSize", strconv.Itoa(DefaultLimit))
	}
	limit, _ := strconv.Atoi(rawLimit)

	if limit > MaxLimit {
		limit = MaxLimit
	}
	return New(page, limit)
}

// NewMeta computes totalPages = ceil(total / limit); zero items means zero pages
func NewMeta(p Params, total int64) Meta {
	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(p.Limit) - 1) / int64(p.Limit))
	}
	return Meta{
		CurrentPage: p.Page,
		TotalPages:  totalPages,
		PageSize:    p.Limit,
		TotalItems:  total,
	}
}

// NewPage wraps items with their metadata. A nil slice is returned as empty.
func NewPage[T any](items []T, p Params, total int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Pagination: NewMeta(p, total)}
}

package pagination

import (
	"math"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestNewCoercesNonPositiveValues(t *testing.T) {
	tests := []struct {
		name        string
		page, limit int
		want        Params
	}{
		{"defaults", 0, 0, Params{Page: 1, Limit: 10, Offset: 0}},
		{"negative", -3, -1, Params{Page: 1, Limit: 10, Offset: 0}},
		{"third page", 3, 5, Params{Page: 3, Limit: 5, Offset: 10}},
		{"huge page saturates offset", 1<<60 + 1, 16, Params{Page: 1<<60 + 1, Limit: 16, Offset: math.MaxInt}},
		{"largest page", math.MaxInt, MaxLimit, Params{Page: math.MaxInt, Limit: MaxLimit, Offset: math.MaxInt}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.page, tt.limit))
		})
	}
}

func TestNewMetaTotalPages(t *testing.T) {
	tests := []struct {
		total int64
		limit int
		want  int
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{25, 7, 4},
	}
	for _, tt := range tests {
		meta := NewMeta(New(1, tt.limit), tt.total)
		assert.Equal(t, tt.want, meta.TotalPages, "total=%d limit=%d", tt.total, tt.limit)
		assert.Equal(t, tt.total, meta.TotalItems)
		assert.Equal(t, tt.limit, meta.PageSize)
	}
}

func TestNewPageBeyondRange(t *testing.T) {
	p := New(9, 10)
	page := NewPage[string](nil, p, 12)

	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)
	assert.Equal(t, Meta{CurrentPage: 9, TotalPages: 2, PageSize: 10, TotalItems: 12}, page.Pagination)
}

func TestParse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		query string
		want  Params
	}{
		{"", Params{Page: 1, Limit: 10, Offset: 0}},
		{"?page=2&limit=5", Params{Page: 2, Limit: 5, Offset: 5}},
		{"?page=2&pageSize=4", Params{Page: 2, Limit: 4, Offset: 4}},
		{"?page=abc&limit=-2", Params{Page: 1, Limit: 10, Offset: 0}},
		{"?limit=1000", Params{Page: 1, Limit: MaxLimit, Offset: 0}},
		{"?page=1152921504606846977&limit=16", Params{Page: 1152921504606846977, Limit: 16, Offset: math.MaxInt}},
	}
	for _, tt := range tests {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/books"+tt.query, nil)
		assert.Equal(t, tt.want, Parse(c), "query %q", tt.query)
	}
}

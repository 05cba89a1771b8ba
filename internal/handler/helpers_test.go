package handler

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "", 20, 0},
		{"second page", "?page=2&page_size=10", 10, 10},
		{"garbage ignored", "?page=x&page_size=-4", 20, 0},
		{"oversized page is capped before the offset", "?page=2&page_size=200", 100, 100},
		{"cap at the boundary", "?page=3&page_size=100", 100, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/v1/users/u/deposits"+tt.query, nil)
			limit, offset := pagination(r)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestPaginationPagesDoNotOverlap(t *testing.T) {
	_, first := pagination(httptest.NewRequest("GET", "/?page=1&page_size=500", nil))
	limit, second := pagination(httptest.NewRequest("GET", "/?page=2&page_size=500", nil))
	assert.Equal(t, first+limit, second)
}

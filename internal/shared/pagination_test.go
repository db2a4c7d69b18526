package shared

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageFromQuery(t *testing.T) {
	cases := []struct {
		query       string
		page, limit int
	}{
		{"", 1, 20},
		{"page=3&per_page=50", 3, 50},
		{"page=-1&per_page=0", 1, 20},
		{"page=x&per_page=10000", 1, 200},
	}
	for _, tc := range cases {
		q, _ := url.ParseQuery(tc.query)
		page, perPage := PageFromQuery(q)
		assert.Equal(t, tc.page, page, tc.query)
		assert.Equal(t, tc.limit, perPage, tc.query)
	}
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 20, 41)
	assert.Equal(t, 3, p.TotalPages)
	assert.Equal(t, 20, p.Offset())

	empty := NewPagination(1, 20, 0)
	assert.Equal(t, 0, empty.TotalPages)
	assert.Equal(t, 0, empty.Offset())
}

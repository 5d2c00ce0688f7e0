package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPagination(t *testing.T) {
	params, err := ExtractPagination(httptest.NewRequest("GET", "/ingest/batches", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, params.Page)
	assert.Equal(t, 10, params.Limit)
	assert.Equal(t, 0, params.Offset)

	params, err = ExtractPagination(httptest.NewRequest("GET", "/ingest/batches?page=3&limit=25", nil))
	require.NoError(t, err)
	assert.Equal(t, 50, params.Offset)

	_, err = ExtractPagination(httptest.NewRequest("GET", "/ingest/batches?page=0", nil))
	assert.Error(t, err)

	_, err = ExtractPagination(httptest.NewRequest("GET", "/ingest/batches?limit=abc", nil))
	assert.Error(t, err)
}

func TestSetPaginationStats(t *testing.T) {
	p := PaginationParams{Page: 1, Limit: 10}
	p.SetPaginationStats(35)
	assert.Equal(t, 35, p.TotalRecords)
	assert.Equal(t, 4, p.TotalPages)

	p.SetPaginationStats(0)
	assert.Equal(t, 0, p.TotalPages)
}

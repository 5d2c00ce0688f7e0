package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRows(t *testing.T) {
	rows := make([]RawRow, 7)
	for i := range rows {
		rows[i].RowNum = i + 3
	}

	chunks := chunkRows(rows, 3)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 3)
	assert.Len(t, chunks[1], 3)
	assert.Len(t, chunks[2], 1)
	assert.Equal(t, 3, chunks[0][0].RowNum)
	assert.Equal(t, 9, chunks[2][0].RowNum)

	assert.Len(t, chunkRows(rows, 0), 1, "non-positive size keeps one chunk")
	assert.Empty(t, chunkRows(nil, 3))
}

func TestDistinctRegions(t *testing.T) {
	rows := []RawRow{
		{Region: "HOUSTON"},
		{Region: "DALLAS"},
		{Region: "HOUSTON"},
		{Region: ""},
	}
	assert.Equal(t, []string{"", "DALLAS", "HOUSTON"}, distinctRegions(rows),
		"sorted, de-duplicated, empty region kept as its own key")
}

func TestRowsToJSONL(t *testing.T) {
	rows := []RawRow{
		{SourceFile: "a.xlsx", SheetName: "Data", RowNum: 3, TechID: "1", Region: "DALLAS",
			Payload: Payload{{Header: "Tech ID", Value: "1"}}},
		{SourceFile: "a.xlsx", SheetName: "Data", RowNum: 4, TechID: "2", Region: "DALLAS",
			Payload: Payload{{Header: "Tech ID", Value: "2"}}},
	}
	b, err := rowsToJSONL(rows)
	require.NoError(t, err)

	var lines []RawRow
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var decoded struct {
			TechID string `json:"tech_id"`
			RowNum int    `json:"row_num"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &decoded))
		lines = append(lines, RawRow{TechID: decoded.TechID, RowNum: decoded.RowNum})
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "1", lines[0].TechID)
	assert.Equal(t, 4, lines[1].RowNum)
}

func TestCommitRegionAllowlist(t *testing.T) {
	t.Setenv("COMMIT_REGION_ALLOWLIST", "")
	assert.Nil(t, commitRegionAllowlist())

	t.Setenv("COMMIT_REGION_ALLOWLIST", "DALLAS, HOUSTON ,,EL PASO")
	assert.Equal(t, []string{"DALLAS", "HOUSTON", "EL PASO"}, commitRegionAllowlist())
}

func TestStoragePrefixes(t *testing.T) {
	up := uploadPrefix("fieldops", "2025-03-21", "abc")
	assert.Equal(t, "fieldops/2025-03-21/abc/", up)

	cp := commitPrefix("fieldops", "2025-03-21", "abc")
	assert.Equal(t, up+"commit/", cp,
		"commit artifacts nest under the upload prefix so undo can purge them together")
}

package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFileExt(t *testing.T) {
	assert.Equal(t, ".xlsx", getFileExt("Report.XLSX"))
	assert.Equal(t, ".csv", getFileExt("a/b/data.csv"))
	assert.Empty(t, getFileExt("README"))
}

func TestReadCSV(t *testing.T) {
	data := strings.Join([]string{
		"Monthly KPI Report - Houston",
		strings.Join(ExpectedHeaders, ","),
		"1001,Jane Doe,HOUSTON,2025-03,42,61,88%,93%,2",
	}, "\n")

	wb, err := readCSV("houston_kpi.csv", []byte(data))
	require.NoError(t, err)
	require.Equal(t, []string{"houston_kpi"}, wb.sheetOrder)

	rows := wb.sheets["houston_kpi"]
	require.Len(t, rows, 3)
	assert.Equal(t, "Monthly KPI Report - Houston", titleText(rows))

	name, _, ok := matchHeaderRows(wb.sheetOrder, wb.sheets)
	assert.True(t, ok)
	assert.Equal(t, "houston_kpi", name)
}

func TestOpenWorkbookRejectsUnknownExtension(t *testing.T) {
	_, err := openWorkbook("notes.txt", []byte("x"))
	assert.Error(t, err)
}

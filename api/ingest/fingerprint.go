package ingest

import (
	"strings"

	"FieldOpsKPI/api/constants"
)

// ExpectedHeaders is the declared schema for technician KPI workbooks. The
// header row of a sheet must match this list exactly (order-sensitive) after
// normalization for the sheet to be interpreted at all.
var ExpectedHeaders = []string{
	"Tech ID",
	"Technician Name",
	"Region",
	"Fiscal Month",
	"Jobs Completed",
	"tNPS Score",
	"FTR %",
	"Tool Usage %",
	"Repeat Calls",
}

// techIDHeaders are the id-like column names checked when deciding whether a
// data row carries a technician id. Vendors have shipped all of these.
var techIDHeaders = []string{
	"Tech ID",
	"Tech Id",
	"Technician ID",
	"Tech #",
	"Employee ID",
}

// headerRowIndex is the fixed 1-based sheet row holding the column headers.
// Row 1 is the report title band, data starts at row 3.
const headerRowIndex = 2

const fingerprintSep = "|"

// normalizeHeaderCell trims, lowercases and collapses internal whitespace
// (non-breaking spaces included) so cosmetic differences between exports of
// the same schema do not break matching.
func normalizeHeaderCell(s string) string {
	s = strings.ReplaceAll(s, constants.NBSP, " ")
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// HeaderFingerprint produces the order-sensitive signature of a header row.
// Two header sets are schema-compatible iff their fingerprints are equal;
// there is no fuzzy matching. Trailing empty cells are ignored
// because xlsx readers pad rows to the widest column seen.
func HeaderFingerprint(cells []string) string {
	end := len(cells)
	for end > 0 && strings.TrimSpace(cells[end-1]) == "" {
		end--
	}
	parts := make([]string, 0, end)
	for _, c := range cells[:end] {
		parts = append(parts, normalizeHeaderCell(c))
	}
	return strings.Join(parts, fingerprintSep)
}

// ExpectedFingerprint is the fingerprint every committed workbook must carry.
func ExpectedFingerprint() string {
	return HeaderFingerprint(ExpectedHeaders)
}

// headerRowOf returns the header row (sheet row 2) from a sheet's rows, or
// nil when the sheet is too short to have one.
func headerRowOf(rows [][]string) []string {
	if len(rows) < headerRowIndex {
		return nil
	}
	return rows[headerRowIndex-1]
}

// matchHeaderRows scans the sheets of a workbook (name -> rows) in the given
// order and returns the first sheet whose row-2 fingerprint equals the
// expected one. lastFingerprint carries the final attempted fingerprint for
// diagnostics when nothing matches.
func matchHeaderRows(sheetOrder []string, sheets map[string][][]string) (sheetName, lastFingerprint string, ok bool) {
	want := ExpectedFingerprint()
	for _, name := range sheetOrder {
		hdr := headerRowOf(sheets[name])
		if hdr == nil {
			continue
		}
		got := HeaderFingerprint(hdr)
		lastFingerprint = got
		if got == want {
			return name, got, true
		}
	}
	return "", lastFingerprint, false
}

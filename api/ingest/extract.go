package ingest

import (
	"bytes"
	"encoding/json"
	"strings"

	"FieldOpsKPI/api/constants"
)

// footerKeywords mark footer/summary rows that spreadsheet exports append
// below the data block. Matching is case-insensitive containment over the
// row's joined signature.
var footerKeywords = []string{
	"grand total",
	"subtotal",
	"sub total",
	"totals",
	"total",
	"summary",
	"end of report",
	"report total",
	"page ",
}

// dataStartRow is the first 1-based sheet row holding technician data.
const dataStartRow = 3

// PayloadField is one header->value pair of a raw row. Payload keeps source
// column order, which a plain map would lose.
type PayloadField struct {
	Header string `json:"header"`
	Value  string `json:"value"`
}

// Payload is the ordered mapping of declared header name to cell text.
type Payload []PayloadField

// Get returns the value for a header, matched on normalized form.
func (p Payload) Get(header string) string {
	want := normalizeHeaderCell(header)
	for _, f := range p {
		if normalizeHeaderCell(f.Header) == want {
			return f.Value
		}
	}
	return ""
}

// MarshalJSON renders the payload as a JSON object in source column order.
func (p Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Header)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RawRow is one technician-metric-bearing row extracted from a source file.
type RawRow struct {
	SourceFile string  `json:"source_file"`
	SheetName  string  `json:"sheet_name"`
	RowNum     int     `json:"row_num"`
	TechID     string  `json:"tech_id"`
	Region     string  `json:"region"`
	Payload    Payload `json:"payload"`
}

// ExtractStats counts what the extractor kept and dropped, for diagnostics.
type ExtractStats struct {
	RowsSeen      int `json:"rows_seen"`
	RowsKept      int `json:"rows_kept"`
	SkippedEmpty  int `json:"skipped_empty"`
	SkippedFooter int `json:"skipped_footer"`
	SkippedNoTech int `json:"skipped_missing_tech_id"`
	SkippedSparse int `json:"skipped_sparse"`
}

// rowSignature joins the non-empty cells of a row with spaces; it is the text
// the footer heuristic runs against.
func rowSignature(cells []string) string {
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		c = strings.TrimSpace(strings.ReplaceAll(c, constants.NBSP, " "))
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " ")
}

// isFooterRow reports whether a row signature looks like a footer/summary
// line rather than technician data.
func isFooterRow(signature string) bool {
	sig := strings.ToLower(signature)
	for _, kw := range footerKeywords {
		if strings.Contains(sig, kw) {
			return true
		}
	}
	return false
}

func nonEmptyCellCount(cells []string) int {
	n := 0
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			n++
		}
	}
	return n
}

// extractOptions tunes per-source-type behavior of the extractor.
type extractOptions struct {
	// sparseRowFilter enables the CSV preview rule that drops rows with two
	// or fewer non-empty cells (CSV exports pad footer lines with commas).
	sparseRowFilter bool
	// detectedRegion is the region resolved from the file's title row or
	// filename; per-row "Region" payload fields are only a fallback.
	detectedRegion string
}

// ExtractRows walks sheet rows from row 3 to end-of-sheet and maps each data
// row onto the expected header list by position. Footer/summary lines, empty
// lines and rows without a technician id are dropped. Cell text is preserved
// raw at this layer; numeric normalization (accounting negatives and the
// like) happens downstream at parse time.
func ExtractRows(sourceFile, sheetName string, rows [][]string, headers []string, opts extractOptions) ([]RawRow, ExtractStats) {
	var (
		out   []RawRow
		stats ExtractStats
	)
	for i := dataStartRow - 1; i < len(rows); i++ {
		cells := rows[i]
		rowNum := i + 1
		stats.RowsSeen++

		sig := rowSignature(cells)
		if sig == "" {
			stats.SkippedEmpty++
			continue
		}
		if isFooterRow(sig) {
			stats.SkippedFooter++
			continue
		}
		if opts.sparseRowFilter && nonEmptyCellCount(cells) <= 2 {
			stats.SkippedSparse++
			continue
		}

		payload := make(Payload, 0, len(headers))
		for j, h := range headers {
			val := ""
			if j < len(cells) {
				val = strings.TrimSpace(strings.ReplaceAll(cells[j], constants.NBSP, " "))
			}
			payload = append(payload, PayloadField{Header: h, Value: val})
		}

		techID := techIDOf(payload)
		if techID == "" {
			stats.SkippedNoTech++
			continue
		}

		region := opts.detectedRegion
		if region == "" {
			region = strings.TrimSpace(payload.Get(regionHeader))
		}

		out = append(out, RawRow{
			SourceFile: sourceFile,
			SheetName:  sheetName,
			RowNum:     rowNum,
			TechID:     techID,
			Region:     region,
			Payload:    payload,
		})
		stats.RowsKept++
	}
	return out, stats
}

// techIDOf checks the known id-like header variants and returns the first
// non-empty value.
func techIDOf(p Payload) string {
	for _, h := range techIDHeaders {
		if v := strings.TrimSpace(p.Get(h)); v != "" {
			return v
		}
	}
	return ""
}

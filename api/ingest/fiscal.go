package ingest

import (
	"fmt"
	"strings"
	"time"

	"FieldOpsKPI/api/constants"
	"FieldOpsKPI/internal/config"
)

// FiscalMonthAnchor normalizes a reference date onto the day-21 month key
// used for all reporting and pinning joins. Reference dates on or before the
// 21st map to the 21st of the same month; the 22nd onward maps to the 21st of
// the following month (December rolls into January of the next year).
func FiscalMonthAnchor(ref time.Time) time.Time {
	y, m, d := ref.Date()
	if d > config.FiscalAnchorDay {
		m++
	}
	return time.Date(y, m, config.FiscalAnchorDay, 0, 0, 0, 0, time.UTC)
}

// AnchorString renders an anchor as the canonical YYYY-MM-21 key.
func AnchorString(anchor time.Time) string {
	return anchor.Format(constants.DateFormat)
}

// ParseFiscalRefDate parses a caller-supplied reference date (YYYY-MM-DD).
func ParseFiscalRefDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%s", constants.ErrMissingFiscalRefDate)
	}
	t, err := time.ParseInLocation(constants.DateFormat, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid fiscal_ref_date %q: %w", s, err)
	}
	return t, nil
}

// ParseAnchor parses and validates a fiscal_month_anchor. Callers pass the
// anchor explicitly on parse/commit/undo so the same upload set can never
// drift between months across pipeline steps.
func ParseAnchor(s string) (time.Time, error) {
	t, err := time.ParseInLocation(constants.DateFormat, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid fiscal_month_anchor %q: %w", s, err)
	}
	if t.Day() != config.FiscalAnchorDay {
		return time.Time{}, fmt.Errorf("%s", constants.ErrBadFiscalAnchor)
	}
	return t, nil
}

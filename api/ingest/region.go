package ingest

import (
	"regexp"
	"strings"
)

var (
	extSuffixRe  = regexp.MustCompile(`(?i)\.(xlsx|xls|csv)$`)
	nonAlnumRe   = regexp.MustCompile(`[^A-Z0-9]+`)
	regionHeader = "Region"
)

// NormalizeRegionText uppercases, strips a trailing file-extension suffix and
// collapses every non-alphanumeric run to a single space so filenames, title
// rows and master names all compare on the same footing.
func NormalizeRegionText(s string) string {
	s = extSuffixRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.ToUpper(s)
	s = nonAlnumRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// DetectRegion matches free text (a filename or a sheet title row) against
// the authoritative region list. A region is found when its normalized name
// is a substring of the normalized input; the first match in list order wins.
// An empty or missing authoritative list yields no detection.
func DetectRegion(text string, regions []string) string {
	if len(regions) == 0 {
		return ""
	}
	norm := NormalizeRegionText(text)
	if norm == "" {
		return ""
	}
	for _, r := range regions {
		rn := NormalizeRegionText(r)
		if rn == "" {
			continue
		}
		if strings.Contains(norm, rn) {
			return r
		}
	}
	return ""
}

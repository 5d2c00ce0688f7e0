package ingest

import (
	"context"
	"encoding/json"
	"net/http"

	"FieldOpsKPI/api/constants"
)

// RegionProvider supplies the authoritative region display names. The gate
// refuses to pass anything when the list is empty or unavailable; an absent
// reference list is never treated as "no restrictions".
type RegionProvider interface {
	ActiveRegions(ctx context.Context) ([]string, error)
}

// Gate verdicts. Hard failures mean the files are structurally wrong and
// must not be interpreted; soft failures mean the files parsed but their
// destination is ambiguous and needs an operator decision.
const (
	GateGreen    = "GREEN"
	GateSoftFail = "SOFT_FAIL"
	GateHardFail = "HARD_FAIL"
)

// GateFileCheck is the per-file verdict of the Validation Gate.
type GateFileCheck struct {
	FileName       string `json:"file_name"`
	HeaderOk       bool   `json:"header_ok"`
	RegionOk       bool   `json:"region_ok"`
	DetectedRegion string `json:"detected_region,omitempty"`
	Error          string `json:"error,omitempty"`
}

// GateDecision is the go/no-go outcome over a whole parse preview.
type GateDecision struct {
	Verdict       string          `json:"verdict"`
	Reason        string          `json:"reason,omitempty"`
	HeaderFails   []string        `json:"header_failures,omitempty"`
	RegionFails   []string        `json:"region_failures,omitempty"`
	Files         []GateFileCheck `json:"files"`
	CanAutoCommit bool            `json:"can_auto_commit"`
}

// EvaluateGate cross-checks Parse Stage output against the authoritative
// region list. Any header mismatch is a hard fail and takes precedence over
// region problems; any unresolved or unlisted region is a soft fail requiring
// operator intervention; otherwise the batch is green for auto-commit.
func EvaluateGate(parse *ParseResult, regions []string) GateDecision {
	dec := GateDecision{}
	if len(regions) == 0 {
		dec.Verdict = GateHardFail
		dec.Reason = "authoritative region list unavailable or empty"
		return dec
	}

	allowed := make(map[string]bool, len(regions))
	for _, r := range regions {
		allowed[NormalizeRegionText(r)] = true
	}

	for _, f := range parse.Files {
		check := GateFileCheck{
			FileName:       f.FileName,
			HeaderOk:       f.HeaderMatch,
			DetectedRegion: f.DetectedRegion,
			Error:          f.Error,
		}
		check.RegionOk = f.DetectedRegion != "" && allowed[NormalizeRegionText(f.DetectedRegion)]
		dec.Files = append(dec.Files, check)

		if !check.HeaderOk {
			dec.HeaderFails = append(dec.HeaderFails, f.FileName)
		} else if !check.RegionOk {
			dec.RegionFails = append(dec.RegionFails, f.FileName)
		}
	}

	switch {
	case len(dec.HeaderFails) > 0:
		dec.Verdict = GateHardFail
		dec.Reason = "header fingerprint mismatch"
	case len(dec.RegionFails) > 0:
		dec.Verdict = GateSoftFail
		dec.Reason = "region could not be resolved against the authoritative list"
	default:
		dec.Verdict = GateGreen
		dec.CanAutoCommit = true
	}
	return dec
}

// ValidateHandler handles POST /ingest/validate: runs a fresh parse preview
// and applies the gate to it.
func ValidateHandler(store ObjectStore, regions RegionProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		var req ParseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UploadSetID == "" {
			http.Error(w, constants.ErrInvalidJSONRequired, http.StatusBadRequest)
			return
		}
		regionList, err := regions.ActiveRegions(r.Context())
		if err != nil {
			regionList = nil
		}
		parse, err := ParseUploadSet(r.Context(), store, regionList, req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		dec := EvaluateGate(parse, regionList)
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    dec,
		})
	}
}

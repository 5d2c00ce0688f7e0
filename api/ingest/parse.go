package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"

	"FieldOpsKPI/api/constants"
)

// ParseRequest identifies the upload set to preview.
type ParseRequest struct {
	UploadSetID       string `json:"upload_set_id"`
	SourceSystem      string `json:"source_system"`
	FiscalMonthAnchor string `json:"fiscal_month_anchor"`
}

// ParseUploadSet is the read-only preview stage: it lists the upload set's
// stored files and reports, per file, whether the header fingerprint matches,
// how many data rows the extractor would keep, and which region the file
// resolves to. It never writes to the structured store.
func ParseUploadSet(ctx context.Context, store ObjectStore, regions []string, req ParseRequest) (*ParseResult, error) {
	if strings.TrimSpace(req.UploadSetID) == "" {
		return nil, errors.New(constants.ErrMissingUploadSetID)
	}
	anchor, err := ParseAnchor(req.FiscalMonthAnchor)
	if err != nil {
		return nil, err
	}
	prefix := uploadPrefix(req.SourceSystem, AnchorString(anchor), req.UploadSetID)

	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	res := &ParseResult{
		UploadSetID:       req.UploadSetID,
		SourceSystem:      req.SourceSystem,
		FiscalMonthAnchor: AnchorString(anchor),
		StoragePrefix:     prefix,
	}
	commitSub := commitPrefix(req.SourceSystem, AnchorString(anchor), req.UploadSetID)
	for _, obj := range objects {
		// commit artifacts from an earlier run live under the same upload
		// prefix; they are not source files.
		if strings.HasPrefix(obj.Name, commitSub) {
			continue
		}
		res.Files = append(res.Files, parseOneFile(ctx, store, regions, obj))
	}
	if len(res.Files) == 0 {
		return nil, errNoStoredObjects
	}
	log.Printf("[INGEST-PARSE] upload_set=%s files=%d", req.UploadSetID, len(res.Files))
	return res, nil
}

func parseOneFile(ctx context.Context, store ObjectStore, regions []string, obj StoredObject) ParseFileResult {
	fileName := path.Base(obj.Name)
	out := ParseFileResult{
		FileName:            fileName,
		Key:                 obj.Name,
		Size:                obj.Size,
		FileType:            strings.TrimPrefix(getFileExt(fileName), "."),
		ExpectedFingerprint: ExpectedFingerprint(),
	}

	data, err := store.Get(ctx, obj.Name)
	if err != nil {
		out.Error = "fetch failed: " + err.Error()
		return out
	}
	wb, err := openWorkbook(fileName, data)
	if err != nil {
		out.Error = err.Error()
		return out
	}

	sheetName, gotFingerprint, ok := matchHeaderRows(wb.sheetOrder, wb.sheets)
	out.HeaderFingerprint = gotFingerprint
	out.HeaderMatch = ok
	if !ok {
		out.Error = errHeaderMismatch.Error()
		return out
	}
	out.MatchedSheet = sheetName

	rows := wb.sheets[sheetName]
	out.FirstRowText = titleText(rows)

	// Region: sheet title row first, filename as fallback. Nothing resolves
	// without an authoritative region list.
	region := DetectRegion(out.FirstRowText, regions)
	if region == "" {
		region = DetectRegion(fileName, regions)
	}
	out.DetectedRegion = region

	opts := extractOptions{detectedRegion: region}
	if getFileExt(fileName) == ".csv" {
		opts.sparseRowFilter = true
	}
	extracted, _ := ExtractRows(fileName, sheetName, rows, ExpectedHeaders, opts)
	out.EstimatedRows = len(extracted)
	return out
}

// ParseHandler handles POST /ingest/parse.
func ParseHandler(store ObjectStore, regions RegionProvider) http.HandlerFunc {
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
			log.Printf("[INGEST-PARSE] region master unavailable: %v", err)
			regionList = nil
		}
		res, err := ParseUploadSet(r.Context(), store, regionList, req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set(constants.ContentTypeText, constants.ContentTypeJSON)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    res,
		})
	}
}

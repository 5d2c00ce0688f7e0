package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"FieldOpsKPI/api/constants"
	"FieldOpsKPI/internal/config"
)

// uploadableExts are the only extensions the Upload Stage accepts; anything
// else in the multipart form is silently filtered out.
var uploadableExts = map[string]bool{
	".csv":  true,
	".xlsx": true,
}

// UploadFile is one file handed to the Upload Stage core.
type UploadFile struct {
	Name string
	Data []byte
}

// UploadFiles persists an upload set's raw files to object storage under
// {source_system}/{anchor}/{upload_set_id}/{filename}. It never touches the
// structured store: parse and commit re-read the files from storage. A
// single file's storage failure is reported per-file, not as a call failure.
func UploadFiles(ctx context.Context, store ObjectStore, sourceSystem, fiscalRefDate string, files []UploadFile) (*UploadResult, error) {
	sourceSystem = strings.TrimSpace(sourceSystem)
	if sourceSystem == "" {
		return nil, errMissingSourceSystem
	}
	refDate, err := ParseFiscalRefDate(fiscalRefDate)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errNoFilesUploaded
	}

	anchor := AnchorString(FiscalMonthAnchor(refDate))
	uploadSetID := uuid.New().String()
	prefix := uploadPrefix(sourceSystem, anchor, uploadSetID)

	res := &UploadResult{
		UploadSetID:       uploadSetID,
		SourceSystem:      sourceSystem,
		FiscalMonthAnchor: anchor,
		StoragePrefix:     prefix,
	}
	for _, f := range files {
		name := filepath.Base(f.Name)
		if !uploadableExts[getFileExt(name)] {
			res.SkippedCount++
			res.Files = append(res.Files, UploadFileResult{FileName: name, Skipped: true})
			continue
		}
		key := prefix + name
		url, err := store.Put(ctx, key, f.Data, detectContentType(f.Data))
		if err != nil {
			log.Printf("[INGEST-UPLOAD] store put failed for %s: %v", key, err)
			res.FailedCount++
			res.Files = append(res.Files, UploadFileResult{FileName: name, Key: key, Success: false, Error: err.Error()})
			continue
		}
		res.StoredCount++
		res.Files = append(res.Files, UploadFileResult{
			FileName: name,
			Key:      key,
			URL:      url,
			Size:     int64(len(f.Data)),
			Success:  true,
		})
	}
	log.Printf("[INGEST-UPLOAD] upload_set=%s source=%s anchor=%s stored=%d failed=%d skipped=%d",
		uploadSetID, sourceSystem, anchor, res.StoredCount, res.FailedCount, res.SkippedCount)
	return res, nil
}

// UploadHandler handles POST /ingest/upload (multipart form: source_system,
// fiscal_ref_date, files[]).
func UploadHandler(store ObjectStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, constants.ErrMethodNotAllowed, http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseMultipartForm(config.MaxUploadBytes); err != nil {
			http.Error(w, "Failed to parse multipart form: "+err.Error(), http.StatusBadRequest)
			return
		}
		sourceSystem := r.FormValue("source_system")
		fiscalRefDate := r.FormValue("fiscal_ref_date")

		fileHeaders := r.MultipartForm.File["files"]
		if len(fileHeaders) == 0 {
			fileHeaders = r.MultipartForm.File["file"]
		}
		files := make([]UploadFile, 0, len(fileHeaders))
		for _, fh := range fileHeaders {
			f, err := fh.Open()
			if err != nil {
				http.Error(w, "Failed to open file: "+fh.Filename, http.StatusBadRequest)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				http.Error(w, "Failed to read file: "+fh.Filename, http.StatusBadRequest)
				return
			}
			files = append(files, UploadFile{Name: fh.Filename, Data: data})
		}

		res, err := UploadFiles(r.Context(), store, sourceSystem, fiscalRefDate, files)
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

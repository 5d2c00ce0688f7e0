package ingest

import "time"

// Batch status values. An upload set has no batch row until commit starts;
// UPLOADED only appears after an explicit undo rewinds a commit, and FAILED
// only when a commit extracts zero insertable rows from the stored files.
const (
	StatusUploaded            = "UPLOADED"
	StatusCommitting          = "COMMITTING"
	StatusCommitted           = "COMMITTED"
	StatusCommittedWithErrors = "COMMITTED_WITH_ERRORS"
	StatusFailed              = "FAILED"
)

// UploadFileResult is the per-file outcome of the Upload Stage.
type UploadFileResult struct {
	FileName string `json:"file_name"`
	Key      string `json:"key,omitempty"`
	URL      string `json:"url,omitempty"`
	Size     int64  `json:"size"`
	Success  bool   `json:"success"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// UploadResult is what the Upload Stage returns to the caller.
type UploadResult struct {
	UploadSetID       string             `json:"upload_set_id"`
	SourceSystem      string             `json:"source_system"`
	FiscalMonthAnchor string             `json:"fiscal_month_anchor"`
	StoragePrefix     string             `json:"storage_prefix"`
	Files             []UploadFileResult `json:"files"`
	StoredCount       int                `json:"stored_count"`
	FailedCount       int                `json:"failed_count"`
	SkippedCount      int                `json:"skipped_count"`
}

// ParseFileResult is the read-only preview diagnostic for one stored file.
type ParseFileResult struct {
	FileName            string `json:"file_name"`
	Key                 string `json:"key"`
	Size                int64  `json:"size"`
	FileType            string `json:"file_type"`
	HeaderMatch         bool   `json:"header_match"`
	MatchedSheet        string `json:"matched_sheet,omitempty"`
	HeaderFingerprint   string `json:"header_fingerprint,omitempty"`
	ExpectedFingerprint string `json:"expected_fingerprint"`
	EstimatedRows       int    `json:"estimated_rows"`
	DetectedRegion      string `json:"detected_region,omitempty"`
	FirstRowText        string `json:"first_row_text,omitempty"`
	Error               string `json:"error,omitempty"`
}

// ParseResult is the full Parse Stage preview for an upload set.
type ParseResult struct {
	UploadSetID       string            `json:"upload_set_id"`
	SourceSystem      string            `json:"source_system"`
	FiscalMonthAnchor string            `json:"fiscal_month_anchor"`
	StoragePrefix     string            `json:"storage_prefix"`
	Files             []ParseFileResult `json:"files"`
}

// CommitFileResult is the per-file outcome of the Commit Stage.
type CommitFileResult struct {
	FileName      string `json:"file_name"`
	Key           string `json:"key"`
	Success       bool   `json:"success"`
	RowsExtracted int    `json:"rows_extracted"`
	MatchedSheet  string `json:"matched_sheet,omitempty"`
	ArtifactPath  string `json:"artifact_path,omitempty"`
	Warning       string `json:"warning,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CommitResult is the Commit Stage response.
type CommitResult struct {
	BatchID           string             `json:"batch_id"`
	UploadSetID       string             `json:"upload_set_id"`
	Status            string             `json:"status"`
	FiscalMonthAnchor string             `json:"fiscal_month_anchor"`
	TotalRows         int                `json:"total_rows"`
	FailedFiles       int                `json:"failed_files"`
	ManifestPath      string             `json:"manifest_path"`
	CommitPrefix      string             `json:"commit_prefix"`
	Files             []CommitFileResult `json:"files"`
}

// manifestCounts is the counts block of the commit manifest.
type manifestCounts struct {
	Listed      int `json:"listed"`
	CommittedOK int `json:"committed_ok"`
	Failed      int `json:"failed"`
	TotalRows   int `json:"total_rows"`
}

// CommitManifest is the durable, storage-resident audit record of a commit.
// It must stay parseable indefinitely, independent of the database.
type CommitManifest struct {
	ManifestVersion   int                `json:"manifest_version"`
	OK                bool               `json:"ok"`
	SourceSystem      string             `json:"source_system"`
	UploadSetID       string             `json:"upload_set_id"`
	BatchID           string             `json:"batch_id"`
	FiscalMonthAnchor string             `json:"fiscal_month_anchor"`
	SourcePrefix      string             `json:"source_prefix"`
	CommitPrefix      string             `json:"commit_prefix"`
	Counts            manifestCounts     `json:"counts"`
	Files             []CommitFileResult `json:"files"`
	CreatedAt         time.Time          `json:"created_at"`
}

// UndoResult is the Undo Stage response.
type UndoResult struct {
	BatchID          string `json:"batch_id"`
	UploadSetID      string `json:"upload_set_id"`
	DeletedRows      int64  `json:"deleted_rows"`
	PinRemoved       bool   `json:"pin_removed"`
	RemovedArtifacts int    `json:"removed_artifacts"`
}

package constants

// ============================================================================
// INGESTION ERRORS
// ============================================================================

const (
	ErrMissingUploadSetID   = "upload_set_id is required"
	ErrMissingSourceSystem  = "source_system is required"
	ErrMissingFiscalRefDate = "fiscal_ref_date is required (YYYY-MM-DD)"
	ErrBadFiscalAnchor      = "fiscal_month_anchor must be a day-21 date (YYYY-MM-21)"
	ErrNoFilesUploaded      = "No files uploaded"
	ErrNoObjectsForUpload   = "no stored objects found for upload set"
)

// ============================================================================
// RULES / PINNING ERRORS
// ============================================================================

const (
	ErrMissingScope            = "scope is required"
	ErrFailedToResolveRubric   = "failed to resolve effective rubric: %v"
	ErrFailedToResolveSettings = "failed to resolve effective settings: %v"
	ErrFailedToPinBatch        = "failed to pin batch: %v"
)

// ============================================================================
// COMMIT / UNDO ERROR TEMPLATES
// ============================================================================

const (
	ErrFailedToResolveBatch  = "failed to resolve batch identity: %v"
	ErrFailedToInsertRawRows = "failed to bulk insert raw rows: %v"
	ErrFailedToHousekeep     = "failed to delete superseded rows: %v"
	ErrFailedToFinalizeBatch = "failed to finalize batch status: %v"
	ErrFailedToUndoBatch     = "failed to undo batch: %v"
)

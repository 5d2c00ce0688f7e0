package ingest

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors used for mapping to user-friendly messages.
var (
	errMissingSourceSystem = errors.New("source_system is required")
	errNoFilesUploaded     = errors.New("no files uploaded")
	errNoStoredObjects     = errors.New("no stored objects found for upload set")
	errHeaderMismatch      = errors.New("header fingerprint mismatch")
	errRegionNotAllowed    = errors.New("region not in commit allowlist")
	ErrNoPinnableRubric    = errors.New("no rubric version effective for fiscal month")
	ErrNoPinnableSettings  = errors.New("no report settings available to pin")
	ErrBatchNotFound       = errors.New("no batch exists for upload set")
)

// pgUserFriendlyMessage translates Postgres error codes into messages an
// operator can act on without reading constraint names.
func pgUserFriendlyMessage(err error) string {
	if err == nil {
		return ""
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err.Error()
	}
	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "ingest_batch_upload_set_id_key", "uniq_upload_set":
			return "A batch already exists for this upload set."
		case "batch_pin_batch_id_key", "uniq_batch_pin":
			return "This batch is already pinned to a rubric version."
		default:
			return "A record with the same unique value already exists."
		}
	case "23503":
		return "Some referenced data was not found (please refresh and try again)."
	case "23514":
		return "Some fields have invalid values. Please check and try again."
	default:
		return "Database error while processing the request. Please try again."
	}
}

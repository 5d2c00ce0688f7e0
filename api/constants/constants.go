package constants

// Common error messages
const (
	ErrInvalidJSON         = "invalid json or missing fields"
	ErrInvalidJSONRequired = "invalid json or missing required fields"
	ErrMethodNotAllowed    = "Method Not Allowed"
	ErrDB                  = "DB error"
	ErrFailedToQuery       = "Failed to query"
)

// DB / SQL error templates
const (
	ErrTxStartFailed  = "failed to start transaction: "
	ErrTxCommitFailed = "failed to commit transaction: "
	FormatSQLError    = "ERROR: %s"
)

// Content Types
const (
	ContentTypeJSON = "application/json"
	ContentTypeText = "Content-Type"
	ContentTypeCSV  = "text/csv"
)

// Date formats
const (
	DateTimeFormat = "2006-01-02 15:04:05"
	DateFormat     = "2006-01-02"
)

// NBSP is the non-breaking space character that shows up in spreadsheet
// exports and must be treated as plain whitespace during normalization.
const NBSP = " "

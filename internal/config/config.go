package config

const (
	DefaultTimeZone = "America/Chicago"

	// Fiscal reporting months are anchored on day 21: a reference date on or
	// before the 21st belongs to the current month's anchor, from the 22nd
	// onward it rolls into the next month's anchor.
	FiscalAnchorDay = 21

	// CommitChunkSize bounds the number of raw rows per bulk INSERT during
	// commit so a single statement never carries an unbounded payload.
	CommitChunkSize = 500

	MaxUploadBytes = 100 << 20

	// Sweep Configuration Constants
	DefaultSweepSchedule = "*/15 * * * *" // flag batches stuck in COMMITTING
	StaleCommittingHours = 2
)

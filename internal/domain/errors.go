package domain

import "errors"

// Validation and query errors returned to callers. Each rejected ingestion or
// failed query maps to exactly one of these so callers can react differently
// (retry later vs. permanent absence).
var (
	ErrUnknownDevice        = errors.New("unknown device")
	ErrDeviceExists         = errors.New("device already registered")
	ErrIngestionSuspended   = errors.New("ingestion suspended")
	ErrInvalidTimestamp     = errors.New("invalid timestamp")
	ErrNonMonotonicReading  = errors.New("non-monotonic reading")
	ErrInvalidPeriod        = errors.New("invalid period")
	ErrNoReadingsInPeriod   = errors.New("no readings in period")
	ErrInsufficientReadings = errors.New("insufficient readings")
)

// ErrArchivePartialFailure aggregates per-device archive write failures. The
// run continues past a failed device; the outcome reports which devices failed.
var ErrArchivePartialFailure = errors.New("archive partially failed")

// ErrLedgerInvariantBreach indicates corrupted ledger state (e.g. a negative
// consumption delta under a monotonic series). It is a bug signal, not a user
// error, and is surfaced distinctly from the validation errors above.
var ErrLedgerInvariantBreach = errors.New("ledger invariant breach")

package veloxdb

import "github.com/veloxdb/veloxdb/internal/errs"

// Error is the single error type every public veloxdb operation returns.
// Callers branch on failure class with errors.Is against the Err* sentinels
// below rather than matching message strings.
type Error = errs.Error

// Sentinel error kinds. Use errors.Is(err, veloxdb.ErrNotFound) etc.
var (
	ErrInvalidInput = errs.KindInvalidInput
	ErrNotFound     = errs.KindNotFound
	ErrNotReady     = errs.KindNotReady
	ErrIoError      = errs.KindIoError
	ErrParseError   = errs.KindParseError
	ErrConflict     = errs.KindConflict
	ErrUnsupported  = errs.KindUnsupported
	ErrInternal     = errs.KindInternal
)

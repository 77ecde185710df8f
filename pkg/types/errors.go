package types

import "errors"

// Sentinel errors shared across the storage, gateway, extraction and
// consolidation layers. Callers match them with errors.Is; layers wrap them
// with fmt.Errorf("%w: ...") to add detail without breaking the match.
var (
	// ErrNotFound indicates a referenced entity (memory, goal, session,
	// reminder) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConstraintViolation indicates a domain invariant was breached:
	// importance outside [0,1], progress outside [0,100], an unknown enum
	// value, or a non-positive search limit.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrToolNotFound indicates an invocation named an operation outside the
	// gateway's registered set.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolValidation indicates invocation parameters failed structural or
	// type validation before reaching the store.
	ErrToolValidation = errors.New("tool validation failed")

	// ErrExtractionParse indicates the model's extraction output could not be
	// parsed into the expected shape. It never escapes the extraction
	// pipeline; the turn is discarded instead.
	ErrExtractionParse = errors.New("extraction parse failed")

	// ErrStoreFailure indicates an underlying database failure.
	ErrStoreFailure = errors.New("store failure")

	// ErrConsolidation indicates a consolidation unit failed and was deferred
	// to the next run.
	ErrConsolidation = errors.New("consolidation failed")
)

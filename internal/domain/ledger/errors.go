// internal/domain/ledger/errors.go
package ledger

import "errors"

// Precondition violations on bucket transitions. Recoverable by the caller;
// never retried automatically.
var (
	ErrInsufficientAvailable = errors.New("ledger: insufficient available quantity")
	ErrInsufficientReserved  = errors.New("ledger: insufficient reserved quantity")
	ErrInsufficientAllocated = errors.New("ledger: insufficient allocated quantity")
	ErrInsufficientPicked    = errors.New("ledger: insufficient picked quantity")
)

var (
	// ErrDuplicateMovementReference means a movement with the same business
	// reference exists but does not match the resubmitted operation. An exact
	// match is treated as a no-op success instead.
	ErrDuplicateMovementReference = errors.New("ledger: duplicate movement reference")

	// ErrPositionLockTimeout is transient; callers may retry with backoff
	ErrPositionLockTimeout = errors.New("ledger: position lock timeout")

	// ErrPositionNotFound is returned when a position id or key does not
	// exist in the tenant partition
	ErrPositionNotFound = errors.New("ledger: stock position not found")

	// ErrPositionInactive is returned for mutations on a deactivated position
	ErrPositionInactive = errors.New("ledger: stock position is inactive")

	// ErrMovementNotFound is returned when a movement id does not exist
	ErrMovementNotFound = errors.New("ledger: movement not found")

	// ErrInvalidQuantity is returned for zero or negative operation quantities
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
)

// Reversal precondition failures
var (
	ErrReversalWindowExpired = errors.New("ledger: reversal window expired")
	ErrAlreadyReversed       = errors.New("ledger: movement already reversed")
	ErrNotReversible         = errors.New("ledger: movement is not reversible")
)

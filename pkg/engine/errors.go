package engine

import "errors"

// Engine errors. Every operation is all-or-nothing: any of these aborts the
// call with no state change committed.
var (
	ErrInvalidAsset      = errors.New("invalid asset address")
	ErrAlreadyListed     = errors.New("asset already listed")
	ErrNotListed         = errors.New("asset not listed")
	ErrInvalidInput      = errors.New("invalid input")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderInactive     = errors.New("order inactive")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrIncorrectValue    = errors.New("incorrect value supplied")
	ErrInsufficientValue = errors.New("insufficient value supplied")
	ErrTransferFailed    = errors.New("ledger transfer failed")
	ErrReentrant         = errors.New("reentrant call")
	ErrNoBalance         = errors.New("no balance to withdraw")
	ErrBatchTooLarge     = errors.New("batch exceeds size limit")

	// ErrInvariantViolated means order bookkeeping no longer balances against
	// escrowed value. It is never swallowed: the triggering operation aborts
	// and the condition is surfaced to the caller.
	ErrInvariantViolated = errors.New("order value invariant violated")
)

package domain

import "errors"

// Settlement rejection kinds. A delivery that fails with one of these leaves
// every record untouched and may be reported back to the caller.
var (
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrAccountMismatch   = errors.New("account mismatch")
	ErrInvalidOutcome    = errors.New("invalid outcome")
	ErrZeroAmount        = errors.New("zero amount")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrInvalidLength     = errors.New("invalid account data length")
	ErrDuplicateTransfer = errors.New("transfer already settled")
	ErrConflict          = errors.New("concurrent account write")
)

// ErrBumpExhausted means no bump in [0,255] produced an off-curve address
// for the given seeds. It is fatal: the address space for those seeds is
// unreachable and retrying cannot help.
var ErrBumpExhausted = errors.New("unable to find a viable program address bump")

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
)

package settlement

import (
	"errors"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
)

// State is the lifecycle position of one delivery.
type State int

const (
	Received State = iota
	Validated
	Applied
	Rejected
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Validated:
		return "validated"
	case Applied:
		return "applied"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var rejectionKinds = []struct {
	err  error
	kind string
}{
	{domain.ErrMalformedPayload, "malformed_payload"},
	{domain.ErrAccountMismatch, "account_mismatch"},
	{domain.ErrInvalidOutcome, "invalid_outcome"},
	{domain.ErrZeroAmount, "zero_amount"},
	{domain.ErrOverflow, "overflow"},
	{domain.ErrInvalidLength, "invalid_length"},
	{domain.ErrDuplicateTransfer, "duplicate_transfer"},
}

// IsRejection reports whether err means the delivery itself is unacceptable.
// Rejected deliveries leave state untouched and must not be retried.
func IsRejection(err error) bool {
	return Kind(err) != "" && !errors.Is(err, domain.ErrConflict)
}

// IsRetryable reports whether a later attempt could succeed: the records
// moved underneath the delivery.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}

// IsFatal reports whether err signals a broken derivation rather than a bad
// delivery.
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrBumpExhausted)
}

// Kind returns a stable machine-readable name for err, or "" when err is
// not a settlement outcome.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range rejectionKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, domain.ErrConflict) {
		return "conflict"
	}
	return ""
}

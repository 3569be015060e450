package fees

import "errors"

// Domain-level error values returned by the fee calculator.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidBookingID     = errors.New("invalid booking id")
	ErrDuplicateBreakdown   = errors.New("breakdown already computed")
	ErrUnknownBreakdown     = errors.New("unknown breakdown")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

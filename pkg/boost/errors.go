package boost

import "errors"

// Domain-level error values returned by the boost scheduler.
var (
	ErrInvalidScope         = errors.New("invalid boost scope")
	ErrInvalidDuration      = errors.New("invalid boost duration")
	ErrInvalidStatus        = errors.New("invalid boost status")
	ErrUnknownBoost         = errors.New("unknown boost")
	ErrBoostClosed          = errors.New("boost closed")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

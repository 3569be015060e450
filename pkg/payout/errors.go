package payout

import "errors"

// Domain-level error values returned by the payout scheduler.
var (
	ErrDuplicateBooking     = errors.New("payout already scheduled for booking")
	ErrUnknownPayout        = errors.New("unknown payout")
	ErrInvalidStatus        = errors.New("invalid payout status")
	ErrSettlementInFlight   = errors.New("settlement already in flight")
	ErrPayoutExhausted      = errors.New("payout attempts exhausted")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

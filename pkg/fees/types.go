package fees

import (
	"fmt"
	"strings"
)

// AmountCents is an integer currency amount in the smallest unit.
type AmountCents int64

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cent count.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// BookingID identifies a completed booking in the external booking subsystem.
type BookingID struct {
	value string
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// Platform rates in basis points. Commission and service fee split a
// completed booking; the hold and cancellation fees stand alone and are
// never combined with the completion split.
const (
	CommissionRateBasisPoints   int64 = 1500
	ServiceFeeRateBasisPoints   int64 = 1000
	HoldFeeRateBasisPoints      int64 = 2500
	CancellationRateBasisPoints int64 = 1500

	basisPointDenominator int64 = 10000
)

// Breakdown is the persisted fee split of one completed booking.
// CommissionCents + ServiceFeeCents + ProviderPayoutCents always equals
// GrossCents exactly.
type Breakdown struct {
	BookingID           string
	GrossCents          int64
	CommissionCents     int64
	ServiceFeeCents     int64
	ProviderPayoutCents int64
	ComputedUnixUTC     int64
}

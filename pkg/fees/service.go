package fees

import (
	"context"
	"errors"
	"fmt"
)

// Store is the persistence contract used by Service.
type Store interface {
	// InsertBreakdown persists a breakdown. A second insert for the same
	// booking surfaces as ErrDuplicateBreakdown.
	InsertBreakdown(ctx context.Context, breakdown Breakdown) (Breakdown, error)
	FindBreakdown(ctx context.Context, bookingID BookingID) (Breakdown, error)
}

// Service computes and persists fee breakdowns. The split itself is pure;
// the store only enforces once-per-booking.
type Service struct {
	store Store
	nowFn func() int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, nowFn: now}, nil
}

// Compute splits a booking's gross amount into commission, service fee,
// and provider payout. Calling twice for the same booking returns the
// stored breakdown unchanged.
func (service *Service) Compute(ctx context.Context, bookingID BookingID, grossAmount AmountCents) (Breakdown, error) {
	commission, serviceFee, providerPayout := SplitCompletion(grossAmount)
	breakdown, err := service.store.InsertBreakdown(ctx, Breakdown{
		BookingID:           bookingID.String(),
		GrossCents:          grossAmount.Int64(),
		CommissionCents:     commission,
		ServiceFeeCents:     serviceFee,
		ProviderPayoutCents: providerPayout,
		ComputedUnixUTC:     service.nowFn(),
	})
	if errors.Is(err, ErrDuplicateBreakdown) {
		return service.store.FindBreakdown(ctx, bookingID)
	}
	return breakdown, err
}

// SplitCompletion applies the completion rates to a gross amount.
// Commission and service fee round down to the cent; the provider payout
// absorbs the remainder so the three parts sum exactly to the gross.
func SplitCompletion(grossAmount AmountCents) (commissionCents, serviceFeeCents, providerPayoutCents int64) {
	gross := grossAmount.Int64()
	commissionCents = gross * CommissionRateBasisPoints / basisPointDenominator
	serviceFeeCents = gross * ServiceFeeRateBasisPoints / basisPointDenominator
	providerPayoutCents = gross - commissionCents - serviceFeeCents
	return commissionCents, serviceFeeCents, providerPayoutCents
}

// HoldFee returns the reservation-hold fee, rounded down to the cent.
// It applies at reservation time only.
func HoldFee(grossAmount AmountCents) int64 {
	return grossAmount.Int64() * HoldFeeRateBasisPoints / basisPointDenominator
}

// CancellationFee returns the cancellation fee credited to the provider,
// rounded down to the cent. It applies at cancellation time only.
func CancellationFee(grossAmount AmountCents) int64 {
	return grossAmount.Int64() * CancellationRateBasisPoints / basisPointDenominator
}

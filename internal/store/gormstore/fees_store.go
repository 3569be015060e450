package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/lumibook/monetize/pkg/fees"
	"github.com/lumibook/monetize/pkg/tokens"
	"gorm.io/gorm"
)

// Fees implements fees.Store using GORM.
type Fees struct {
	db *gorm.DB
}

// NewFees returns a fee-breakdown store backed by gorm.DB.
func NewFees(db *gorm.DB) *Fees {
	return &Fees{db: db}
}

func (store *Fees) InsertBreakdown(ctx context.Context, breakdown fees.Breakdown) (fees.Breakdown, error) {
	model := FeeBreakdown{
		BookingID:           breakdown.BookingID,
		GrossCents:          breakdown.GrossCents,
		CommissionCents:     breakdown.CommissionCents,
		ServiceFeeCents:     breakdown.ServiceFeeCents,
		ProviderPayoutCents: breakdown.ProviderPayoutCents,
		ComputedAt:          time.Unix(breakdown.ComputedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintBreakdownBooking) {
		return fees.Breakdown{}, wrapFeesError(errorCodeDuplicate, fees.ErrDuplicateBreakdown)
	}
	if err != nil {
		return fees.Breakdown{}, wrapFeesError(errorCodeInsert, err)
	}
	return mapBreakdown(model), nil
}

func (store *Fees) FindBreakdown(ctx context.Context, bookingID fees.BookingID) (fees.Breakdown, error) {
	var model FeeBreakdown
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fees.Breakdown{}, wrapFeesError(errorCodeGet, fees.ErrUnknownBreakdown)
		}
		return fees.Breakdown{}, wrapFeesError(errorCodeGet, err)
	}
	return mapBreakdown(model), nil
}

func wrapFeesError(code string, err error) error {
	return tokens.WrapError(errorOperationStore, errorSubjectBreakdown, code, err)
}

func mapBreakdown(model FeeBreakdown) fees.Breakdown {
	return fees.Breakdown{
		BookingID:           model.BookingID,
		GrossCents:          model.GrossCents,
		CommissionCents:     model.CommissionCents,
		ServiceFeeCents:     model.ServiceFeeCents,
		ProviderPayoutCents: model.ProviderPayoutCents,
		ComputedUnixUTC:     model.ComputedAt.Unix(),
	}
}

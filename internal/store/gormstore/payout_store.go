package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/lumibook/monetize/pkg/payout"
	"github.com/lumibook/monetize/pkg/tokens"
	"gorm.io/gorm"
)

// Payouts implements payout.Store using GORM.
type Payouts struct {
	db *gorm.DB
}

// NewPayouts returns a payout store backed by gorm.DB.
func NewPayouts(db *gorm.DB) *Payouts {
	return &Payouts{db: db}
}

func (store *Payouts) InsertPayout(ctx context.Context, record payout.Payout) (payout.Payout, error) {
	model := Payout{
		BookingID:     record.BookingID,
		ProviderID:    record.ProviderID,
		AmountCents:   record.AmountCents,
		Currency:      record.Currency,
		ScheduledFor:  time.Unix(record.ScheduledForUnixUTC, 0).UTC(),
		Status:        record.Status.String(),
		FailureReason: record.FailureReason,
		Attempts:      record.Attempts,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintPayoutBooking) {
		return payout.Payout{}, wrapPayoutError(errorCodeDuplicate, payout.ErrDuplicateBooking)
	}
	if err != nil {
		return payout.Payout{}, wrapPayoutError(errorCodeInsert, err)
	}
	return mapPayout(model)
}

func (store *Payouts) FindPayoutByBooking(ctx context.Context, bookingID string) (payout.Payout, error) {
	var model Payout
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payout.Payout{}, wrapPayoutError(errorCodeGet, payout.ErrUnknownPayout)
		}
		return payout.Payout{}, wrapPayoutError(errorCodeGet, err)
	}
	return mapPayout(model)
}

func (store *Payouts) GetPayout(ctx context.Context, payoutID string) (payout.Payout, error) {
	var model Payout
	err := store.db.WithContext(ctx).
		Where("payout_id = ?", payoutID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payout.Payout{}, wrapPayoutError(errorCodeGet, payout.ErrUnknownPayout)
		}
		return payout.Payout{}, wrapPayoutError(errorCodeGet, err)
	}
	return mapPayout(model)
}

func (store *Payouts) ListDue(ctx context.Context, nowUnixUTC int64) ([]payout.Payout, error) {
	now := time.Unix(nowUnixUTC, 0).UTC()
	var rows []Payout
	err := store.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", payout.StatusPending.String(), now).
		Order("scheduled_for ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapPayoutError(errorCodeList, err)
	}
	return mapPayouts(rows)
}

func (store *Payouts) ListInFlight(ctx context.Context) ([]payout.Payout, error) {
	var rows []Payout
	err := store.db.WithContext(ctx).
		Where("status = ?", payout.StatusInFlight.String()).
		Find(&rows).Error
	if err != nil {
		return nil, wrapPayoutError(errorCodeList, err)
	}
	return mapPayouts(rows)
}

func (store *Payouts) ListPayouts(ctx context.Context, providerID string) ([]payout.Payout, error) {
	var rows []Payout
	err := store.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		Order("scheduled_for DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapPayoutError(errorCodeList, err)
	}
	return mapPayouts(rows)
}

func (store *Payouts) MarkInFlight(ctx context.Context, payoutID string) error {
	result := store.db.WithContext(ctx).
		Model(&Payout{}).
		Where("payout_id = ? AND status = ?", payoutID, payout.StatusPending.String()).
		Update("status", payout.StatusInFlight.String())
	if result.Error != nil {
		return wrapPayoutError(errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		var model Payout
		lookupError := store.db.WithContext(ctx).
			Where("payout_id = ?", payoutID).
			Take(&model).Error
		if errors.Is(lookupError, gorm.ErrRecordNotFound) {
			return wrapPayoutError(errorCodeUpdateStatus, payout.ErrUnknownPayout)
		}
		return wrapPayoutError(errorCodeUpdateStatus, payout.ErrSettlementInFlight)
	}
	return nil
}

func (store *Payouts) MarkPaid(ctx context.Context, payoutID string, gatewayPayoutID string) error {
	result := store.db.WithContext(ctx).
		Model(&Payout{}).
		Where("payout_id = ? AND status = ?", payoutID, payout.StatusInFlight.String()).
		Updates(map[string]interface{}{
			"status":            payout.StatusPaid.String(),
			"gateway_payout_id": gatewayPayoutID,
			"failure_reason":    "",
		})
	if result.Error != nil {
		return wrapPayoutError(errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapPayoutError(errorCodeUpdateStatus, payout.ErrUnknownPayout)
	}
	return nil
}

func (store *Payouts) MarkRetry(ctx context.Context, payoutID string, attempts int, failureReason string) error {
	return store.settleBack(ctx, payoutID, payout.StatusPending, attempts, failureReason)
}

func (store *Payouts) MarkFailed(ctx context.Context, payoutID string, attempts int, failureReason string) error {
	return store.settleBack(ctx, payoutID, payout.StatusFailed, attempts, failureReason)
}

func (store *Payouts) settleBack(ctx context.Context, payoutID string, to payout.Status, attempts int, failureReason string) error {
	result := store.db.WithContext(ctx).
		Model(&Payout{}).
		Where("payout_id = ? AND status = ?", payoutID, payout.StatusInFlight.String()).
		Updates(map[string]interface{}{
			"status":         to.String(),
			"attempts":       attempts,
			"failure_reason": failureReason,
		})
	if result.Error != nil {
		return wrapPayoutError(errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapPayoutError(errorCodeUpdateStatus, payout.ErrUnknownPayout)
	}
	return nil
}

func wrapPayoutError(code string, err error) error {
	return tokens.WrapError(errorOperationStore, errorSubjectPayout, code, err)
}

func mapPayout(model Payout) (payout.Payout, error) {
	status, err := payout.ParseStatus(model.Status)
	if err != nil {
		return payout.Payout{}, wrapPayoutError(errorCodeInvalid, err)
	}
	return payout.Payout{
		PayoutID:            model.PayoutID,
		BookingID:           model.BookingID,
		ProviderID:          model.ProviderID,
		AmountCents:         model.AmountCents,
		Currency:            model.Currency,
		ScheduledForUnixUTC: model.ScheduledFor.Unix(),
		Status:              status,
		FailureReason:       model.FailureReason,
		Attempts:            model.Attempts,
		GatewayPayoutID:     model.GatewayPayoutID,
	}, nil
}

func mapPayouts(rows []Payout) ([]payout.Payout, error) {
	listed := make([]payout.Payout, 0, len(rows))
	for _, row := range rows {
		record, err := mapPayout(row)
		if err != nil {
			return nil, err
		}
		listed = append(listed, record)
	}
	return listed, nil
}

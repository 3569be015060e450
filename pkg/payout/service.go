package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumibook/monetize/pkg/fees"
	"github.com/lumibook/monetize/pkg/tokens"
)

const (
	defaultDelaySeconds   int64 = 24 * 60 * 60
	defaultMaxAttempts          = 5
	defaultGatewayTimeout       = 10 * time.Second
	defaultCurrency             = "usd"
)

// Store is the persistence contract used by Service.
type Store interface {
	// InsertPayout persists a payout. A second insert for the same booking
	// surfaces as ErrDuplicateBooking.
	InsertPayout(ctx context.Context, record Payout) (Payout, error)
	FindPayoutByBooking(ctx context.Context, bookingID string) (Payout, error)
	GetPayout(ctx context.Context, payoutID string) (Payout, error)
	ListDue(ctx context.Context, nowUnixUTC int64) ([]Payout, error)
	ListInFlight(ctx context.Context) ([]Payout, error)
	ListPayouts(ctx context.Context, providerID string) ([]Payout, error)
	// MarkInFlight performs the guarded pending to in_flight transition;
	// a row not in pending surfaces as ErrSettlementInFlight.
	MarkInFlight(ctx context.Context, payoutID string) error
	MarkPaid(ctx context.Context, payoutID string, gatewayPayoutID string) error
	// MarkRetry returns an in_flight payout to pending with the attempt
	// count and failure reason recorded.
	MarkRetry(ctx context.Context, payoutID string, attempts int, failureReason string) error
	MarkFailed(ctx context.Context, payoutID string, attempts int, failureReason string) error
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithDelay overrides the completion-to-settlement delay.
func WithDelay(delay time.Duration) ServiceOption {
	return func(service *Service) {
		service.delaySeconds = int64(delay / time.Second)
	}
}

// WithMaxAttempts overrides the retry budget.
func WithMaxAttempts(maxAttempts int) ServiceOption {
	return func(service *Service) {
		service.maxAttempts = maxAttempts
	}
}

// WithGatewayTimeout overrides the per-call gateway timeout.
func WithGatewayTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		service.gatewayTimeout = timeout
	}
}

// WithCurrency overrides the settlement currency.
func WithCurrency(currency string) ServiceOption {
	return func(service *Service) {
		service.currency = currency
	}
}

// Service schedules, settles, and retries provider payouts against the
// external payment gateway.
type Service struct {
	store          Store
	gateway        Gateway
	nowFn          func() int64
	delaySeconds   int64
	maxAttempts    int
	gatewayTimeout time.Duration
	currency       string
}

// NewService wires a Service.
func NewService(store Store, gateway Gateway, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: gateway dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:          store,
		gateway:        gateway,
		nowFn:          now,
		delaySeconds:   defaultDelaySeconds,
		maxAttempts:    defaultMaxAttempts,
		gatewayTimeout: defaultGatewayTimeout,
		currency:       defaultCurrency,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.maxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts must be positive", ErrInvalidServiceConfig)
	}
	return service, nil
}

// Schedule creates the payout for a completed booking's provider share,
// due after the settlement delay. Scheduling the same booking again
// returns the stored payout unchanged.
func (service *Service) Schedule(ctx context.Context, breakdown fees.Breakdown, providerID tokens.ProviderID, completedUnixUTC int64) (Payout, error) {
	record, err := service.store.InsertPayout(ctx, Payout{
		BookingID:           breakdown.BookingID,
		ProviderID:          providerID.String(),
		AmountCents:         breakdown.ProviderPayoutCents,
		Currency:            service.currency,
		ScheduledForUnixUTC: completedUnixUTC + service.delaySeconds,
		Status:              StatusPending,
	})
	if errors.Is(err, ErrDuplicateBooking) {
		return service.store.FindPayoutByBooking(ctx, breakdown.BookingID)
	}
	return record, err
}

// DueForSettlement returns pending payouts whose scheduled time has passed.
func (service *Service) DueForSettlement(ctx context.Context, nowUnixUTC int64) ([]Payout, error) {
	return service.store.ListDue(ctx, nowUnixUTC)
}

// AttemptSettlement drives one payout through a settlement attempt. The
// payout moves to in_flight before the gateway call is issued, so a crash
// mid-call leaves a reconcilable row rather than a double-payment risk.
// A gateway failure (timeouts included) counts against the retry budget;
// the exhausted attempt ends in the terminal failed state and surfaces
// ErrPayoutExhausted.
func (service *Service) AttemptSettlement(ctx context.Context, record Payout) (Payout, error) {
	if err := service.store.MarkInFlight(ctx, record.PayoutID); err != nil {
		return Payout{}, err
	}
	record.Status = StatusInFlight

	callCtx, cancel := context.WithTimeout(ctx, service.gatewayTimeout)
	defer cancel()
	receipt, gatewayError := service.gateway.SendPayout(callCtx, Request{
		Reference:   record.PayoutID,
		ProviderID:  record.ProviderID,
		AmountCents: record.AmountCents,
		Currency:    record.Currency,
	})
	if gatewayError == nil {
		if err := service.store.MarkPaid(ctx, record.PayoutID, receipt.GatewayPayoutID); err != nil {
			return Payout{}, err
		}
		record.Status = StatusPaid
		record.GatewayPayoutID = receipt.GatewayPayoutID
		record.FailureReason = ""
		return record, nil
	}

	attempts := record.Attempts + 1
	reason := gatewayError.Error()
	if attempts >= service.maxAttempts {
		if err := service.store.MarkFailed(ctx, record.PayoutID, attempts, reason); err != nil {
			return Payout{}, err
		}
		record.Status = StatusFailed
		record.Attempts = attempts
		record.FailureReason = reason
		return record, fmt.Errorf("%w: %s", ErrPayoutExhausted, reason)
	}
	if err := service.store.MarkRetry(ctx, record.PayoutID, attempts, reason); err != nil {
		return Payout{}, err
	}
	record.Status = StatusPending
	record.Attempts = attempts
	record.FailureReason = reason
	return record, nil
}

// ReconcileInFlight resolves payouts stranded in_flight by a crash: the
// gateway is asked what it saw for each reference instead of the call
// being blindly retried. Unreachable gateways leave the row in_flight for
// the next pass.
func (service *Service) ReconcileInFlight(ctx context.Context) ([]Payout, error) {
	inFlight, err := service.store.ListInFlight(ctx)
	if err != nil {
		return nil, err
	}
	reconciled := make([]Payout, 0, len(inFlight))
	for _, record := range inFlight {
		callCtx, cancel := context.WithTimeout(ctx, service.gatewayTimeout)
		report, statusError := service.gateway.PayoutStatus(callCtx, record.PayoutID)
		cancel()
		if statusError != nil {
			continue
		}
		switch report.State {
		case GatewayStatePaid:
			if err := service.store.MarkPaid(ctx, record.PayoutID, report.GatewayPayoutID); err != nil {
				return reconciled, err
			}
			record.Status = StatusPaid
			record.GatewayPayoutID = report.GatewayPayoutID
		case GatewayStateFailed:
			attempts := record.Attempts + 1
			reason := "gateway reported failure during reconciliation"
			if attempts >= service.maxAttempts {
				if err := service.store.MarkFailed(ctx, record.PayoutID, attempts, reason); err != nil {
					return reconciled, err
				}
				record.Status = StatusFailed
			} else {
				if err := service.store.MarkRetry(ctx, record.PayoutID, attempts, reason); err != nil {
					return reconciled, err
				}
				record.Status = StatusPending
			}
			record.Attempts = attempts
			record.FailureReason = reason
		case GatewayStateUnknown:
			// The call never reached the gateway; safe to retry without
			// burning an attempt.
			if err := service.store.MarkRetry(ctx, record.PayoutID, record.Attempts, "reconciled: gateway never received payout"); err != nil {
				return reconciled, err
			}
			record.Status = StatusPending
		}
		reconciled = append(reconciled, record)
	}
	return reconciled, nil
}

// ListPayouts lists a provider's payouts for the dashboard.
func (service *Service) ListPayouts(ctx context.Context, providerID tokens.ProviderID) ([]Payout, error) {
	return service.store.ListPayouts(ctx, providerID.String())
}

// MaxAttempts exposes the retry budget.
func (service *Service) MaxAttempts() int {
	return service.maxAttempts
}

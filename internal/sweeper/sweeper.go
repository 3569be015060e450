// Package sweeper owns the periodic background pass that expires boosts
// and settles due payouts. Expiry is a wall-clock comparison, so a paused
// sweeper only ever makes boosts expire late, never early.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/lumibook/monetize/internal/notify"
	"github.com/lumibook/monetize/pkg/boost"
	"github.com/lumibook/monetize/pkg/payout"
	"go.uber.org/zap"
)

const defaultInterval = time.Minute

// Config configures a Sweeper.
type Config struct {
	Interval time.Duration
}

// Sweeper drives boost expiry and payout settlement on a fixed cadence.
type Sweeper struct {
	boosts   *boost.Service
	payouts  *payout.Service
	emitter  notify.Emitter
	logger   *zap.Logger
	nowFn    func() int64
	interval time.Duration
}

// New wires a Sweeper.
func New(boosts *boost.Service, payouts *payout.Service, emitter notify.Emitter, logger *zap.Logger, now func() int64, cfg Config) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		boosts:   boosts,
		payouts:  payouts,
		emitter:  emitter,
		logger:   logger,
		nowFn:    now,
		interval: interval,
	}
}

// Run reconciles stranded settlements once, then sweeps until the context
// is cancelled. Request handling never blocks on this loop.
func (sweeper *Sweeper) Run(ctx context.Context) error {
	if reconciled, err := sweeper.payouts.ReconcileInFlight(ctx); err != nil {
		sweeper.logger.Error("payout reconciliation failed", zap.Error(err))
	} else if len(reconciled) > 0 {
		sweeper.logger.Info("reconciled in-flight payouts", zap.Int("count", len(reconciled)))
	}

	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweeper.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep pass. Exported so tests can drive the
// sweep deterministically with an injected clock.
func (sweeper *Sweeper) RunOnce(ctx context.Context) {
	now := sweeper.nowFn()
	sweeper.expireBoosts(ctx, now)
	sweeper.settlePayouts(ctx, now)
}

func (sweeper *Sweeper) expireBoosts(ctx context.Context, nowUnixUTC int64) {
	expired, err := sweeper.boosts.ExpireDue(ctx, nowUnixUTC)
	if err != nil {
		sweeper.logger.Error("boost expiry sweep failed", zap.Error(err))
		return
	}
	for _, record := range expired {
		sweeper.emitter.Emit(ctx, notify.Event{
			Kind:       notify.KindBoostExpired,
			ProviderID: record.ProviderID,
			Payload: map[string]any{
				"boost_id": record.BoostID,
				"scope":    record.Scope.String(),
			},
		})
	}
}

func (sweeper *Sweeper) settlePayouts(ctx context.Context, nowUnixUTC int64) {
	due, err := sweeper.payouts.DueForSettlement(ctx, nowUnixUTC)
	if err != nil {
		sweeper.logger.Error("payout due scan failed", zap.Error(err))
		return
	}
	for _, record := range due {
		settled, settleError := sweeper.payouts.AttemptSettlement(ctx, record)
		switch {
		case settleError == nil && settled.Status == payout.StatusPaid:
			sweeper.emitter.Emit(ctx, notify.Event{
				Kind:       notify.KindPayoutPaid,
				ProviderID: settled.ProviderID,
				Payload: map[string]any{
					"payout_id":         settled.PayoutID,
					"booking_id":        settled.BookingID,
					"amount_cents":      settled.AmountCents,
					"gateway_payout_id": settled.GatewayPayoutID,
				},
			})
		case errors.Is(settleError, payout.ErrPayoutExhausted):
			// Terminal: the operator queue hears about it, never silence.
			sweeper.logger.Error("payout exhausted",
				zap.String("payout_id", settled.PayoutID),
				zap.String("booking_id", settled.BookingID),
				zap.String("failure_reason", settled.FailureReason),
			)
			sweeper.emitter.Emit(ctx, notify.Event{
				Kind:       notify.KindPayoutFailed,
				ProviderID: settled.ProviderID,
				Payload: map[string]any{
					"payout_id":      settled.PayoutID,
					"booking_id":     settled.BookingID,
					"failure_reason": settled.FailureReason,
					"attempts":       settled.Attempts,
				},
			})
		case errors.Is(settleError, payout.ErrSettlementInFlight):
			// Another pass already owns this payout.
		case settleError != nil:
			sweeper.logger.Error("payout settlement failed",
				zap.String("payout_id", record.PayoutID),
				zap.Error(settleError),
			)
		default:
			// Retryable failure: the payout is back in pending for the
			// next pass.
			sweeper.logger.Warn("payout attempt failed, will retry",
				zap.String("payout_id", settled.PayoutID),
				zap.Int("attempts", settled.Attempts),
				zap.String("failure_reason", settled.FailureReason),
			)
		}
	}
}

// Package notify emits monetization events toward the platform's
// notification subsystem. Emission is fire-and-forget: a lost notification
// never blocks or fails a ledger operation.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Kind enumerates emitted notification kinds.
type Kind string

const (
	KindBoostExpired        Kind = "boost_expired"
	KindPayoutScheduled     Kind = "payout_scheduled"
	KindPayoutPaid          Kind = "payout_paid"
	KindPayoutFailed        Kind = "payout_failed"
	KindInsufficientBalance Kind = "insufficient_balance"
)

// Event is one outbound notification.
type Event struct {
	Kind       Kind
	ProviderID string
	Payload    map[string]any
}

// Emitter delivers events best-effort.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// LogEmitter writes events to the service log. It stands in for the real
// notification subsystem, which consumes these events out-of-process.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter returns a LogEmitter.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the event.
func (emitter *LogEmitter) Emit(_ context.Context, event Event) {
	emitter.logger.Info("notification",
		zap.String("kind", string(event.Kind)),
		zap.String("provider_id", event.ProviderID),
		zap.Any("payload", event.Payload),
	)
}

var _ Emitter = (*LogEmitter)(nil)

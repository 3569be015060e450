// Package gateway provides payment-gateway client implementations. The
// production processor lives outside this service; the stub stands in for
// local runs and keeps the outbound contract honest.
package gateway

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lumibook/monetize/pkg/payout"
	"go.uber.org/zap"
)

// Stub is an in-process payment gateway. It acknowledges every payout and
// remembers what it saw per reference, so reconciliation behaves like the
// real processor's status endpoint.
type Stub struct {
	mutex  sync.Mutex
	logger *zap.Logger
	seen   map[string]payout.StateReport

	// FailNext makes the next N SendPayout calls report the gateway as
	// unavailable. Useful for exercising the retry path locally.
	FailNext int
}

// NewStub returns a Stub gateway.
func NewStub(logger *zap.Logger) *Stub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stub{
		logger: logger,
		seen:   map[string]payout.StateReport{},
	}
}

// SendPayout acknowledges a payout with a fresh gateway id.
func (stub *Stub) SendPayout(_ context.Context, request payout.Request) (payout.Receipt, error) {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	if stub.FailNext > 0 {
		stub.FailNext--
		stub.seen[request.Reference] = payout.StateReport{State: payout.GatewayStateFailed}
		return payout.Receipt{}, payout.ErrGatewayUnavailable
	}
	if report, exists := stub.seen[request.Reference]; exists && report.State == payout.GatewayStatePaid {
		// Same reference, same answer: the processor deduplicates on it.
		return payout.Receipt{GatewayPayoutID: report.GatewayPayoutID}, nil
	}
	gatewayPayoutID := uuid.NewString()
	stub.seen[request.Reference] = payout.StateReport{
		State:           payout.GatewayStatePaid,
		GatewayPayoutID: gatewayPayoutID,
	}
	stub.logger.Info("stub gateway payout",
		zap.String("reference", request.Reference),
		zap.String("provider_id", request.ProviderID),
		zap.Int64("amount_cents", request.AmountCents),
		zap.String("currency", request.Currency),
	)
	return payout.Receipt{GatewayPayoutID: gatewayPayoutID}, nil
}

// PayoutStatus reports what the stub saw for a reference.
func (stub *Stub) PayoutStatus(_ context.Context, reference string) (payout.StateReport, error) {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	report, exists := stub.seen[reference]
	if !exists {
		return payout.StateReport{State: payout.GatewayStateUnknown}, nil
	}
	return report, nil
}

var _ payout.Gateway = (*Stub)(nil)

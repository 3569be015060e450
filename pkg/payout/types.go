package payout

import (
	"context"
	"fmt"
)

// Status is the payout lifecycle state. pending moves to in_flight when a
// settlement attempt starts; paid and failed are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusInFlight Status = "in_flight"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
)

// String returns the status label.
func (status Status) String() string {
	return string(status)
}

// ParseStatus validates a stored status label.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusInFlight, StatusPaid, StatusFailed:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Payout tracks settlement of a provider's share of one completed booking.
type Payout struct {
	PayoutID            string
	BookingID           string
	ProviderID          string
	AmountCents         int64
	Currency            string
	ScheduledForUnixUTC int64
	Status              Status
	FailureReason       string
	Attempts            int
	GatewayPayoutID     string
}

// Request describes an outbound gateway payout call. Reference is this
// service's payout id; the gateway keys its own idempotency on it, which
// makes a crashed call reconcilable by reference.
type Request struct {
	Reference   string
	ProviderID  string
	AmountCents int64
	Currency    string
}

// Receipt is the gateway's acknowledgement of an accepted payout.
type Receipt struct {
	GatewayPayoutID string
}

// GatewayState is the gateway's view of a previously referenced payout.
type GatewayState string

const (
	GatewayStatePaid    GatewayState = "paid"
	GatewayStateFailed  GatewayState = "failed"
	GatewayStateUnknown GatewayState = "unknown"
)

// StateReport carries the gateway's status answer during reconciliation.
type StateReport struct {
	State           GatewayState
	GatewayPayoutID string
}

// Gateway is the external payment processor contract.
type Gateway interface {
	SendPayout(ctx context.Context, request Request) (Receipt, error)
	PayoutStatus(ctx context.Context, reference string) (StateReport, error)
}

package boost

import (
	"context"
	"fmt"

	"github.com/lumibook/monetize/pkg/tokens"
)

// Ledger is the token-ledger contract the scheduler debits against.
type Ledger interface {
	Debit(ctx context.Context, providerID tokens.ProviderID, amount tokens.TokenAmount, reason tokens.TransactionReason, metadata tokens.MetadataJSON) (tokens.Transaction, error)
}

// Store is the persistence contract used by Service.
type Store interface {
	InsertBoost(ctx context.Context, record Boost) (Boost, error)
	GetBoost(ctx context.Context, boostID string) (Boost, error)
	// ListActiveBoosts returns boosts whose active window covers the instant.
	ListActiveBoosts(ctx context.Context, providerID tokens.ProviderID, atUnixUTC int64) ([]Boost, error)
	// ExpireDue flips active boosts whose end has passed and returns the
	// ones flipped by this call. The transition is a guarded update so
	// concurrent sweeps never report the same boost twice.
	ExpireDue(ctx context.Context, nowUnixUTC int64) ([]Boost, error)
	// SetStatus performs a guarded status transition.
	SetStatus(ctx context.Context, boostID string, from Status, to Status) error
	ListBoosts(ctx context.Context, providerID tokens.ProviderID) ([]Boost, error)
}

// Service converts token debits into time-bound visibility boosts and
// exposes the ranking signal the search subsystem consumes.
type Service struct {
	store  Store
	ledger Ledger
	nowFn  func() int64
}

// NewService wires a Service.
func NewService(store Store, ledger Ledger, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, ledger: ledger, nowFn: now}, nil
}

// Activate debits the boost cost and records an immediately-active boost.
// A failed debit propagates unchanged and no boost is created.
func (service *Service) Activate(ctx context.Context, providerID tokens.ProviderID, scope Scope, durationHours int64) (Boost, error) {
	cost, err := CostFor(scope, durationHours)
	if err != nil {
		return Boost{}, err
	}
	amount, err := tokens.NewTokenAmount(cost)
	if err != nil {
		return Boost{}, err
	}
	metadata, err := tokens.NewMetadataJSON(fmt.Sprintf(`{"scope":%q,"duration_hours":%d}`, scope.String(), durationHours))
	if err != nil {
		return Boost{}, err
	}
	if _, err := service.ledger.Debit(ctx, providerID, amount, tokens.ReasonBoostSpend, metadata); err != nil {
		return Boost{}, err
	}
	startUnixUTC := service.nowFn()
	return service.store.InsertBoost(ctx, Boost{
		ProviderID:   providerID.String(),
		Scope:        scope,
		TokensSpent:  cost,
		StartUnixUTC: startUnixUTC,
		EndUnixUTC:   startUnixUTC + durationHours*secondsPerHour,
		Status:       StatusActive,
	})
}

// CurrentMultiplier returns the ranking weight of the widest-scope active
// boost, or the neutral weight when none is active. Stacked boosts never
// compound: the highest-priority scope wins outright.
func (service *Service) CurrentMultiplier(ctx context.Context, providerID tokens.ProviderID) (float64, error) {
	active, err := service.store.ListActiveBoosts(ctx, providerID, service.nowFn())
	if err != nil {
		return 0, err
	}
	multiplier := NeutralMultiplier
	bestPriority := 0
	for _, record := range active {
		if priority := Priority(record.Scope); priority > bestPriority {
			bestPriority = priority
			multiplier = Multiplier(record.Scope)
		}
	}
	return multiplier, nil
}

// ExpireDue transitions boosts past their end time to expired and returns
// the ones flipped by this pass. Safe to call repeatedly and concurrently.
func (service *Service) ExpireDue(ctx context.Context, nowUnixUTC int64) ([]Boost, error) {
	return service.store.ExpireDue(ctx, nowUnixUTC)
}

// Cancel is an administrative override. Spent tokens are not returned:
// they are treated as consumed at purchase time.
func (service *Service) Cancel(ctx context.Context, boostID string) (Boost, error) {
	record, err := service.store.GetBoost(ctx, boostID)
	if err != nil {
		return Boost{}, err
	}
	if record.Status.Terminal() {
		return Boost{}, fmt.Errorf("%w: %s", ErrBoostClosed, record.Status)
	}
	if err := service.store.SetStatus(ctx, boostID, record.Status, StatusCancelled); err != nil {
		return Boost{}, err
	}
	record.Status = StatusCancelled
	return record, nil
}

// ListBoosts lists a provider's boosts for the dashboard.
func (service *Service) ListBoosts(ctx context.Context, providerID tokens.ProviderID) ([]Boost, error) {
	return service.store.ListBoosts(ctx, providerID)
}

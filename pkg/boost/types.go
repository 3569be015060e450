package boost

import "fmt"

// Scope is the geographic reach of a visibility boost. The set is closed;
// cost, priority, and ranking weight are static per-scope tables.
type Scope string

const (
	ScopeLocal    Scope = "local"
	ScopeCity     Scope = "city"
	ScopeState    Scope = "state"
	ScopeFeatured Scope = "featured"
)

// String returns the scope label.
func (scope Scope) String() string {
	return string(scope)
}

// ParseScope validates a scope label.
func ParseScope(raw string) (Scope, error) {
	switch Scope(raw) {
	case ScopeLocal, ScopeCity, ScopeState, ScopeFeatured:
		return Scope(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
}

var scopeCostPerDay = map[Scope]int64{
	ScopeLocal:    10,
	ScopeCity:     25,
	ScopeState:    50,
	ScopeFeatured: 100,
}

var scopePriority = map[Scope]int{
	ScopeLocal:    1,
	ScopeCity:     2,
	ScopeState:    3,
	ScopeFeatured: 4,
}

var scopeMultiplier = map[Scope]float64{
	ScopeLocal:    1.5,
	ScopeCity:     2.0,
	ScopeState:    3.0,
	ScopeFeatured: 4.0,
}

// CostPerDay returns the token cost of one 24h window at the given scope.
func CostPerDay(scope Scope) int64 {
	return scopeCostPerDay[scope]
}

// Priority orders scopes widest-first; a wider scope always outranks a
// narrower one when several boosts are active at once.
func Priority(scope Scope) int {
	return scopePriority[scope]
}

// Multiplier returns the search-ranking weight applied while a boost at the
// given scope is active.
func Multiplier(scope Scope) float64 {
	return scopeMultiplier[scope]
}

// NeutralMultiplier is the ranking weight of a provider with no active boost.
const NeutralMultiplier = 1.0

// Status is the boost lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// String returns the status label.
func (status Status) String() string {
	return string(status)
}

// ParseStatus validates a stored status label.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusScheduled, StatusActive, StatusExpired, StatusCancelled:
		return Status(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Terminal reports whether the status admits no further transitions.
func (status Status) Terminal() bool {
	return status == StatusExpired || status == StatusCancelled
}

// Boost is a purchased, time-bound visibility increase.
type Boost struct {
	BoostID      string
	ProviderID   string
	Scope        Scope
	TokensSpent  int64
	StartUnixUTC int64
	EndUnixUTC   int64
	Status       Status
}

// CostFor computes the token cost of a boost: the per-day rate times the
// number of started 24h windows.
func CostFor(scope Scope, durationHours int64) (int64, error) {
	if durationHours <= 0 {
		return 0, fmt.Errorf("%w: %d hours", ErrInvalidDuration, durationHours)
	}
	days := (durationHours + hoursPerDay - 1) / hoursPerDay
	return CostPerDay(scope) * days, nil
}

const (
	hoursPerDay    int64 = 24
	secondsPerHour int64 = 3600
)

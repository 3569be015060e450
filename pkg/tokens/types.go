package tokens

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TokenAmount is a strictly positive quantity of promotional tokens.
type TokenAmount int64

// ProviderID identifies a service provider's token account.
type ProviderID struct {
	value string
}

// EventID identifies an inbound payment-gateway event and scopes
// duplicate detection for purchase credits.
type EventID struct {
	value string
}

// MetadataJSON stores arbitrary context captured with a transaction.
type MetadataJSON struct {
	value string
}

// NewProviderID validates and normalizes a provider id.
func NewProviderID(raw string) (ProviderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ProviderID{}, fmt.Errorf("%w: empty value", ErrInvalidProviderID)
	}
	return ProviderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ProviderID) String() string {
	return id.value
}

// NewEventID validates and normalizes an external event id.
func NewEventID(raw string) (EventID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return EventID{}, fmt.Errorf("%w: empty value", ErrInvalidEventID)
	}
	return EventID{value: trimmed}, nil
}

// String returns the normalized event id.
func (id EventID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewTokenAmount validates an amount and ensures it is strictly positive.
func NewTokenAmount(raw int64) (TokenAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return TokenAmount(raw), nil
}

// Int64 returns the raw token count.
func (amount TokenAmount) Int64() int64 {
	return int64(amount)
}

// TransactionKind distinguishes balance-increasing from balance-decreasing entries.
type TransactionKind string

const (
	KindCredit TransactionKind = "credit"
	KindDebit  TransactionKind = "debit"
)

// String returns the kind label.
func (kind TransactionKind) String() string {
	return string(kind)
}

// ParseTransactionKind validates a stored kind label.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(raw) {
	case KindCredit, KindDebit:
		return TransactionKind(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// TransactionReason records why a balance changed.
type TransactionReason string

const (
	ReasonPurchase   TransactionReason = "purchase"
	ReasonBoostSpend TransactionReason = "boost_spend"
	ReasonRefund     TransactionReason = "refund"
	ReasonAdjustment TransactionReason = "adjustment"
)

// String returns the reason label.
func (reason TransactionReason) String() string {
	return string(reason)
}

// ParseTransactionReason validates a stored reason label.
func ParseTransactionReason(raw string) (TransactionReason, error) {
	switch TransactionReason(raw) {
	case ReasonPurchase, ReasonBoostSpend, ReasonRefund, ReasonAdjustment:
		return TransactionReason(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionReason, raw)
}

// Tier grades a provider's accumulated achievement points.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// String returns the tier label.
func (tier Tier) String() string {
	return string(tier)
}

// ParseTier validates a stored tier label.
func ParseTier(raw string) (Tier, error) {
	switch Tier(raw) {
	case TierBronze, TierSilver, TierGold, TierPlatinum:
		return Tier(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTier, raw)
}

// Account is the per-provider balance view.
// Balance always equals TotalPurchased minus TotalSpent and never goes negative.
type Account struct {
	ProviderID        string
	Balance           int64
	TotalPurchased    int64
	TotalSpent        int64
	AchievementPoints int64
	Tier              Tier
}

// A single immutable line in the token transaction log.
type Transaction struct {
	TransactionID   string
	ProviderID      string
	Kind            TransactionKind
	Amount          TokenAmount
	Reason          TransactionReason
	ExternalEventID string
	MetadataJSON    string
	CreatedUnixUTC  int64
}

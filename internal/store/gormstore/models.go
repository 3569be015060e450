package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TokenAccount mirrors the token_accounts table, one row per provider.
type TokenAccount struct {
	ProviderID        string    `gorm:"primaryKey"`
	Balance           int64     `gorm:"not null"`
	TotalPurchased    int64     `gorm:"not null"`
	TotalSpent        int64     `gorm:"not null"`
	AchievementPoints int64     `gorm:"not null"`
	Tier              string    `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

func (TokenAccount) TableName() string { return "token_accounts" }

// TokenTransaction mirrors the token_transactions table.
type TokenTransaction struct {
	TransactionID   string         `gorm:"type:uuid;primaryKey"`
	ProviderID      string         `gorm:"not null;index:idx_token_transactions_provider_created,priority:1"`
	Kind            string         `gorm:"not null"`
	Amount          int64          `gorm:"not null"`
	Reason          string         `gorm:"not null"`
	ExternalEventID *string        `gorm:"index:uniq_token_transactions_event,unique"`
	Metadata        datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt       time.Time      `gorm:"not null;index:idx_token_transactions_provider_created,priority:2"`
}

func (TokenTransaction) TableName() string { return "token_transactions" }

func (transaction *TokenTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Boost mirrors the boosts table.
type Boost struct {
	BoostID     string    `gorm:"type:uuid;primaryKey"`
	ProviderID  string    `gorm:"not null;index:idx_boosts_provider"`
	Scope       string    `gorm:"not null"`
	TokensSpent int64     `gorm:"not null"`
	StartAt     time.Time `gorm:"not null"`
	EndAt       time.Time `gorm:"not null;index:idx_boosts_status_end,priority:2"`
	Status      string    `gorm:"not null;index:idx_boosts_status_end,priority:1"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Boost) TableName() string { return "boosts" }

func (record *Boost) BeforeCreate(tx *gorm.DB) error {
	if record.BoostID == "" {
		record.BoostID = uuid.NewString()
	}
	return nil
}

// FeeBreakdown mirrors the fee_breakdowns table, one row per completed booking.
type FeeBreakdown struct {
	BookingID           string    `gorm:"primaryKey"`
	GrossCents          int64     `gorm:"not null"`
	CommissionCents     int64     `gorm:"not null"`
	ServiceFeeCents     int64     `gorm:"not null"`
	ProviderPayoutCents int64     `gorm:"not null"`
	ComputedAt          time.Time `gorm:"not null"`
}

func (FeeBreakdown) TableName() string { return "fee_breakdowns" }

// Payout mirrors the payouts table.
type Payout struct {
	PayoutID        string    `gorm:"type:uuid;primaryKey"`
	BookingID       string    `gorm:"not null;index:uniq_payouts_booking,unique"`
	ProviderID      string    `gorm:"not null;index:idx_payouts_provider"`
	AmountCents     int64     `gorm:"not null"`
	Currency        string    `gorm:"not null"`
	ScheduledFor    time.Time `gorm:"not null;index:idx_payouts_status_scheduled,priority:2"`
	Status          string    `gorm:"not null;index:idx_payouts_status_scheduled,priority:1"`
	FailureReason   string    `gorm:""`
	Attempts        int       `gorm:"not null"`
	GatewayPayoutID string    `gorm:""`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

func (Payout) TableName() string { return "payouts" }

func (record *Payout) BeforeCreate(tx *gorm.DB) error {
	if record.PayoutID == "" {
		record.PayoutID = uuid.NewString()
	}
	return nil
}

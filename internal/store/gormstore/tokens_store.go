package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/lumibook/monetize/pkg/tokens"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tokens implements tokens.Store using GORM.
type Tokens struct {
	db *gorm.DB
}

// NewTokens returns a token-ledger store backed by gorm.DB.
func NewTokens(db *gorm.DB) *Tokens {
	return &Tokens{db: db}
}

// WithTx executes fn within a transaction.
func (store *Tokens) WithTx(ctx context.Context, fn func(ctx context.Context, txStore tokens.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Tokens{db: transaction})
	})
}

func (store *Tokens) GetOrCreateAccount(ctx context.Context, providerID tokens.ProviderID) (tokens.Account, error) {
	var model TokenAccount
	err := store.db.WithContext(ctx).
		Where(TokenAccount{ProviderID: providerID.String()}).
		Attrs(TokenAccount{Tier: tokens.TierBronze.String()}).
		FirstOrCreate(&model).Error
	if err != nil {
		return tokens.Account{}, wrapTokensError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapTokenAccount(model)
}

func (store *Tokens) GetAccountForUpdate(ctx context.Context, providerID tokens.ProviderID) (tokens.Account, error) {
	var model TokenAccount
	err := store.db.WithContext(ctx).
		Where(TokenAccount{ProviderID: providerID.String()}).
		Attrs(TokenAccount{Tier: tokens.TierBronze.String()}).
		FirstOrCreate(&model).Error
	if err != nil {
		return tokens.Account{}, wrapTokensError(errorSubjectAccount, errorCodeLookup, err)
	}
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider_id = ?", providerID.String()).
		Take(&model).Error
	if err != nil {
		return tokens.Account{}, wrapTokensError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapTokenAccount(model)
}

func (store *Tokens) UpdateAccount(ctx context.Context, account tokens.Account) error {
	result := store.db.WithContext(ctx).
		Model(&TokenAccount{}).
		Where("provider_id = ?", account.ProviderID).
		Updates(map[string]interface{}{
			"balance":            account.Balance,
			"total_purchased":    account.TotalPurchased,
			"total_spent":        account.TotalSpent,
			"achievement_points": account.AchievementPoints,
			"tier":               account.Tier.String(),
		})
	if result.Error != nil {
		return wrapTokensError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapTokensError(errorSubjectAccount, errorCodeUpdate, tokens.ErrUnknownAccount)
	}
	return nil
}

func (store *Tokens) InsertTransaction(ctx context.Context, transaction tokens.Transaction) (tokens.Transaction, error) {
	var externalEventID *string
	if transaction.ExternalEventID != "" {
		value := transaction.ExternalEventID
		externalEventID = &value
	}
	model := TokenTransaction{
		ProviderID:      transaction.ProviderID,
		Kind:            transaction.Kind.String(),
		Amount:          transaction.Amount.Int64(),
		Reason:          transaction.Reason.String(),
		ExternalEventID: externalEventID,
		Metadata:        datatypesJSON(transaction.MetadataJSON),
		CreatedAt:       time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintTransactionEvent) {
		return tokens.Transaction{}, wrapTokensError(errorSubjectTransaction, errorCodeDuplicate, tokens.ErrDuplicateEvent)
	}
	if err != nil {
		return tokens.Transaction{}, wrapTokensError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return mapTokenTransaction(model)
}

func (store *Tokens) FindTransactionByEventID(ctx context.Context, eventID tokens.EventID) (tokens.Transaction, error) {
	var model TokenTransaction
	err := store.db.WithContext(ctx).
		Where("external_event_id = ?", eventID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tokens.Transaction{}, wrapTokensError(errorSubjectTransaction, errorCodeGet, tokens.ErrUnknownAccount)
		}
		return tokens.Transaction{}, wrapTokensError(errorSubjectTransaction, errorCodeGet, err)
	}
	return mapTokenTransaction(model)
}

func (store *Tokens) ListTransactions(ctx context.Context, providerID tokens.ProviderID, beforeUnixUTC int64, limit int) ([]tokens.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []TokenTransaction
	err := store.db.WithContext(ctx).
		Where("provider_id = ? AND created_at < ?", providerID.String(), before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapTokensError(errorSubjectTransaction, errorCodeList, err)
	}

	listed := make([]tokens.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTokenTransaction(row)
		if err != nil {
			return nil, wrapTokensError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		listed = append(listed, transaction)
	}
	return listed, nil
}

func wrapTokensError(subject string, code string, err error) error {
	return tokens.WrapError(errorOperationStore, subject, code, err)
}

func mapTokenAccount(model TokenAccount) (tokens.Account, error) {
	tier, err := tokens.ParseTier(model.Tier)
	if err != nil {
		return tokens.Account{}, wrapTokensError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return tokens.Account{
		ProviderID:        model.ProviderID,
		Balance:           model.Balance,
		TotalPurchased:    model.TotalPurchased,
		TotalSpent:        model.TotalSpent,
		AchievementPoints: model.AchievementPoints,
		Tier:              tier,
	}, nil
}

func mapTokenTransaction(model TokenTransaction) (tokens.Transaction, error) {
	kind, err := tokens.ParseTransactionKind(model.Kind)
	if err != nil {
		return tokens.Transaction{}, err
	}
	reason, err := tokens.ParseTransactionReason(model.Reason)
	if err != nil {
		return tokens.Transaction{}, err
	}
	amount, err := tokens.NewTokenAmount(model.Amount)
	if err != nil {
		return tokens.Transaction{}, err
	}
	externalEventID := ""
	if model.ExternalEventID != nil {
		externalEventID = *model.ExternalEventID
	}
	return tokens.Transaction{
		TransactionID:   model.TransactionID,
		ProviderID:      model.ProviderID,
		Kind:            kind,
		Amount:          amount,
		Reason:          reason,
		ExternalEventID: externalEventID,
		MetadataJSON:    string(model.Metadata),
		CreatedUnixUTC:  model.CreatedAt.Unix(),
	}, nil
}

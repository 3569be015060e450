package tokens

import (
	"context"
	"errors"
	"fmt"
)

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// GetOrCreateAccount returns the provider's account, creating an empty
	// one on first touch.
	GetOrCreateAccount(ctx context.Context, providerID ProviderID) (Account, error)
	// GetAccountForUpdate behaves like GetOrCreateAccount but takes a
	// row-level write lock; only valid inside WithTx.
	GetAccountForUpdate(ctx context.Context, providerID ProviderID) (Account, error)
	UpdateAccount(ctx context.Context, account Account) error
	// InsertTransaction appends to the log. A duplicate external event id
	// surfaces as ErrDuplicateEvent.
	InsertTransaction(ctx context.Context, transaction Transaction) (Transaction, error)
	FindTransactionByEventID(ctx context.Context, eventID EventID) (Transaction, error)
	ListTransactions(ctx context.Context, providerID ProviderID, beforeUnixUTC int64, limit int) ([]Transaction, error)
}

// Service contains the token-ledger domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Credit increases the provider's balance and appends a credit transaction.
// When an external event id is supplied the call is idempotent: replaying the
// same event returns the stored transaction without a second balance change.
// Purchase credits award achievement points token-for-token and re-derive the
// provider's tier.
func (service *Service) Credit(ctx context.Context, providerID ProviderID, amount TokenAmount, reason TransactionReason, externalEventID *EventID, metadata MetadataJSON) (Transaction, error) {
	eventValue := ""
	if externalEventID != nil {
		eventValue = externalEventID.String()
	}
	var created Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccountForUpdate(ctx, providerID)
		if err != nil {
			return err
		}
		created, err = transactionStore.InsertTransaction(ctx, Transaction{
			ProviderID:      providerID.String(),
			Kind:            KindCredit,
			Amount:          amount,
			Reason:          reason,
			ExternalEventID: eventValue,
			MetadataJSON:    metadata.String(),
			CreatedUnixUTC:  service.nowFn(),
		})
		if err != nil {
			return err
		}
		account.Balance += amount.Int64()
		account.TotalPurchased += amount.Int64()
		if reason == ReasonPurchase {
			account.AchievementPoints += amount.Int64()
		}
		account.Tier = TierFor(account.AchievementPoints)
		return transactionStore.UpdateAccount(ctx, account)
	})
	if errors.Is(operationError, ErrDuplicateEvent) && externalEventID != nil {
		existing, lookupError := service.store.FindTransactionByEventID(ctx, *externalEventID)
		if lookupError == nil {
			service.logOperation(ctx, OperationLog{
				Operation:       operationCredit,
				ProviderID:      providerID,
				Amount:          amount,
				Reason:          reason,
				ExternalEventID: eventValue,
				Status:          operationStatusOK,
			})
			return existing, nil
		}
		operationError = lookupError
	}
	service.logOperation(ctx, OperationLog{
		Operation:       operationCredit,
		ProviderID:      providerID,
		Amount:          amount,
		Reason:          reason,
		ExternalEventID: eventValue,
		Error:           operationError,
	})
	return created, operationError
}

// Debit decreases the provider's balance and appends a debit transaction.
// The balance check and the decrement run as one atomic unit under the
// account's row lock; a short balance returns a ShortfallError wrapping
// ErrInsufficientBalance and leaves the account untouched.
func (service *Service) Debit(ctx context.Context, providerID ProviderID, amount TokenAmount, reason TransactionReason, metadata MetadataJSON) (Transaction, error) {
	var created Transaction
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccountForUpdate(ctx, providerID)
		if err != nil {
			return err
		}
		if account.Balance < amount.Int64() {
			return ShortfallError{Requested: amount.Int64(), Available: account.Balance}
		}
		created, err = transactionStore.InsertTransaction(ctx, Transaction{
			ProviderID:     providerID.String(),
			Kind:           KindDebit,
			Amount:         amount,
			Reason:         reason,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		})
		if err != nil {
			return err
		}
		account.Balance -= amount.Int64()
		account.TotalSpent += amount.Int64()
		return transactionStore.UpdateAccount(ctx, account)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationDebit,
		ProviderID: providerID,
		Amount:     amount,
		Reason:     reason,
		Error:      operationError,
	})
	return created, operationError
}

// Balance returns the provider's account, creating it on first touch.
func (service *Service) Balance(ctx context.Context, providerID ProviderID) (Account, error) {
	account, err := service.store.GetOrCreateAccount(ctx, providerID)
	service.logOperation(ctx, OperationLog{
		Operation:  operationBalance,
		ProviderID: providerID,
		Error:      err,
	})
	return account, err
}

// ListTransactions lists transactions for a provider before a cutoff time.
func (service *Service) ListTransactions(ctx context.Context, providerID ProviderID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	return service.store.ListTransactions(ctx, providerID, beforeUnixUTC, limit)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

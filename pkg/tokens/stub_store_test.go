package tokens

import (
	"context"
	"fmt"
	"testing"
)

// stubStore is an in-memory Store used by the service tests.
type stubStore struct {
	accounts     map[string]Account
	transactions []Transaction
	byEvent      map[string]Transaction
	nextID       int

	getAccountError  error
	insertError      error
	updateError      error
	listError        error
	findByEventError error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts: map[string]Account{},
		byEvent:  map[string]Transaction{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateAccount(_ context.Context, providerID ProviderID) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, ok := store.accounts[providerID.String()]
	if !ok {
		account = Account{ProviderID: providerID.String(), Tier: TierBronze}
		store.accounts[providerID.String()] = account
	}
	return account, nil
}

func (store *stubStore) GetAccountForUpdate(ctx context.Context, providerID ProviderID) (Account, error) {
	return store.GetOrCreateAccount(ctx, providerID)
}

func (store *stubStore) UpdateAccount(_ context.Context, account Account) error {
	if store.updateError != nil {
		return store.updateError
	}
	store.accounts[account.ProviderID] = account
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) (Transaction, error) {
	if store.insertError != nil {
		return Transaction{}, store.insertError
	}
	if transaction.ExternalEventID != "" {
		if _, exists := store.byEvent[transaction.ExternalEventID]; exists {
			return Transaction{}, ErrDuplicateEvent
		}
	}
	store.nextID++
	transaction.TransactionID = fmt.Sprintf("txn-%d", store.nextID)
	store.transactions = append(store.transactions, transaction)
	if transaction.ExternalEventID != "" {
		store.byEvent[transaction.ExternalEventID] = transaction
	}
	return transaction, nil
}

func (store *stubStore) FindTransactionByEventID(_ context.Context, eventID EventID) (Transaction, error) {
	if store.findByEventError != nil {
		return Transaction{}, store.findByEventError
	}
	transaction, ok := store.byEvent[eventID.String()]
	if !ok {
		return Transaction{}, ErrUnknownAccount
	}
	return transaction, nil
}

func (store *stubStore) ListTransactions(_ context.Context, providerID ProviderID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	if store.listError != nil {
		return nil, store.listError
	}
	listed := make([]Transaction, 0, limit)
	for index := len(store.transactions) - 1; index >= 0 && len(listed) < limit; index-- {
		transaction := store.transactions[index]
		if transaction.ProviderID != providerID.String() {
			continue
		}
		if beforeUnixUTC != 0 && transaction.CreatedUnixUTC >= beforeUnixUTC {
			continue
		}
		listed = append(listed, transaction)
	}
	return listed, nil
}

func (store *stubStore) mustAccount(test *testing.T, providerID ProviderID) Account {
	test.Helper()
	account, ok := store.accounts[providerID.String()]
	if !ok {
		test.Fatalf("expected account for %s", providerID.String())
	}
	return account
}

func mustNewService(test *testing.T, store Store) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return 1700000000 })
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustProviderID(test *testing.T, raw string) ProviderID {
	test.Helper()
	providerID, err := NewProviderID(raw)
	if err != nil {
		test.Fatalf("provider id: %v", err)
	}
	return providerID
}

func mustEventID(test *testing.T, raw string) EventID {
	test.Helper()
	eventID, err := NewEventID(raw)
	if err != nil {
		test.Fatalf("event id: %v", err)
	}
	return eventID
}

func mustTokenAmount(test *testing.T, raw int64) TokenAmount {
	test.Helper()
	amount, err := NewTokenAmount(raw)
	if err != nil {
		test.Fatalf("token amount: %v", err)
	}
	return amount
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata: %v", err)
	}
	return metadata
}

package tokens

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCreditIncreasesBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	providerID := mustProviderID(test, "provider-1")
	eventID := mustEventID(test, "evt-1")
	metadata := mustMetadata(test, "{}")

	transaction, err := service.Credit(context.Background(), providerID, mustTokenAmount(test, 100), ReasonPurchase, &eventID, metadata)
	if err != nil {
		test.Fatalf("credit: %v", err)
	}
	if transaction.Kind != KindCredit {
		test.Fatalf("expected credit transaction, got %s", transaction.Kind)
	}
	account := store.mustAccount(test, providerID)
	if account.Balance != 100 {
		test.Fatalf("expected balance 100, got %d", account.Balance)
	}
	if account.TotalPurchased != 100 {
		test.Fatalf("expected total purchased 100, got %d", account.TotalPurchased)
	}
}

func TestCreditReplayIsIdempotent(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	providerID := mustProviderID(test, "provider-1")
	eventID := mustEventID(test, "evt-1")
	metadata := mustMetadata(test, "{}")
	amount := mustTokenAmount(test, 100)

	first, err := service.Credit(context.Background(), providerID, amount, ReasonPurchase, &eventID, metadata)
	if err != nil {
		test.Fatalf("first credit: %v", err)
	}
	replay, err := service.Credit(context.Background(), providerID, amount, ReasonPurchase, &eventID, metadata)
	if err != nil {
		test.Fatalf("replayed credit: %v", err)
	}
	if replay.TransactionID != first.TransactionID {
		test.Fatalf("expected replay to return the stored transaction, got %s and %s", first.TransactionID, replay.TransactionID)
	}
	if got := len(store.transactions); got != 1 {
		test.Fatalf("expected exactly one transaction, got %d", got)
	}
	account := store.mustAccount(test, providerID)
	if account.Balance != 100 {
		test.Fatalf("expected balance 100 after replay, got %d", account.Balance)
	}
}

func TestDebitDecreasesBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	providerID := mustProviderID(test, "provider-2")
	eventID := mustEventID(test, "evt-2")
	metadata := mustMetadata(test, "{}")

	if _, err := service.Credit(context.Background(), providerID, mustTokenAmount(test, 100), ReasonPurchase, &eventID, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	transaction, err := service.Debit(context.Background(), providerID, mustTokenAmount(test, 25), ReasonBoostSpend, metadata)
	if err != nil {
		test.Fatalf("debit: %v", err)
	}
	if transaction.Kind != KindDebit {
		test.Fatalf("expected debit transaction, got %s", transaction.Kind)
	}
	account := store.mustAccount(test, providerID)
	if account.Balance != 75 {
		test.Fatalf("expected balance 75, got %d", account.Balance)
	}
	if account.TotalSpent != 25 {
		test.Fatalf("expected total spent 25, got %d", account.TotalSpent)
	}
}

func TestDebitInsufficientBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	providerID := mustProviderID(test, "provider-3")
	eventID := mustEventID(test, "evt-3")
	metadata := mustMetadata(test, "{}")

	if _, err := service.Credit(context.Background(), providerID, mustTokenAmount(test, 10), ReasonPurchase, &eventID, metadata); err != nil {
		test.Fatalf("credit: %v", err)
	}
	_, err := service.Debit(context.Background(), providerID, mustTokenAmount(test, 50), ReasonBoostSpend, metadata)
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	var shortfall ShortfallError
	if !errors.As(err, &shortfall) {
		test.Fatalf("expected ShortfallError, got %T", err)
	}
	if shortfall.Shortfall() != 40 {
		test.Fatalf("expected shortfall 40, got %d", shortfall.Shortfall())
	}
	account := store.mustAccount(test, providerID)
	if account.Balance != 10 {
		test.Fatalf("expected balance unchanged at 10, got %d", account.Balance)
	}
	if got := len(store.transactions); got != 1 {
		test.Fatalf("expected only the credit transaction, got %d", got)
	}
}

func TestBalanceInvariantHoldsAcrossSequence(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	providerID := mustProviderID(test, "provider-4")
	metadata := mustMetadata(test, "{}")

	steps := []struct {
		credit bool
		amount int64
	}{
		{credit: true, amount: 200},
		{credit: false, amount: 50},
		{credit: true, amount: 30},
		{credit: false, amount: 180},
		{credit: false, amount: 1},
	}
	for index, step := range steps {
		amount := mustTokenAmount(test, step.amount)
		var err error
		if step.credit {
			eventID := mustEventID(test, fmt.Sprintf("seq-evt-%d", index))
			_, err = service.Credit(context.Background(), providerID, amount, ReasonPurchase, &eventID, metadata)
		} else {
			_, err = service.Debit(context.Background(), providerID, amount, ReasonBoostSpend, metadata)
		}
		if err != nil {
			test.Fatalf("step %d: %v", index, err)
		}
		account := store.mustAccount(test, providerID)
		if account.Balance < 0 {
			test.Fatalf("step %d: negative balance %d", index, account.Balance)
		}
		if account.Balance != account.TotalPurchased-account.TotalSpent {
			test.Fatalf("step %d: balance %d != purchased %d - spent %d", index, account.Balance, account.TotalPurchased, account.TotalSpent)
		}
	}
}

func TestPurchaseCreditsAwardAchievementPoints(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	providerID := mustProviderID(test, "provider-5")
	metadata := mustMetadata(test, "{}")

	firstEvent := mustEventID(test, "points-evt-1")
	if _, err := service.Credit(context.Background(), providerID, mustTokenAmount(test, 120), ReasonPurchase, &firstEvent, metadata); err != nil {
		test.Fatalf("purchase credit: %v", err)
	}
	account := store.mustAccount(test, providerID)
	if account.AchievementPoints != 120 {
		test.Fatalf("expected 120 points, got %d", account.AchievementPoints)
	}
	if account.Tier != TierSilver {
		test.Fatalf("expected silver tier, got %s", account.Tier)
	}

	// Adjustments credit the balance without moving the provider's tier.
	if _, err := service.Credit(context.Background(), providerID, mustTokenAmount(test, 500), ReasonAdjustment, nil, metadata); err != nil {
		test.Fatalf("adjustment credit: %v", err)
	}
	account = store.mustAccount(test, providerID)
	if account.AchievementPoints != 120 {
		test.Fatalf("expected points unchanged at 120, got %d", account.AchievementPoints)
	}
}

type recordingOperationLogger struct {
	entries []OperationLog
}

func (logger *recordingOperationLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestBalanceLogsOperation(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recordingOperationLogger{}
	service, err := NewService(store, func() int64 { return 1700000000 }, WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("new service: %v", err)
	}

	if _, err := service.Balance(context.Background(), mustProviderID(test, "provider-1")); err != nil {
		test.Fatalf("balance: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one operation log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationBalance {
		test.Fatalf("expected %s operation, got %s", operationBalance, entry.Operation)
	}
	if entry.Status != operationStatusOK {
		test.Fatalf("expected %s status, got %s", operationStatusOK, entry.Status)
	}
}

func TestCreditReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	errStoreFailure := errors.New("store error")
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{
			name:      "account lookup error",
			configure: func(store *stubStore) { store.getAccountError = errStoreFailure },
		},
		{
			name:      "insert error",
			configure: func(store *stubStore) { store.insertError = errStoreFailure },
		},
		{
			name:      "update error",
			configure: func(store *stubStore) { store.updateError = errStoreFailure },
		},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)
			providerID := mustProviderID(test, "provider-err")
			metadata := mustMetadata(test, "{}")

			_, err := service.Credit(context.Background(), providerID, mustTokenAmount(test, 10), ReasonPurchase, nil, metadata)
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected %v, got %v", errStoreFailure, err)
			}
		})
	}
}

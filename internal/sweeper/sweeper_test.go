package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lumibook/monetize/internal/notify"
	"github.com/lumibook/monetize/pkg/boost"
	"github.com/lumibook/monetize/pkg/payout"
	"github.com/lumibook/monetize/pkg/tokens"
	"go.uber.org/zap"
)

const testNowUnixUTC int64 = 1700000000

type recordingEmitter struct {
	mutex  sync.Mutex
	events []notify.Event
}

func (emitter *recordingEmitter) Emit(_ context.Context, event notify.Event) {
	emitter.mutex.Lock()
	defer emitter.mutex.Unlock()
	emitter.events = append(emitter.events, event)
}

func (emitter *recordingEmitter) kinds() []notify.Kind {
	emitter.mutex.Lock()
	defer emitter.mutex.Unlock()
	kinds := make([]notify.Kind, 0, len(emitter.events))
	for _, event := range emitter.events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

type sweepBoostStore struct {
	mutex  sync.Mutex
	boosts map[string]boost.Boost
}

func newSweepBoostStore() *sweepBoostStore {
	return &sweepBoostStore{boosts: map[string]boost.Boost{}}
}

func (store *sweepBoostStore) InsertBoost(_ context.Context, record boost.Boost) (boost.Boost, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record.BoostID = fmt.Sprintf("boost-%d", len(store.boosts)+1)
	store.boosts[record.BoostID] = record
	return record, nil
}

func (store *sweepBoostStore) GetBoost(_ context.Context, boostID string) (boost.Boost, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, found := store.boosts[boostID]
	if !found {
		return boost.Boost{}, boost.ErrUnknownBoost
	}
	return record, nil
}

func (store *sweepBoostStore) ListActiveBoosts(_ context.Context, providerID tokens.ProviderID, atUnixUTC int64) ([]boost.Boost, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var active []boost.Boost
	for _, record := range store.boosts {
		if record.ProviderID == providerID.String() && record.Status == boost.StatusActive && record.StartUnixUTC <= atUnixUTC && record.EndUnixUTC > atUnixUTC {
			active = append(active, record)
		}
	}
	return active, nil
}

func (store *sweepBoostStore) ExpireDue(_ context.Context, nowUnixUTC int64) ([]boost.Boost, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var flipped []boost.Boost
	for boostID, record := range store.boosts {
		if record.Status == boost.StatusActive && record.EndUnixUTC <= nowUnixUTC {
			record.Status = boost.StatusExpired
			store.boosts[boostID] = record
			flipped = append(flipped, record)
		}
	}
	return flipped, nil
}

func (store *sweepBoostStore) SetStatus(_ context.Context, boostID string, from boost.Status, to boost.Status) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, found := store.boosts[boostID]
	if !found {
		return boost.ErrUnknownBoost
	}
	if record.Status != from {
		return boost.ErrBoostClosed
	}
	record.Status = to
	store.boosts[boostID] = record
	return nil
}

func (store *sweepBoostStore) ListBoosts(_ context.Context, providerID tokens.ProviderID) ([]boost.Boost, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var records []boost.Boost
	for _, record := range store.boosts {
		if record.ProviderID == providerID.String() {
			records = append(records, record)
		}
	}
	return records, nil
}

type sweepLedger struct{}

func (sweepLedger) Debit(context.Context, tokens.ProviderID, tokens.TokenAmount, tokens.TransactionReason, tokens.MetadataJSON) (tokens.Transaction, error) {
	return tokens.Transaction{}, nil
}

type sweepPayoutStore struct {
	mutex   sync.Mutex
	payouts map[string]payout.Payout
}

func newSweepPayoutStore() *sweepPayoutStore {
	return &sweepPayoutStore{payouts: map[string]payout.Payout{}}
}

func (store *sweepPayoutStore) InsertPayout(_ context.Context, record payout.Payout) (payout.Payout, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, existing := range store.payouts {
		if existing.BookingID == record.BookingID {
			return payout.Payout{}, payout.ErrDuplicateBooking
		}
	}
	record.PayoutID = fmt.Sprintf("payout-%d", len(store.payouts)+1)
	store.payouts[record.PayoutID] = record
	return record, nil
}

func (store *sweepPayoutStore) FindPayoutByBooking(_ context.Context, bookingID string) (payout.Payout, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, record := range store.payouts {
		if record.BookingID == bookingID {
			return record, nil
		}
	}
	return payout.Payout{}, payout.ErrUnknownPayout
}

func (store *sweepPayoutStore) GetPayout(_ context.Context, payoutID string) (payout.Payout, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, found := store.payouts[payoutID]
	if !found {
		return payout.Payout{}, payout.ErrUnknownPayout
	}
	return record, nil
}

func (store *sweepPayoutStore) ListDue(_ context.Context, nowUnixUTC int64) ([]payout.Payout, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var due []payout.Payout
	for _, record := range store.payouts {
		if record.Status == payout.StatusPending && record.ScheduledForUnixUTC <= nowUnixUTC {
			due = append(due, record)
		}
	}
	return due, nil
}

func (store *sweepPayoutStore) ListInFlight(_ context.Context) ([]payout.Payout, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var inFlight []payout.Payout
	for _, record := range store.payouts {
		if record.Status == payout.StatusInFlight {
			inFlight = append(inFlight, record)
		}
	}
	return inFlight, nil
}

func (store *sweepPayoutStore) ListPayouts(_ context.Context, providerID string) ([]payout.Payout, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var records []payout.Payout
	for _, record := range store.payouts {
		if record.ProviderID == providerID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (store *sweepPayoutStore) MarkInFlight(_ context.Context, payoutID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record, found := store.payouts[payoutID]
	if !found {
		return payout.ErrUnknownPayout
	}
	if record.Status != payout.StatusPending {
		return payout.ErrSettlementInFlight
	}
	record.Status = payout.StatusInFlight
	store.payouts[payoutID] = record
	return nil
}

func (store *sweepPayoutStore) MarkPaid(_ context.Context, payoutID string, gatewayPayoutID string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := store.payouts[payoutID]
	record.Status = payout.StatusPaid
	record.GatewayPayoutID = gatewayPayoutID
	record.FailureReason = ""
	store.payouts[payoutID] = record
	return nil
}

func (store *sweepPayoutStore) MarkRetry(_ context.Context, payoutID string, attempts int, failureReason string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := store.payouts[payoutID]
	record.Status = payout.StatusPending
	record.Attempts = attempts
	record.FailureReason = failureReason
	store.payouts[payoutID] = record
	return nil
}

func (store *sweepPayoutStore) MarkFailed(_ context.Context, payoutID string, attempts int, failureReason string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	record := store.payouts[payoutID]
	record.Status = payout.StatusFailed
	record.Attempts = attempts
	record.FailureReason = failureReason
	store.payouts[payoutID] = record
	return nil
}

type sweepGateway struct {
	mutex    sync.Mutex
	failWith error
	sent     []string
	reports  map[string]payout.StateReport
}

func (gateway *sweepGateway) SendPayout(_ context.Context, request payout.Request) (payout.Receipt, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	if gateway.failWith != nil {
		return payout.Receipt{}, gateway.failWith
	}
	gateway.sent = append(gateway.sent, request.Reference)
	return payout.Receipt{GatewayPayoutID: "gw-" + request.Reference}, nil
}

func (gateway *sweepGateway) PayoutStatus(_ context.Context, reference string) (payout.StateReport, error) {
	gateway.mutex.Lock()
	defer gateway.mutex.Unlock()
	report, found := gateway.reports[reference]
	if !found {
		return payout.StateReport{State: payout.GatewayStateUnknown}, nil
	}
	return report, nil
}

type sweepFixture struct {
	sweeper     *Sweeper
	boostStore  *sweepBoostStore
	payoutStore *sweepPayoutStore
	gateway     *sweepGateway
	emitter     *recordingEmitter
}

func newSweepFixture(test *testing.T, maxAttempts int) sweepFixture {
	test.Helper()
	boostStore := newSweepBoostStore()
	boostService, err := boost.NewService(boostStore, sweepLedger{}, func() int64 { return testNowUnixUTC })
	if err != nil {
		test.Fatalf("boost service: %v", err)
	}
	payoutStore := newSweepPayoutStore()
	gateway := &sweepGateway{reports: map[string]payout.StateReport{}}
	payoutService, err := payout.NewService(payoutStore, gateway, func() int64 { return testNowUnixUTC }, payout.WithMaxAttempts(maxAttempts))
	if err != nil {
		test.Fatalf("payout service: %v", err)
	}
	emitter := &recordingEmitter{}
	sweeper := New(boostService, payoutService, emitter, zap.NewNop(), func() int64 { return testNowUnixUTC }, Config{Interval: time.Minute})
	return sweepFixture{
		sweeper:     sweeper,
		boostStore:  boostStore,
		payoutStore: payoutStore,
		gateway:     gateway,
		emitter:     emitter,
	}
}

func TestRunOnceExpiresBoostsAndEmits(test *testing.T) {
	test.Parallel()
	fixture := newSweepFixture(test, 5)
	ctx := context.Background()

	expiredBoost, err := fixture.boostStore.InsertBoost(ctx, boost.Boost{
		ProviderID:   "provider-1",
		Scope:        boost.ScopeCity,
		TokensSpent:  25,
		StartUnixUTC: testNowUnixUTC - 7200,
		EndUnixUTC:   testNowUnixUTC - 3600,
		Status:       boost.StatusActive,
	})
	if err != nil {
		test.Fatalf("insert boost: %v", err)
	}
	if _, err := fixture.boostStore.InsertBoost(ctx, boost.Boost{
		ProviderID:   "provider-1",
		Scope:        boost.ScopeLocal,
		TokensSpent:  10,
		StartUnixUTC: testNowUnixUTC - 3600,
		EndUnixUTC:   testNowUnixUTC + 3600,
		Status:       boost.StatusActive,
	}); err != nil {
		test.Fatalf("insert boost: %v", err)
	}

	fixture.sweeper.RunOnce(ctx)

	if got := len(fixture.emitter.events); got != 1 {
		test.Fatalf("expected one notification, got %d: %v", got, fixture.emitter.kinds())
	}
	event := fixture.emitter.events[0]
	if event.Kind != notify.KindBoostExpired {
		test.Fatalf("expected %s, got %s", notify.KindBoostExpired, event.Kind)
	}
	if event.Payload["boost_id"] != expiredBoost.BoostID {
		test.Fatalf("expected boost %s in payload, got %v", expiredBoost.BoostID, event.Payload["boost_id"])
	}

	fixture.sweeper.RunOnce(ctx)
	if got := len(fixture.emitter.events); got != 1 {
		test.Fatalf("second sweep must not re-report the boost, got %d events", got)
	}
}

func TestRunOnceSettlesDuePayouts(test *testing.T) {
	test.Parallel()
	fixture := newSweepFixture(test, 5)
	ctx := context.Background()

	due, err := fixture.payoutStore.InsertPayout(ctx, payout.Payout{
		BookingID:           "booking-1",
		ProviderID:          "provider-1",
		AmountCents:         7500,
		Currency:            "usd",
		ScheduledForUnixUTC: testNowUnixUTC - 60,
		Status:              payout.StatusPending,
	})
	if err != nil {
		test.Fatalf("insert payout: %v", err)
	}
	if _, err := fixture.payoutStore.InsertPayout(ctx, payout.Payout{
		BookingID:           "booking-2",
		ProviderID:          "provider-1",
		AmountCents:         4200,
		Currency:            "usd",
		ScheduledForUnixUTC: testNowUnixUTC + 3600,
		Status:              payout.StatusPending,
	}); err != nil {
		test.Fatalf("insert payout: %v", err)
	}

	fixture.sweeper.RunOnce(ctx)

	settled, err := fixture.payoutStore.GetPayout(ctx, due.PayoutID)
	if err != nil {
		test.Fatalf("get payout: %v", err)
	}
	if settled.Status != payout.StatusPaid {
		test.Fatalf("expected paid, got %s", settled.Status)
	}
	if len(fixture.gateway.sent) != 1 || fixture.gateway.sent[0] != due.PayoutID {
		test.Fatalf("expected one gateway call for %s, got %v", due.PayoutID, fixture.gateway.sent)
	}
	kinds := fixture.emitter.kinds()
	if len(kinds) != 1 || kinds[0] != notify.KindPayoutPaid {
		test.Fatalf("expected single payout_paid notification, got %v", kinds)
	}
}

func TestRunOnceEmitsFailureOnExhaustedPayout(test *testing.T) {
	test.Parallel()
	fixture := newSweepFixture(test, 2)
	ctx := context.Background()
	fixture.gateway.failWith = errors.New("gateway unreachable")

	record, err := fixture.payoutStore.InsertPayout(ctx, payout.Payout{
		BookingID:           "booking-1",
		ProviderID:          "provider-1",
		AmountCents:         7500,
		Currency:            "usd",
		ScheduledForUnixUTC: testNowUnixUTC - 60,
		Status:              payout.StatusPending,
	})
	if err != nil {
		test.Fatalf("insert payout: %v", err)
	}

	fixture.sweeper.RunOnce(ctx)
	kinds := fixture.emitter.kinds()
	if len(kinds) != 0 {
		test.Fatalf("first failure is retryable, expected no notifications, got %v", kinds)
	}

	fixture.sweeper.RunOnce(ctx)
	kinds = fixture.emitter.kinds()
	if len(kinds) != 1 || kinds[0] != notify.KindPayoutFailed {
		test.Fatalf("expected payout_failed after exhaustion, got %v", kinds)
	}
	failed, err := fixture.payoutStore.GetPayout(ctx, record.PayoutID)
	if err != nil {
		test.Fatalf("get payout: %v", err)
	}
	if failed.Status != payout.StatusFailed || failed.Attempts != 2 {
		test.Fatalf("expected failed after 2 attempts, got %s attempts=%d", failed.Status, failed.Attempts)
	}
}

func TestRunReconcilesInFlightOnStartup(test *testing.T) {
	test.Parallel()
	fixture := newSweepFixture(test, 5)
	ctx, cancel := context.WithCancel(context.Background())

	record, err := fixture.payoutStore.InsertPayout(ctx, payout.Payout{
		BookingID:           "booking-1",
		ProviderID:          "provider-1",
		AmountCents:         7500,
		Currency:            "usd",
		ScheduledForUnixUTC: testNowUnixUTC - 60,
		Status:              payout.StatusPending,
	})
	if err != nil {
		test.Fatalf("insert payout: %v", err)
	}
	if err := fixture.payoutStore.MarkInFlight(ctx, record.PayoutID); err != nil {
		test.Fatalf("mark in flight: %v", err)
	}
	fixture.gateway.reports[record.PayoutID] = payout.StateReport{
		State:           payout.GatewayStatePaid,
		GatewayPayoutID: "gw-prior",
	}

	done := make(chan error, 1)
	go func() {
		done <- fixture.sweeper.Run(ctx)
	}()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		test.Fatalf("expected context.Canceled, got %v", err)
	}

	reconciled, err := fixture.payoutStore.GetPayout(context.Background(), record.PayoutID)
	if err != nil {
		test.Fatalf("get payout: %v", err)
	}
	if reconciled.Status != payout.StatusPaid || reconciled.GatewayPayoutID != "gw-prior" {
		test.Fatalf("expected reconciled paid with gateway id gw-prior, got %s %q", reconciled.Status, reconciled.GatewayPayoutID)
	}
}

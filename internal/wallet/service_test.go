package wallet

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/sagashop/orderflow/internal/saga"
)

// fakeStore serializes all mutations behind one mutex, mirroring the
// per-wallet row lock of the Postgres repo.
type fakeStore struct {
	mu      sync.Mutex
	wallets map[string]int64
	txs     map[string]*Transaction // by causal order id
}

func newFakeStore() *fakeStore {
	return &fakeStore{wallets: map[string]int64{}, txs: map[string]*Transaction{}}
}

func (f *fakeStore) Reserve(ctx context.Context, userID, orderID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if prior, ok := f.txs[orderID]; ok {
		if prior.Status == TxAccepted {
			return nil
		}
		return saga.ErrInsufficientFunds
	}
	bal, ok := f.wallets[userID]
	if !ok {
		return saga.ErrWalletNotFound
	}
	status := TxAccepted
	if bal < amount {
		status = TxRefused
	} else {
		f.wallets[userID] = bal - amount
	}
	f.txs[orderID] = &Transaction{UserID: userID, OrderID: orderID, AmountCents: amount, Status: status}
	if status == TxRefused {
		return saga.ErrInsufficientFunds
	}
	return nil
}

func (f *fakeStore) Release(ctx context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[orderID]
	if !ok || (tx.Status != TxAccepted && tx.Status != TxPending) {
		return nil
	}
	f.wallets[tx.UserID] += tx.AmountCents
	tx.Status = TxRefunded
	return nil
}

func (f *fakeStore) Recharge(ctx context.Context, userID string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[userID] += amount
	return nil
}

func (f *fakeStore) Get(ctx context.Context, userID string) (Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.wallets[userID]
	if !ok {
		return Wallet{}, saga.ErrWalletNotFound
	}
	return Wallet{UserID: userID, BalanceCents: bal}, nil
}

func (f *fakeStore) balance(userID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallets[userID]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []saga.Envelope
}

func (f *fakePublisher) Publish(key, value []byte, headers ...kafkago.Header) {
	var env saga.Envelope
	_ = json.Unmarshal(value, &env)
	f.mu.Lock()
	f.events = append(f.events, env)
	f.mu.Unlock()
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestService(fs *fakeStore) (*Service, *fakePublisher, *fakePublisher) {
	ok := &fakePublisher{}
	rb := &fakePublisher{}
	s := &Service{
		Log:              slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:            fs,
		ProducerOK:       ok,
		ProducerRollback: rb,
		ServiceName:      "test",
	}
	return s, ok, rb
}

func payload(orderID string, total int64) saga.OrderCreatedPayload {
	return saga.OrderCreatedPayload{OrderID: orderID, UserID: "u1", TotalCents: total}
}

// Scenario: balance 100.00, order total 80.00.
func TestReserveFundsAccepted(t *testing.T) {
	fs := newFakeStore()
	fs.wallets["u1"] = 10000
	s, ok, rb := newTestService(fs)

	if err := s.ReserveFunds(context.Background(), payload("o1", 8000)); err != nil {
		t.Fatal(err)
	}
	if got := fs.balance("u1"); got != 2000 {
		t.Fatalf("balance = %d, want 2000", got)
	}
	if fs.txs["o1"].Status != TxAccepted {
		t.Fatalf("tx status = %s, want ACCEPTED", fs.txs["o1"].Status)
	}
	if ok.count() != 1 || rb.count() != 0 {
		t.Fatalf("ok=%d rollback=%d", ok.count(), rb.count())
	}
}

// Scenario: balance 50.00, order total 80.00.
func TestReserveFundsRefused(t *testing.T) {
	fs := newFakeStore()
	fs.wallets["u1"] = 5000
	s, ok, rb := newTestService(fs)

	if err := s.ReserveFunds(context.Background(), payload("o1", 8000)); err != nil {
		t.Fatal(err)
	}
	if got := fs.balance("u1"); got != 5000 {
		t.Fatalf("balance changed on refusal: %d", got)
	}
	if fs.txs["o1"].Status != TxRefused {
		t.Fatalf("tx status = %s, want REFUSED", fs.txs["o1"].Status)
	}
	if ok.count() != 0 || rb.count() != 1 {
		t.Fatalf("ok=%d rollback=%d", ok.count(), rb.count())
	}
	var p saga.RollbackPayload
	_ = json.Unmarshal(rb.events[0].Payload, &p)
	if p.Reason != saga.ReasonInsufficientFunds {
		t.Fatalf("reason = %s", p.Reason)
	}
}

func TestReserveFundsNoWallet(t *testing.T) {
	fs := newFakeStore()
	s, ok, rb := newTestService(fs)

	if err := s.ReserveFunds(context.Background(), payload("o1", 100)); err != nil {
		t.Fatal(err)
	}
	if ok.count() != 0 || rb.count() != 1 {
		t.Fatalf("ok=%d rollback=%d", ok.count(), rb.count())
	}
	var p saga.RollbackPayload
	_ = json.Unmarshal(rb.events[0].Payload, &p)
	if p.Reason != saga.ReasonWalletNotFound {
		t.Fatalf("reason = %s", p.Reason)
	}
}

func TestReleaseFundsIdempotent(t *testing.T) {
	fs := newFakeStore()
	fs.wallets["u1"] = 10000
	s, _, _ := newTestService(fs)
	ctx := context.Background()

	_ = s.ReserveFunds(ctx, payload("o1", 8000))
	if err := s.ReleaseFunds(ctx, "o1"); err != nil {
		t.Fatal(err)
	}
	if got := fs.balance("u1"); got != 10000 {
		t.Fatalf("balance after release = %d, want 10000", got)
	}
	if err := s.ReleaseFunds(ctx, "o1"); err != nil {
		t.Fatal(err)
	}
	if got := fs.balance("u1"); got != 10000 {
		t.Fatalf("double release credited twice: %d", got)
	}
	if fs.txs["o1"].Status != TxRefunded {
		t.Fatalf("tx status = %s, want REFUNDED", fs.txs["o1"].Status)
	}
}

func TestReleaseRefusedIsNoOp(t *testing.T) {
	fs := newFakeStore()
	fs.wallets["u1"] = 100
	s, _, _ := newTestService(fs)
	ctx := context.Background()

	_ = s.ReserveFunds(ctx, payload("o1", 8000)) // refused
	if err := s.ReleaseFunds(ctx, "o1"); err != nil {
		t.Fatal(err)
	}
	if got := fs.balance("u1"); got != 100 {
		t.Fatalf("release of refused tx credited wallet: %d", got)
	}
}

func TestReleaseUnknownOrderIsNoOp(t *testing.T) {
	fs := newFakeStore()
	fs.wallets["u1"] = 100
	s, _, _ := newTestService(fs)

	if err := s.ReleaseFunds(context.Background(), "ghost"); err != nil {
		t.Fatal(err)
	}
	if got := fs.balance("u1"); got != 100 {
		t.Fatalf("balance = %d", got)
	}
}

// Net change over reserve + release must be zero, whatever the interleaving.
func TestConservation(t *testing.T) {
	fs := newFakeStore()
	fs.wallets["u1"] = 9999
	s, _, _ := newTestService(fs)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = s.ReserveFunds(ctx, payload("o1", 4000))
		_ = s.ReleaseFunds(ctx, "o1")
		delete(fs.txs, "o1") // fresh causal key per round
	}
	if got := fs.balance("u1"); got != 9999 {
		t.Fatalf("net balance change %d, want 0", got-9999)
	}
}

// Concurrent reservations must never deduct more than the original balance.
func TestNoDoubleSpend(t *testing.T) {
	fs := newFakeStore()
	fs.wallets["u1"] = 10000
	s, ok, _ := newTestService(fs)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, orderID := range []string{"o1", "o2"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = s.ReserveFunds(ctx, payload(id, 8000))
		}(orderID)
	}
	wg.Wait()

	if got := fs.balance("u1"); got != 2000 {
		t.Fatalf("balance = %d, want 2000 (exactly one reservation)", got)
	}
	if ok.count() != 1 {
		t.Fatalf("accepted %d reservations, want 1", ok.count())
	}
}

// A redelivered order.created must return the recorded outcome, not debit
// again.
func TestReserveRedelivery(t *testing.T) {
	fs := newFakeStore()
	fs.wallets["u1"] = 10000
	s, ok, _ := newTestService(fs)
	ctx := context.Background()

	_ = s.ReserveFunds(ctx, payload("o1", 8000))
	_ = s.ReserveFunds(ctx, payload("o1", 8000))

	if got := fs.balance("u1"); got != 2000 {
		t.Fatalf("balance = %d, want 2000", got)
	}
	if ok.count() != 2 {
		// re-publishing the outcome is fine, double-debiting is not
		t.Fatalf("ok events = %d, want 2", ok.count())
	}
}

func TestRecharge(t *testing.T) {
	fs := newFakeStore()
	s, _, _ := newTestService(fs)
	ctx := context.Background()

	if err := s.Recharge(ctx, "u1", 5000); err != nil {
		t.Fatal(err)
	}
	if got := fs.balance("u1"); got != 5000 {
		t.Fatalf("balance = %d", got)
	}
	if err := s.Recharge(ctx, "u1", -1); err == nil {
		t.Fatal("negative recharge accepted")
	}
}

package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/harborbank/fundsflow/internal/config"
	"github.com/harborbank/fundsflow/internal/domain"
	"github.com/harborbank/fundsflow/internal/otp"
	"github.com/harborbank/fundsflow/internal/resolver"
	"github.com/harborbank/fundsflow/internal/service"
	"github.com/harborbank/fundsflow/internal/store"
)

type note struct {
	userID   int64
	template string
	payload  map[string]any
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (f *fakeNotifier) Notify(userID int64, template string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note{userID, template, payload})
}

// lastCode returns the most recently delivered verification code.
func (f *fakeNotifier) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.notes) - 1; i >= 0; i-- {
		if f.notes[i].template == "verification_code" {
			return f.notes[i].payload["code"].(string)
		}
	}
	t.Fatal("no verification code was delivered")
	return ""
}

func testConfig() *config.Config {
	return &config.Config{
		PerTxnLimits: map[domain.TransferKind]int64{
			domain.KindP2P:               250000,  // $2,500
			domain.KindDebitCard:         1000000, // $10,000
			domain.KindExternalACH:       2500000, // $25,000
			domain.KindWireDomestic:      2500000,
			domain.KindWireInternational: 2500000,
		},
		DailyExternalLimit: 2500000,
		VerifyThresholds: map[domain.TransferKind]int64{
			domain.KindInternal:          500000, // $5,000
			domain.KindP2P:               500000,
			domain.KindExternalACH:       500000,
			domain.KindWireDomestic:      500000,
			domain.KindWireInternational: 500000,
			domain.KindDebitCard:         500000,
		},
	}
}

func newHarness(cfg *config.Config) (*service.Orchestrator, *store.Memory, *fakeNotifier) {
	mem := store.NewMemory()
	notifier := &fakeNotifier{}
	gate := otp.NewGate(mem, otp.Config{TTL: 10 * time.Minute, MaxAttempts: 3}, zap.NewNop())
	orch := service.NewOrchestrator(mem, resolver.New(mem), gate, notifier, cfg, zap.NewNop())
	return orch, mem, notifier
}

func balance(t *testing.T, mem *store.Memory, id int64) int64 {
	t.Helper()
	a, err := mem.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%d): %v", id, err)
	}
	return a.Balance
}

func TestInternalTransferConservation(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 50000, domain.AccountActive) // $500
	b := mem.CreateAccount(2, 20000, domain.AccountActive) // $200

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a, RecipientAccountID: b,
		Amount: 10000, Kind: domain.KindInternal,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.StatusCompleted {
		t.Fatalf("status=%s want completed", out.Status)
	}
	if out.Fee != 0 {
		t.Fatalf("fee=%d want 0", out.Fee)
	}
	if got := balance(t, mem, a); got != 40000 {
		t.Fatalf("sender balance=%d want 40000", got)
	}
	if got := balance(t, mem, b); got != 30000 {
		t.Fatalf("recipient balance=%d want 30000", got)
	}
	if total := balance(t, mem, a) + balance(t, mem, b); total != 70000 {
		t.Fatalf("total=%d, conservation violated", total)
	}

	recs, _ := mem.ListTransactions(context.Background(), b)
	if len(recs) != 1 || recs[0].Kind != domain.RecordTransferIn || recs[0].Amount != 10000 {
		t.Fatalf("recipient records unexpected: %+v", recs)
	}
}

func TestTransactionRecordChain(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 100000, domain.AccountActive)
	b := mem.CreateAccount(2, 0, domain.AccountActive)

	for i := 0; i < 3; i++ {
		if _, err := orch.Submit(context.Background(), &service.SubmitRequest{
			UserID: 1, FromAccountID: a, RecipientAccountID: b,
			Amount: 1000, Kind: domain.KindInternal,
		}); err != nil {
			t.Fatal(err)
		}
	}

	recs, _ := mem.ListTransactions(context.Background(), a)
	// ListTransactions is newest-first.
	for i := 0; i < len(recs); i++ {
		if recs[i].BalanceAfter != recs[i].BalanceBefore+recs[i].Amount {
			t.Fatalf("record %s violates balance arithmetic: %+v", recs[i].Reference, recs[i])
		}
		if i+1 < len(recs) && recs[i].BalanceBefore != recs[i+1].BalanceAfter {
			t.Fatalf("gap between records %s and %s", recs[i+1].Reference, recs[i].Reference)
		}
	}
}

func TestP2PUnresolvedHoldsFunds(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 20000, domain.AccountActive)

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		RecipientContact: "+15559990000",
		Amount:           5000, Kind: domain.KindP2P,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.StatusPendingSettlement {
		t.Fatalf("status=%s want pending_settlement", out.Status)
	}
	if got := balance(t, mem, a); got != 15000 {
		t.Fatalf("sender must be debited immediately, balance=%d want 15000", got)
	}

	recs, _ := mem.ListTransactions(context.Background(), a)
	if len(recs) != 1 || recs[0].Status != domain.RecordPending {
		t.Fatalf("want one pending debit record, got %+v", recs)
	}
}

func TestInternationalWireInsufficientFunds(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 100000, domain.AccountActive) // $1,000 exactly

	_, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 100000, Kind: domain.KindWireInternational,
		SwiftCode: "DEUTDEFF", IBAN: "DE89370400440532013000",
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("want ErrInsufficientFunds (fee pushes total over balance), got %v", err)
	}
	if got := balance(t, mem, a); got != 100000 {
		t.Fatalf("balance=%d must be unchanged", got)
	}
	if recs, _ := mem.ListTransactions(context.Background(), a); len(recs) != 0 {
		t.Fatalf("rejection must leave no records, got %+v", recs)
	}
}

func TestWithdrawalGatedAndVerifiedOnce(t *testing.T) {
	orch, mem, notifier := newHarness(testConfig())
	a := mem.CreateAccount(1, 700000, domain.AccountActive) // $7,000

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 600000, Kind: domain.KindDebitCard, // $6,000, above threshold
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.StatusPendingVerification {
		t.Fatalf("status=%s want pending_verification", out.Status)
	}
	if got := balance(t, mem, a); got != 700000 {
		t.Fatalf("gated submit must not move funds, balance=%d", got)
	}

	code := notifier.lastCode(t)
	verified, err := orch.Verify(context.Background(), out.RequestID, code)
	if err != nil {
		t.Fatal(err)
	}
	if verified.Status != domain.StatusCompleted {
		t.Fatalf("status=%s want completed", verified.Status)
	}
	want := int64(700000 - 600000 - 200) // amount + card fee
	if got := balance(t, mem, a); got != want {
		t.Fatalf("balance=%d want %d", got, want)
	}

	// A second verify cannot debit again.
	var verErr *service.VerificationError
	if _, err := orch.Verify(context.Background(), out.RequestID, code); !errors.As(err, &verErr) {
		t.Fatalf("replayed verify: want VerificationError, got %v", err)
	}
	if got := balance(t, mem, a); got != want {
		t.Fatalf("balance changed on replay: %d", got)
	}
}

func TestThreeWrongCodesLockChallenge(t *testing.T) {
	orch, mem, notifier := newHarness(testConfig())
	a := mem.CreateAccount(1, 700000, domain.AccountActive)

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 600000, Kind: domain.KindDebitCard,
	})
	if err != nil {
		t.Fatal(err)
	}

	var verErr *service.VerificationError
	for i := 0; i < 3; i++ {
		if _, err := orch.Verify(context.Background(), out.RequestID, "000000"); !errors.As(err, &verErr) {
			t.Fatalf("wrong code %d: want VerificationError, got %v", i+1, err)
		}
	}
	if verErr.Result != otp.ResultAttemptsExceeded {
		t.Fatalf("third failure result=%s want attempts_exceeded", verErr.Result)
	}

	// The correct code is useless once the challenge is locked.
	code := notifier.lastCode(t)
	if _, err := orch.Verify(context.Background(), out.RequestID, code); !errors.As(err, &verErr) {
		t.Fatalf("locked challenge: want VerificationError, got %v", err)
	}
	if got := balance(t, mem, a); got != 700000 {
		t.Fatalf("balance=%d must be untouched", got)
	}
}

func TestACHRoutingValidation(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 100000, domain.AccountActive)

	_, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 10000, Kind: domain.KindExternalACH,
		RoutingNumber: "12345678", // 8 digits
		AccountNumber: "9876543210",
	})
	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "routing_number" {
		t.Fatalf("want routing_number ValidationError, got %v", err)
	}
	if got := balance(t, mem, a); got != 100000 {
		t.Fatalf("balance=%d must be unchanged", got)
	}
	if recs, _ := mem.ListTransactions(context.Background(), a); len(recs) != 0 {
		t.Fatalf("validation failure must persist nothing")
	}
}

func TestNoOverdraftUnderConcurrentSubmission(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 10000, domain.AccountActive) // $100
	b := mem.CreateAccount(2, 0, domain.AccountActive)

	const n = 10
	var wg sync.WaitGroup
	var successes, rejections int64
	var mu sync.Mutex
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := orch.Submit(context.Background(), &service.SubmitRequest{
				UserID: 1, FromAccountID: a, RecipientAccountID: b,
				Amount: 6000, Kind: domain.KindInternal,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if errors.Is(err, domain.ErrInsufficientFunds) {
				rejections++
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes=%d want exactly 1 ($60 twice would overdraw $100)", successes)
	}
	if successes+rejections != n {
		t.Fatalf("unexpected errors: %d successes, %d rejections of %d", successes, rejections, n)
	}
	if got := balance(t, mem, a); got != 4000 {
		t.Fatalf("sender balance=%d want 4000", got)
	}
	if got := balance(t, mem, a) + balance(t, mem, b); got != 10000 {
		t.Fatalf("total=%d, funds created or destroyed", got)
	}
}

func TestPendingThenResolveDebitsOnce(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 30000, domain.AccountActive)

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		RecipientContact: "$newuser",
		Amount:           5000, Kind: domain.KindP2P,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := balance(t, mem, a); got != 25000 {
		t.Fatalf("balance=%d want 25000 after initiation debit", got)
	}

	// Recipient enrolls later.
	b := mem.CreateAccount(9, 0, domain.AccountActive)
	mem.RegisterContact("tag", "$newuser", b)

	resolved, err := orch.ResolvePending(context.Background(), 1, out.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if resolved.Status != domain.StatusCompleted {
		t.Fatalf("status=%s want completed", resolved.Status)
	}
	if got := balance(t, mem, b); got != 5000 {
		t.Fatalf("recipient balance=%d want 5000", got)
	}
	if got := balance(t, mem, a); got != 25000 {
		t.Fatalf("resolution re-debited the sender: balance=%d", got)
	}

	// Only one outbound record ever exists for the send.
	recs, _ := mem.ListTransactions(context.Background(), a)
	if len(recs) != 1 || recs[0].Status != domain.RecordCompleted {
		t.Fatalf("sender records unexpected: %+v", recs)
	}

	if _, err := orch.ResolvePending(context.Background(), 1, out.RequestID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second resolve: want ErrInvalidTransition, got %v", err)
	}
}

func TestCancelPendingVerification(t *testing.T) {
	orch, mem, notifier := newHarness(testConfig())
	a := mem.CreateAccount(1, 700000, domain.AccountActive)

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 600000, Kind: domain.KindDebitCard,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := orch.Cancel(context.Background(), 1, out.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status=%s want cancelled", cancelled.Status)
	}

	code := notifier.lastCode(t)
	var verErr *service.VerificationError
	if _, err := orch.Verify(context.Background(), out.RequestID, code); !errors.As(err, &verErr) {
		t.Fatalf("verify after cancel: want VerificationError, got %v", err)
	}
	if got := balance(t, mem, a); got != 700000 {
		t.Fatalf("balance=%d must be untouched", got)
	}
}

func TestCancelReleasesHeldFunds(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 50000, domain.AccountActive)

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 10000, Kind: domain.KindExternalACH,
		RoutingNumber: "123456789", AccountNumber: "555001",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := balance(t, mem, a); got != 50000-10000-300 {
		t.Fatalf("balance=%d after staged debit", got)
	}

	cancelled, err := orch.Cancel(context.Background(), 1, out.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status=%s want cancelled", cancelled.Status)
	}
	if got := balance(t, mem, a); got != 50000 {
		t.Fatalf("held funds not released, balance=%d want 50000", got)
	}
}

func TestFailSettlementCompensates(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 100000, domain.AccountActive)

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 10000, Kind: domain.KindWireDomestic,
		RoutingNumber: "123456789", AccountNumber: "555002",
	})
	if err != nil {
		t.Fatal(err)
	}
	afterDebit := int64(100000 - 10000 - 2500)
	if got := balance(t, mem, a); got != afterDebit {
		t.Fatalf("balance=%d want %d after staged debit", got, afterDebit)
	}

	failed, err := orch.FailSettlement(context.Background(), out.Reference, "beneficiary bank rejected")
	if err != nil {
		t.Fatal(err)
	}
	if failed.Status != domain.StatusFailed {
		t.Fatalf("status=%s want failed", failed.Status)
	}
	if got := balance(t, mem, a); got != 100000 {
		t.Fatalf("compensating credit missing, balance=%d want 100000", got)
	}

	recs, _ := mem.ListTransactions(context.Background(), a)
	var sawReturn, sawFailedDebit bool
	for _, rec := range recs {
		if rec.Kind == domain.RecordDeposit && rec.Amount == 12500 && rec.Status == domain.RecordCompleted {
			sawReturn = true
		}
		if rec.Kind == domain.RecordTransferOut && rec.Status == domain.RecordFailed {
			sawFailedDebit = true
		}
	}
	if !sawReturn || !sawFailedDebit {
		t.Fatalf("compensation records incomplete: %+v", recs)
	}

	if _, err := orch.FailSettlement(context.Background(), out.Reference, "again"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("double settlement failure: want ErrInvalidTransition, got %v", err)
	}
}

func TestP2PPerTransactionLimit(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 10000000, domain.AccountActive)
	b := mem.CreateAccount(2, 0, domain.AccountActive)
	mem.RegisterContact("email", "bob@example.com", b)

	_, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		RecipientContact: "bob@example.com",
		Amount:           250100, Kind: domain.KindP2P, // $2,501
	})
	if !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("want ErrLimitExceeded, got %v", err)
	}
	if got := balance(t, mem, a); got != 10000000 {
		t.Fatalf("balance=%d must be unchanged", got)
	}
}

func TestDailyExternalCap(t *testing.T) {
	cfg := testConfig()
	// Push the verification threshold out of the way for this test.
	for k := range cfg.VerifyThresholds {
		cfg.VerifyThresholds[k] = 100000000
	}
	orch, mem, _ := newHarness(cfg)
	a := mem.CreateAccount(1, 10000000, domain.AccountActive) // $100,000

	submit := func(amount int64) error {
		_, err := orch.Submit(context.Background(), &service.SubmitRequest{
			UserID: 1, FromAccountID: a,
			Amount: amount, Kind: domain.KindExternalACH,
			RoutingNumber: "123456789", AccountNumber: "42",
		})
		return err
	}

	if err := submit(2000000); err != nil { // $20,000
		t.Fatal(err)
	}
	if err := submit(600000); !errors.Is(err, domain.ErrLimitExceeded) { // $6,000 over the $25,000 day cap
		t.Fatalf("want ErrLimitExceeded, got %v", err)
	}
	if err := submit(400000); err != nil { // $4,000 still fits
		t.Fatal(err)
	}
}

func TestP2PAlwaysGatedWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.VerifyThresholds[domain.KindP2P] = 0
	orch, mem, notifier := newHarness(cfg)
	a := mem.CreateAccount(1, 10000, domain.AccountActive)
	b := mem.CreateAccount(2, 0, domain.AccountActive)
	mem.RegisterContact("tag", "$bob", b)

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		RecipientContact: "$bob",
		Amount:           1000, Kind: domain.KindP2P, // $10 still gated
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != domain.StatusPendingVerification {
		t.Fatalf("status=%s want pending_verification", out.Status)
	}

	code := notifier.lastCode(t)
	verified, err := orch.Verify(context.Background(), out.RequestID, code)
	if err != nil {
		t.Fatal(err)
	}
	if verified.Status != domain.StatusCompleted {
		t.Fatalf("status=%s want completed", verified.Status)
	}
	if got := balance(t, mem, b); got != 1000 {
		t.Fatalf("recipient balance=%d want 1000", got)
	}
}

func TestClosedAccountRejected(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 50000, domain.AccountClosed)
	b := mem.CreateAccount(2, 0, domain.AccountActive)

	_, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a, RecipientAccountID: b,
		Amount: 1000, Kind: domain.KindInternal,
	})
	if !errors.Is(err, domain.ErrAccountNotActive) {
		t.Fatalf("want ErrAccountNotActive, got %v", err)
	}
}

func TestForeignAccountRejectedGenerically(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 50000, domain.AccountActive)
	b := mem.CreateAccount(2, 0, domain.AccountActive)

	// User 99 does not own account a; the rejection must not reveal that
	// the account exists.
	_, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 99, FromAccountID: a, RecipientAccountID: b,
		Amount: 1000, Kind: domain.KindInternal,
	})
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}

// rendezvousStore delays both lifecycle operations until each has read the
// request, so they race with the same pending_settlement snapshot.
type rendezvousStore struct {
	*store.Memory
	barrier *sync.WaitGroup
}

func (s *rendezvousStore) GetTransferRequest(ctx context.Context, id string) (*domain.TransferRequest, error) {
	req, err := s.Memory.GetTransferRequest(ctx, id)
	s.barrier.Done()
	s.barrier.Wait()
	return req, err
}

func (s *rendezvousStore) GetTransferRequestByReference(ctx context.Context, reference string) (*domain.TransferRequest, error) {
	req, err := s.Memory.GetTransferRequestByReference(ctx, reference)
	s.barrier.Done()
	s.barrier.Wait()
	return req, err
}

func TestConcurrentCancelAndFailSettlementCreditOnce(t *testing.T) {
	mem := store.NewMemory()
	var barrier sync.WaitGroup
	wrapped := &rendezvousStore{Memory: mem, barrier: &barrier}
	gate := otp.NewGate(mem, otp.Config{TTL: 10 * time.Minute, MaxAttempts: 3}, zap.NewNop())
	orch := service.NewOrchestrator(wrapped, resolver.New(mem), gate, notifyDiscard{}, testConfig(), zap.NewNop())

	a := mem.CreateAccount(1, 10000, domain.AccountActive) // $100
	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 5000, Kind: domain.KindExternalACH, // $50 + $3 fee staged
		RoutingNumber: "123456789", AccountNumber: "77001",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := balance(t, mem, a); got != 10000-5300 {
		t.Fatalf("balance=%d after staged debit", got)
	}

	// Both operations read pending_settlement before either commits.
	barrier.Add(2)
	errs := make(chan error, 2)
	go func() {
		_, err := orch.Cancel(context.Background(), 1, out.RequestID)
		errs <- err
	}()
	go func() {
		_, err := orch.FailSettlement(context.Background(), out.Reference, "rail rejected")
		errs <- err
	}()

	var committed, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			committed++
		case errors.Is(err, domain.ErrInvalidTransition):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if committed != 1 || rejected != 1 {
		t.Fatalf("committed=%d rejected=%d, exactly one compensation may win", committed, rejected)
	}
	if got := balance(t, mem, a); got != 10000 {
		t.Fatalf("balance=%d want 10000, a double credit created money", got)
	}

	recs, _ := mem.ListTransactions(context.Background(), a)
	var returns int
	for _, rec := range recs {
		if rec.Kind == domain.RecordDeposit {
			returns++
		}
	}
	if returns != 1 {
		t.Fatalf("return deposits=%d want exactly 1", returns)
	}

	req, err := mem.GetTransferRequest(context.Background(), out.RequestID)
	if err != nil {
		t.Fatal(err)
	}
	if !req.Status.Terminal() {
		t.Fatalf("request left in %s", req.Status)
	}
}

type notifyDiscard struct{}

func (notifyDiscard) Notify(int64, string, map[string]any) {}

func TestLifecycleRequiresOwnership(t *testing.T) {
	orch, mem, _ := newHarness(testConfig())
	a := mem.CreateAccount(1, 50000, domain.AccountActive)

	out, err := orch.Submit(context.Background(), &service.SubmitRequest{
		UserID: 1, FromAccountID: a,
		Amount: 10000, Kind: domain.KindExternalACH,
		RoutingNumber: "123456789", AccountNumber: "77002",
	})
	if err != nil {
		t.Fatal(err)
	}
	held := balance(t, mem, a)

	// User 2 never sees user 1's request, let alone mutates it.
	if _, err := orch.Cancel(context.Background(), 2, out.RequestID); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("foreign cancel: want ErrRequestNotFound, got %v", err)
	}
	if _, err := orch.ResolvePending(context.Background(), 2, out.RequestID); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("foreign resolve: want ErrRequestNotFound, got %v", err)
	}
	if _, err := orch.ResendCode(context.Background(), 2, out.RequestID); !errors.Is(err, domain.ErrRequestNotFound) {
		t.Fatalf("foreign resend: want ErrRequestNotFound, got %v", err)
	}
	if got := balance(t, mem, a); got != held {
		t.Fatalf("balance moved from %d to %d on rejected calls", held, got)
	}

	req, _ := mem.GetTransferRequest(context.Background(), out.RequestID)
	if req.Status != domain.StatusPendingSettlement {
		t.Fatalf("status=%s, foreign calls must not advance the request", req.Status)
	}
}

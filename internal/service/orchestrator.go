// Package service contains the transfer orchestrator: the single entry point
// that validates a funds-movement request, prices it, gates it behind
// verification when required, and drives the ledger to commit or stage it.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborbank/fundsflow/internal/config"
	"github.com/harborbank/fundsflow/internal/domain"
	"github.com/harborbank/fundsflow/internal/fees"
	"github.com/harborbank/fundsflow/internal/notify"
	"github.com/harborbank/fundsflow/internal/otp"
	"github.com/harborbank/fundsflow/internal/refgen"
	"github.com/harborbank/fundsflow/internal/resolver"
)

// CommitResult reports the balances observed after a committed mutation.
type CommitResult struct {
	FromBalance int64
	ToBalance   int64
}

// Store is the persistence contract the orchestrator drives. Each Commit*
// method runs inside a single database transaction with per-account row
// locks acquired in ascending id order, writes the transaction records under
// the lock, and persists the request's new status atomically with the
// balance change. The status write is conditional on the stored row still
// holding the status the caller transitioned from (TransferRequest.PrevStatus);
// a request another operation has already advanced fails the whole commit
// with ErrInvalidTransition, ledger legs included.
type Store interface {
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	CreateTransferRequest(ctx context.Context, req *domain.TransferRequest) error
	GetTransferRequest(ctx context.Context, id string) (*domain.TransferRequest, error)
	GetTransferRequestByReference(ctx context.Context, reference string) (*domain.TransferRequest, error)
	UpdateTransferRequest(ctx context.Context, req *domain.TransferRequest) error
	DailyExternalOutflow(ctx context.Context, accountID int64, since time.Time) (int64, error)

	// CommitAtomicTransfer moves amount from sender to recipient and charges
	// the fee: both legs or neither.
	CommitAtomicTransfer(ctx context.Context, req *domain.TransferRequest) (*CommitResult, error)
	// CommitDebit takes amount+fee from the sender only, writing records with
	// the given status (pending for staged settlements, completed otherwise).
	CommitDebit(ctx context.Context, req *domain.TransferRequest, recordStatus domain.RecordStatus) (*CommitResult, error)
	// CompensateCredit returns amount+fee to the sender after a post-debit
	// failure or a user cancellation of held funds, marking the original
	// records with recordStatus.
	CompensateCredit(ctx context.Context, req *domain.TransferRequest, recordStatus domain.RecordStatus, reason string) (*CommitResult, error)
	// ResolvePendingCredit credits the recipient of a previously held p2p
	// send without touching the sender again.
	ResolvePendingCredit(ctx context.Context, req *domain.TransferRequest) (*CommitResult, error)

	ListTransactions(ctx context.Context, accountID int64) ([]domain.TransactionRecord, error)
}

// VerificationError is returned when the one-time code check does not
// succeed. The transfer stays unmutated until resolved or cancelled.
type VerificationError struct {
	Result otp.Result
}

func (e *VerificationError) Error() string {
	return "verification failed: " + string(e.Result)
}

// SubmitRequest is the validated-and-parsed form of an incoming transfer or
// withdrawal. Amount is already in minor units.
type SubmitRequest struct {
	UserID             int64
	FromAccountID      int64
	RecipientAccountID int64
	RecipientContact   string
	Amount             int64
	Kind               domain.TransferKind
	RoutingNumber      string
	AccountNumber      string
	SwiftCode          string
	IBAN               string
}

// Outcome is what the caller gets back for any lifecycle operation.
type Outcome struct {
	RequestID          string        `json:"transfer_request_id"`
	Reference          string        `json:"reference"`
	Status             domain.Status `json:"status"`
	Fee                int64         `json:"fee"`
	NewBalance         int64         `json:"new_balance,omitempty"`
	ChallengeExpiresAt time.Time     `json:"challenge_expires_at,omitempty"`
}

// Orchestrator wires the ledger store, recipient resolver, verification gate
// and notifier into the submit/verify/cancel pipeline.
type Orchestrator struct {
	store    Store
	resolver *resolver.Resolver
	gate     *otp.Gate
	notifier notify.Notifier
	cfg      *config.Config
	logger   *zap.Logger
}

func NewOrchestrator(store Store, res *resolver.Resolver, gate *otp.Gate, notifier notify.Notifier, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		resolver: res,
		gate:     gate,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

var (
	routingRe = regexp.MustCompile(`^[0-9]{9}$`)
	swiftRe   = regexp.MustCompile(`^[A-Za-z0-9]{8,11}$`)
)

// validate enforces the per-kind required field set. It runs before anything
// is persisted; a failure here leaves zero trace.
func validate(req *SubmitRequest) error {
	if req.Amount <= 0 {
		return domain.NewValidationError("amount", "must be positive")
	}
	if req.FromAccountID == 0 {
		return domain.NewValidationError("from_account", "required")
	}
	if !req.Kind.Valid() {
		return domain.NewValidationError("kind", "unknown transfer kind")
	}

	switch req.Kind {
	case domain.KindInternal:
		if req.RecipientAccountID == 0 {
			return domain.NewValidationError("recipient_account", "required for internal transfers")
		}
		if req.RecipientAccountID == req.FromAccountID {
			return domain.NewValidationError("recipient_account", "cannot transfer to self")
		}
	case domain.KindP2P:
		if req.RecipientContact == "" {
			return domain.NewValidationError("recipient_contact", "required for p2p sends")
		}
	case domain.KindExternalACH, domain.KindWireDomestic:
		if !routingRe.MatchString(req.RoutingNumber) {
			return domain.NewValidationError("routing_number", "must be exactly 9 digits")
		}
		if req.AccountNumber == "" {
			return domain.NewValidationError("account_number", "required")
		}
	case domain.KindWireInternational:
		if !swiftRe.MatchString(req.SwiftCode) {
			return domain.NewValidationError("swift_code", "must be 8-11 characters")
		}
		if req.IBAN == "" {
			return domain.NewValidationError("iban", "required for international wires")
		}
	case domain.KindDebitCard:
		// Card withdrawals need nothing beyond account and amount.
	}
	return nil
}

// Submit runs the full pipeline: validation, fee computation, limit checks,
// optional verification gating, then commit or staging. Requests above the
// configured threshold are persisted as pending_verification with no funds
// held; the debit happens exactly once when Verify succeeds.
func (o *Orchestrator) Submit(ctx context.Context, sub *SubmitRequest) (*Outcome, error) {
	if err := validate(sub); err != nil {
		return nil, err
	}

	account, err := o.store.GetAccount(ctx, sub.FromAccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != domain.AccountActive {
		return nil, domain.ErrAccountNotActive
	}
	if account.OwnerID != sub.UserID {
		// Generic message: do not leak whether the account exists.
		return nil, domain.ErrAccountNotFound
	}

	fee := fees.For(sub.Kind, sub.Amount)
	if sub.Amount+fee > account.Balance {
		return nil, domain.ErrInsufficientFunds
	}

	if err := o.checkLimits(ctx, sub); err != nil {
		return nil, err
	}

	now := time.Now()
	req := &domain.TransferRequest{
		ID:                 uuid.NewString(),
		UserID:             sub.UserID,
		FromAccountID:      sub.FromAccountID,
		RecipientAccountID: sub.RecipientAccountID,
		RecipientContact:   sub.RecipientContact,
		Amount:             sub.Amount,
		Fee:                fee,
		Kind:               sub.Kind,
		Reference:          refgen.Generate(sub.Kind),
		VerificationState:  domain.VerificationNone,
		Status:             domain.StatusInitiated,
		RoutingNumber:      sub.RoutingNumber,
		AccountNumber:      sub.AccountNumber,
		SwiftCode:          sub.SwiftCode,
		IBAN:               sub.IBAN,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if o.requiresVerification(req) {
		req.Status = domain.StatusPendingVerification
		req.VerificationState = domain.VerificationPending
		if err := o.store.CreateTransferRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("request persist failed: %w", err)
		}
		ch, code, err := o.gate.Issue(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		o.notifier.Notify(req.UserID, "verification_code", map[string]any{
			"code":      code,
			"reference": req.Reference,
			"expires":   ch.ExpiresAt,
		})
		o.logger.Info("transfer gated behind verification",
			zap.String("reference", req.Reference),
			zap.String("kind", string(req.Kind)),
			zap.Int64("amount", req.Amount))
		return &Outcome{
			RequestID:          req.ID,
			Reference:          req.Reference,
			Status:             req.Status,
			Fee:                req.Fee,
			ChallengeExpiresAt: ch.ExpiresAt,
		}, nil
	}

	if err := o.store.CreateTransferRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("request persist failed: %w", err)
	}
	return o.execute(ctx, req)
}

func (o *Orchestrator) requiresVerification(req *domain.TransferRequest) bool {
	threshold, ok := o.cfg.VerifyThresholds[req.Kind]
	if !ok {
		return false
	}
	return req.Amount >= threshold
}

func (o *Orchestrator) checkLimits(ctx context.Context, sub *SubmitRequest) error {
	if limit := o.cfg.PerTxnLimits[sub.Kind]; limit > 0 && sub.Amount > limit {
		return fmt.Errorf("%w: %s per-transaction cap is %s",
			domain.ErrLimitExceeded, sub.Kind, domain.FormatAmount(limit))
	}
	if sub.Kind.External() && o.cfg.DailyExternalLimit > 0 {
		since := time.Now().UTC().Truncate(24 * time.Hour)
		spent, err := o.store.DailyExternalOutflow(ctx, sub.FromAccountID, since)
		if err != nil {
			return fmt.Errorf("daily outflow lookup failed: %w", err)
		}
		if spent+sub.Amount > o.cfg.DailyExternalLimit {
			return fmt.Errorf("%w: daily external cap is %s",
				domain.ErrLimitExceeded, domain.FormatAmount(o.cfg.DailyExternalLimit))
		}
	}
	return nil
}

// execute commits a request whose validation and gating are already settled.
// It is called from Submit for ungated requests and from Verify for gated
// ones; both paths converge here so the debit can only ever happen once.
func (o *Orchestrator) execute(ctx context.Context, req *domain.TransferRequest) (*Outcome, error) {
	switch req.Kind {
	case domain.KindInternal:
		return o.executeInternal(ctx, req)
	case domain.KindP2P:
		return o.executeP2P(ctx, req)
	case domain.KindExternalACH, domain.KindWireDomestic, domain.KindWireInternational:
		return o.executeExternal(ctx, req)
	case domain.KindDebitCard:
		return o.executeWithdrawal(ctx, req)
	}
	return nil, domain.NewValidationError("kind", "unknown transfer kind")
}

func (o *Orchestrator) executeInternal(ctx context.Context, req *domain.TransferRequest) (*Outcome, error) {
	recipient, err := o.store.GetAccount(ctx, req.RecipientAccountID)
	if err != nil {
		return nil, err
	}
	if recipient.Status != domain.AccountActive {
		return nil, domain.ErrAccountNotActive
	}

	if err := req.Transition(domain.StatusCompleted); err != nil {
		return nil, err
	}
	res, err := o.commitWithRetry(ctx, func() (*CommitResult, error) {
		return o.store.CommitAtomicTransfer(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	o.notifier.Notify(req.UserID, "transfer_completed", map[string]any{
		"reference": req.Reference,
		"amount":    domain.FormatAmount(req.Amount),
	})
	o.logger.Info("internal transfer committed",
		zap.String("reference", req.Reference),
		zap.Int64("from", req.FromAccountID),
		zap.Int64("to", req.RecipientAccountID),
		zap.Int64("amount", req.Amount))
	return o.outcome(req, res), nil
}

func (o *Orchestrator) executeP2P(ctx context.Context, req *domain.TransferRequest) (*Outcome, error) {
	recipientID, resolved, err := o.resolver.Resolve(ctx, req.RecipientContact)
	if err != nil {
		return nil, fmt.Errorf("recipient resolution failed: %w", err)
	}

	if resolved {
		req.RecipientAccountID = recipientID
		if err := req.Transition(domain.StatusCompleted); err != nil {
			return nil, err
		}
		res, err := o.commitWithRetry(ctx, func() (*CommitResult, error) {
			return o.store.CommitAtomicTransfer(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		o.notifier.Notify(req.UserID, "transfer_completed", map[string]any{
			"reference": req.Reference,
			"amount":    domain.FormatAmount(req.Amount),
		})
		return o.outcome(req, res), nil
	}

	// Unresolved recipient: debit and hold so the funds cannot be spent
	// twice; crediting waits for the recipient to enroll.
	if err := req.Transition(domain.StatusPendingSettlement); err != nil {
		return nil, err
	}
	res, err := o.commitWithRetry(ctx, func() (*CommitResult, error) {
		return o.store.CommitDebit(ctx, req, domain.RecordPending)
	})
	if err != nil {
		return nil, err
	}
	o.notifier.Notify(req.UserID, "transfer_pending", map[string]any{
		"reference": req.Reference,
		"contact":   req.RecipientContact,
	})
	o.logger.Info("p2p send held for unresolved recipient",
		zap.String("reference", req.Reference),
		zap.String("contact", req.RecipientContact))
	return o.outcome(req, res), nil
}

func (o *Orchestrator) executeExternal(ctx context.Context, req *domain.TransferRequest) (*Outcome, error) {
	// External settlement happens off-core; debit now, settle later.
	if err := req.Transition(domain.StatusPendingSettlement); err != nil {
		return nil, err
	}
	res, err := o.commitWithRetry(ctx, func() (*CommitResult, error) {
		return o.store.CommitDebit(ctx, req, domain.RecordPending)
	})
	if err != nil {
		return nil, err
	}
	o.notifier.Notify(req.UserID, "transfer_pending", map[string]any{
		"reference": req.Reference,
		"amount":    domain.FormatAmount(req.Amount),
		"fee":       domain.FormatAmount(req.Fee),
	})
	return o.outcome(req, res), nil
}

func (o *Orchestrator) executeWithdrawal(ctx context.Context, req *domain.TransferRequest) (*Outcome, error) {
	if err := req.Transition(domain.StatusCompleted); err != nil {
		return nil, err
	}
	res, err := o.commitWithRetry(ctx, func() (*CommitResult, error) {
		return o.store.CommitDebit(ctx, req, domain.RecordCompleted)
	})
	if err != nil {
		return nil, err
	}
	o.notifier.Notify(req.UserID, "withdrawal_completed", map[string]any{
		"reference": req.Reference,
		"amount":    domain.FormatAmount(req.Amount),
	})
	return o.outcome(req, res), nil
}

func (o *Orchestrator) outcome(req *domain.TransferRequest, res *CommitResult) *Outcome {
	return &Outcome{
		RequestID:  req.ID,
		Reference:  req.Reference,
		Status:     req.Status,
		Fee:        req.Fee,
		NewBalance: res.FromBalance,
	}
}

// commitWithRetry absorbs optimistic-lock conflicts with bounded backoff.
// Exhausted retries surface the conflict to the caller. Retries are safe with
// the same request snapshot: the store's status precondition rejects the
// commit if another operation advanced the request in the meantime.
func (o *Orchestrator) commitWithRetry(ctx context.Context, commit func() (*CommitResult, error)) (*CommitResult, error) {
	backoff := 25 * time.Millisecond
	var res *CommitResult
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		res, err = commit()
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return res, err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return res, err
}

package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/harborbank/fundsflow/internal/domain"
	"github.com/harborbank/fundsflow/internal/otp"
)

// loadOwnedRequest fetches a request and checks the caller owns it. The
// mismatch answer is the generic not-found, the same non-oracle Submit gives
// for someone else's account.
func (o *Orchestrator) loadOwnedRequest(ctx context.Context, userID int64, requestID string) (*domain.TransferRequest, error) {
	req, err := o.store.GetTransferRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.UserID != userID {
		return nil, domain.ErrRequestNotFound
	}
	return req, nil
}

// Verify checks the submitted one-time code for a gated request and, on
// success, resumes the pipeline where Submit left off. The ledger is only
// touched after the gate reports success, so the debit happens exactly once.
func (o *Orchestrator) Verify(ctx context.Context, requestID, code string) (*Outcome, error) {
	req, err := o.store.GetTransferRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusPendingVerification {
		return nil, &VerificationError{Result: otp.ResultExpired}
	}

	result, err := o.gate.Verify(ctx, requestID, code)
	if err != nil {
		if errors.Is(err, otp.ErrNoChallenge) {
			return nil, &VerificationError{Result: otp.ResultExpired}
		}
		return nil, err
	}
	if result != otp.ResultSuccess {
		o.logger.Warn("verification attempt failed",
			zap.String("reference", req.Reference),
			zap.String("result", string(result)))
		return nil, &VerificationError{Result: result}
	}

	req.VerificationState = domain.VerificationVerified
	outcome, err := o.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// ResendCode replaces the active challenge after the cooldown window.
func (o *Orchestrator) ResendCode(ctx context.Context, userID int64, requestID string) (*Outcome, error) {
	req, err := o.loadOwnedRequest(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusPendingVerification {
		return nil, &VerificationError{Result: otp.ResultExpired}
	}
	ch, code, err := o.gate.Resend(ctx, requestID)
	if err != nil {
		return nil, err
	}
	o.notifier.Notify(req.UserID, "verification_code", map[string]any{
		"code":      code,
		"reference": req.Reference,
		"expires":   ch.ExpiresAt,
	})
	return &Outcome{
		RequestID:          req.ID,
		Reference:          req.Reference,
		Status:             req.Status,
		Fee:                req.Fee,
		ChallengeExpiresAt: ch.ExpiresAt,
	}, nil
}

// Cancel abandons a request that has not reached a terminal state. If funds
// were already held (an unresolved p2p send or a staged settlement), they are
// credited back in the same motion — a held debit is never left orphaned.
func (o *Orchestrator) Cancel(ctx context.Context, userID int64, requestID string) (*Outcome, error) {
	req, err := o.loadOwnedRequest(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case domain.StatusPendingVerification:
		// Nothing committed yet; kill the challenge and close the request.
		if err := o.gate.Invalidate(ctx, requestID); err != nil {
			return nil, err
		}
		if err := req.Transition(domain.StatusCancelled); err != nil {
			return nil, err
		}
		if err := o.store.UpdateTransferRequest(ctx, req); err != nil {
			return nil, err
		}
		o.notifier.Notify(req.UserID, "transfer_cancelled", map[string]any{"reference": req.Reference})
		return &Outcome{RequestID: req.ID, Reference: req.Reference, Status: req.Status, Fee: req.Fee}, nil

	case domain.StatusPendingSettlement:
		if err := req.Transition(domain.StatusCancelled); err != nil {
			return nil, err
		}
		res, err := o.commitWithRetry(ctx, func() (*CommitResult, error) {
			return o.store.CompensateCredit(ctx, req, domain.RecordCancelled, "cancelled by user")
		})
		if err != nil {
			return nil, err
		}
		o.notifier.Notify(req.UserID, "transfer_cancelled", map[string]any{"reference": req.Reference})
		o.logger.Info("held funds released on cancellation",
			zap.String("reference", req.Reference),
			zap.Int64("returned", req.TotalRequired()))
		return o.outcome(req, res), nil
	}

	return nil, fmt.Errorf("%w: cannot cancel %s request", domain.ErrInvalidTransition, req.Status)
}

// FailSettlement is the settlement boundary callback: the external rail
// rejected a staged wire/ACH after the sender debit was committed. The
// corrective mutation credits amount+fee back and records the failure — the
// customer's funds are never silently lost.
func (o *Orchestrator) FailSettlement(ctx context.Context, reference, reason string) (*Outcome, error) {
	req, err := o.store.GetTransferRequestByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if req.Status != domain.StatusPendingSettlement {
		return nil, fmt.Errorf("%w: settlement failure on %s request", domain.ErrInvalidTransition, req.Status)
	}

	if err := req.Transition(domain.StatusFailed); err != nil {
		return nil, err
	}
	req.FailureReason = reason
	res, err := o.commitWithRetry(ctx, func() (*CommitResult, error) {
		return o.store.CompensateCredit(ctx, req, domain.RecordFailed, reason)
	})
	if err != nil {
		return nil, err
	}

	o.notifier.Notify(req.UserID, "transfer_failed", map[string]any{
		"reference": req.Reference,
		"reason":    reason,
		"returned":  domain.FormatAmount(req.TotalRequired()),
	})
	o.logger.Warn("settlement failed, funds returned",
		zap.String("reference", reference),
		zap.String("reason", reason))
	return o.outcome(req, res), nil
}

// ResolvePending retries recipient resolution for a held p2p send. When the
// contact has enrolled since initiation, the recipient is credited and the
// request completes. The sender, debited at initiation, is not touched again.
func (o *Orchestrator) ResolvePending(ctx context.Context, userID int64, requestID string) (*Outcome, error) {
	req, err := o.loadOwnedRequest(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Kind != domain.KindP2P || req.Status != domain.StatusPendingSettlement {
		return nil, fmt.Errorf("%w: resolve on %s %s request", domain.ErrInvalidTransition, req.Status, req.Kind)
	}

	recipientID, resolved, err := o.resolver.Resolve(ctx, req.RecipientContact)
	if err != nil {
		return nil, fmt.Errorf("recipient resolution failed: %w", err)
	}
	if !resolved {
		return &Outcome{RequestID: req.ID, Reference: req.Reference, Status: req.Status, Fee: req.Fee}, nil
	}

	req.RecipientAccountID = recipientID
	if err := req.Transition(domain.StatusCompleted); err != nil {
		return nil, err
	}
	res, err := o.commitWithRetry(ctx, func() (*CommitResult, error) {
		return o.store.ResolvePendingCredit(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	o.notifier.Notify(req.UserID, "transfer_completed", map[string]any{
		"reference": req.Reference,
		"amount":    domain.FormatAmount(req.Amount),
	})
	o.logger.Info("held p2p send resolved",
		zap.String("reference", req.Reference),
		zap.Int64("recipient", recipientID))
	return o.outcome(req, res), nil
}

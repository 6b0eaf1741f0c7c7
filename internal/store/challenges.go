package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/harborbank/fundsflow/internal/domain"
)

// Challenge persistence for the verification gate. At most one challenge per
// transfer request is active at a time; resends invalidate the predecessor.

func (s *Store) CreateChallenge(ctx context.Context, ch *domain.VerificationChallenge) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO verification_challenges
		   (id, transfer_request_id, code_hash, expires_at, max_attempts,
		    attempts_used, resend_not_before, invalidated, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ch.ID, ch.TransferRequestID, ch.CodeHash, ch.ExpiresAt, ch.MaxAttempts,
		ch.AttemptsUsed, ch.ResendNotBefore, ch.Invalidated, ch.CreatedAt)
	return err
}

func (s *Store) ActiveChallenge(ctx context.Context, transferRequestID string) (*domain.VerificationChallenge, error) {
	var ch domain.VerificationChallenge
	err := s.db.QueryRow(ctx,
		`SELECT id, transfer_request_id, code_hash, expires_at, max_attempts,
		        attempts_used, resend_not_before, invalidated, created_at
		   FROM verification_challenges
		  WHERE transfer_request_id = $1 AND NOT invalidated
		  ORDER BY created_at DESC
		  LIMIT 1`,
		transferRequestID).Scan(&ch.ID, &ch.TransferRequestID, &ch.CodeHash, &ch.ExpiresAt,
		&ch.MaxAttempts, &ch.AttemptsUsed, &ch.ResendNotBefore, &ch.Invalidated, &ch.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *Store) UpdateChallenge(ctx context.Context, ch *domain.VerificationChallenge) error {
	_, err := s.db.Exec(ctx,
		`UPDATE verification_challenges
		    SET attempts_used = $1, invalidated = $2
		  WHERE id = $3`,
		ch.AttemptsUsed, ch.Invalidated, ch.ID)
	return err
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/harborbank/fundsflow/internal/domain"
)

func (s *Store) CreateTransferRequest(ctx context.Context, req *domain.TransferRequest) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO transfer_requests
		   (id, user_id, from_account_id, recipient_account_id, recipient_contact,
		    amount, fee, kind, reference, verification_state, status,
		    routing_number, account_number, swift_code, iban, failure_reason,
		    created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		req.ID, req.UserID, req.FromAccountID, req.RecipientAccountID, req.RecipientContact,
		req.Amount, req.Fee, req.Kind, req.Reference, req.VerificationState, req.Status,
		req.RoutingNumber, req.AccountNumber, req.SwiftCode, req.IBAN, req.FailureReason,
		req.CreatedAt, req.UpdatedAt)
	return err
}

const requestColumns = `id, user_id, from_account_id, recipient_account_id, recipient_contact,
	amount, fee, kind, reference, verification_state, status,
	routing_number, account_number, swift_code, iban, failure_reason,
	created_at, updated_at`

func scanRequest(row pgx.Row) (*domain.TransferRequest, error) {
	var r domain.TransferRequest
	err := row.Scan(&r.ID, &r.UserID, &r.FromAccountID, &r.RecipientAccountID, &r.RecipientContact,
		&r.Amount, &r.Fee, &r.Kind, &r.Reference, &r.VerificationState, &r.Status,
		&r.RoutingNumber, &r.AccountNumber, &r.SwiftCode, &r.IBAN, &r.FailureReason,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) GetTransferRequest(ctx context.Context, id string) (*domain.TransferRequest, error) {
	return scanRequest(s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM transfer_requests WHERE id = $1`, id))
}

func (s *Store) GetTransferRequestByReference(ctx context.Context, reference string) (*domain.TransferRequest, error) {
	return scanRequest(s.db.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM transfer_requests WHERE reference = $1`, reference))
}

// UpdateTransferRequest carries the same status precondition as the commit
// paths: the row must still be in the state the caller read.
func (s *Store) UpdateTransferRequest(ctx context.Context, req *domain.TransferRequest) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE transfer_requests
		    SET status = $1, verification_state = $2, recipient_account_id = $3,
		        failure_reason = $4, updated_at = NOW()
		  WHERE id = $5 AND status = $6`,
		req.Status, req.VerificationState, req.RecipientAccountID, req.FailureReason,
		req.ID, req.PrevStatus)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// DailyExternalOutflow sums the external debits an account has committed or
// staged since the start of the current day, for the daily cap check.
func (s *Store) DailyExternalOutflow(ctx context.Context, accountID int64, since time.Time) (int64, error) {
	var total int64
	err := s.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)
		   FROM transfer_requests
		  WHERE from_account_id = $1
		    AND kind IN ('external_ach', 'wire_domestic', 'wire_international')
		    AND status NOT IN ('failed', 'cancelled')
		    AND created_at >= $2`,
		accountID, since).Scan(&total)
	return total, err
}

func (s *Store) ListTransactions(ctx context.Context, accountID int64) ([]domain.TransactionRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, kind, amount, status, reference,
		        balance_before, balance_after, created_at
		   FROM transaction_records
		  WHERE account_id = $1
		  ORDER BY id DESC`,
		accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TransactionRecord
	for rows.Next() {
		var rec domain.TransactionRecord
		if err := rows.Scan(&rec.ID, &rec.AccountID, &rec.Kind, &rec.Amount, &rec.Status,
			&rec.Reference, &rec.BalanceBefore, &rec.BalanceAfter, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LookupContact implements resolver.Directory over the registered_contacts
// table, joining to accounts so only active recipients resolve.
func (s *Store) LookupContact(ctx context.Context, kind, contact string) (int64, bool, error) {
	var accountID int64
	err := s.db.QueryRow(ctx,
		`SELECT c.account_id
		   FROM registered_contacts c
		   JOIN accounts a ON a.id = c.account_id
		  WHERE c.kind = $1 AND c.contact = $2 AND a.status = 'active'`,
		kind, contact).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return accountID, true, nil
}

// Package store is the pgx-backed persistence layer. Every balance mutation
// runs inside a single transaction with SELECT ... FOR UPDATE row locks
// acquired in ascending account-id order, so concurrent submissions against
// the same accounts serialize instead of deadlocking or losing updates. The
// transaction records capturing balance_before/balance_after are written
// under the same lock, which is what keeps the per-account chain gapless.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/harborbank/fundsflow/internal/domain"
	"github.com/harborbank/fundsflow/internal/service"
)

type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func New(connString string, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Store{db: pool, logger: logger}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// Pool exposes the underlying pool for tooling (seeder, idempotency layer).
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// mapPgError translates driver failures into domain errors. 40001 is a
// serialization failure under RepeatableRead and is retried upstream.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return domain.ErrConcurrencyConflict
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRow(ctx,
		`SELECT id, owner_id, type, balance, status, created_at FROM accounts WHERE id = $1`,
		id).Scan(&a.ID, &a.OwnerID, &a.Type, &a.Balance, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

// lockAccount acquires the row lock and returns the balance and status seen
// under it. Callers must hold an open transaction.
func lockAccount(ctx context.Context, tx pgx.Tx, id int64) (balance int64, status domain.AccountStatus, err error) {
	err = tx.QueryRow(ctx,
		`SELECT balance, status FROM accounts WHERE id = $1 FOR UPDATE`,
		id).Scan(&balance, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", domain.ErrAccountNotFound
	}
	return balance, status, err
}

func insertRecord(ctx context.Context, tx pgx.Tx, rec *domain.TransactionRecord) error {
	return tx.QueryRow(ctx,
		`INSERT INTO transaction_records
		   (account_id, kind, amount, status, reference, balance_before, balance_after, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id, created_at`,
		rec.AccountID, rec.Kind, rec.Amount, rec.Status, rec.Reference,
		rec.BalanceBefore, rec.BalanceAfter,
	).Scan(&rec.ID, &rec.CreatedAt)
}

func updateBalance(ctx context.Context, tx pgx.Tx, accountID, newBalance int64) error {
	_, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1 WHERE id = $2`, newBalance, accountID)
	return err
}

// saveRequest persists the status change conditionally on the row still being
// in the state the caller observed. Zero rows affected means another lifecycle
// operation won the race; the caller's transaction rolls back, taking the
// ledger legs with it.
func saveRequest(ctx context.Context, tx pgx.Tx, req *domain.TransferRequest) error {
	tag, err := tx.Exec(ctx,
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

// CommitAtomicTransfer moves amount from sender to recipient and charges the
// fee: both legs or neither. Locks are taken in ascending id order so paired
// updates cannot deadlock.
func (s *Store) CommitAtomicTransfer(ctx context.Context, req *domain.TransferRequest) (*service.CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	first, second := req.FromAccountID, req.RecipientAccountID
	if first > second {
		first, second = second, first
	}
	bal1, st1, err := lockAccount(ctx, tx, first)
	if err != nil {
		return nil, mapPgError(err)
	}
	bal2, st2, err := lockAccount(ctx, tx, second)
	if err != nil {
		return nil, mapPgError(err)
	}

	fromBalance, toBalance := bal1, bal2
	fromStatus, toStatus := st1, st2
	if req.FromAccountID != first {
		fromBalance, toBalance = bal2, bal1
		fromStatus, toStatus = st2, st1
	}
	if fromStatus != domain.AccountActive || toStatus != domain.AccountActive {
		return nil, domain.ErrAccountNotActive
	}

	total := req.TotalRequired()
	if fromBalance < total {
		return nil, domain.ErrInsufficientFunds
	}

	running := fromBalance
	out := &domain.TransactionRecord{
		AccountID:     req.FromAccountID,
		Kind:          domain.RecordTransferOut,
		Amount:        -req.Amount,
		Status:        domain.RecordCompleted,
		Reference:     req.Reference + "-OUT",
		BalanceBefore: running,
		BalanceAfter:  running - req.Amount,
	}
	if err := insertRecord(ctx, tx, out); err != nil {
		return nil, mapPgError(err)
	}
	running -= req.Amount

	if req.Fee > 0 {
		feeRec := &domain.TransactionRecord{
			AccountID:     req.FromAccountID,
			Kind:          domain.RecordFee,
			Amount:        -req.Fee,
			Status:        domain.RecordCompleted,
			Reference:     req.Reference + "-FEE",
			BalanceBefore: running,
			BalanceAfter:  running - req.Fee,
		}
		if err := insertRecord(ctx, tx, feeRec); err != nil {
			return nil, mapPgError(err)
		}
		running -= req.Fee
	}

	in := &domain.TransactionRecord{
		AccountID:     req.RecipientAccountID,
		Kind:          domain.RecordTransferIn,
		Amount:        req.Amount,
		Status:        domain.RecordCompleted,
		Reference:     req.Reference + "-IN",
		BalanceBefore: toBalance,
		BalanceAfter:  toBalance + req.Amount,
	}
	if err := insertRecord(ctx, tx, in); err != nil {
		return nil, mapPgError(err)
	}

	if err := updateBalance(ctx, tx, req.FromAccountID, running); err != nil {
		return nil, mapPgError(err)
	}
	if err := updateBalance(ctx, tx, req.RecipientAccountID, toBalance+req.Amount); err != nil {
		return nil, mapPgError(err)
	}
	if err := saveRequest(ctx, tx, req); err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(fmt.Errorf("tx commit failed: %w", err))
	}
	return &service.CommitResult{FromBalance: running, ToBalance: toBalance + req.Amount}, nil
}

// CommitDebit takes amount+fee from the sender only. Staged settlements
// write pending records; completed withdrawals write completed ones.
func (s *Store) CommitDebit(ctx context.Context, req *domain.TransferRequest, recordStatus domain.RecordStatus) (*service.CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, status, err := lockAccount(ctx, tx, req.FromAccountID)
	if err != nil {
		return nil, mapPgError(err)
	}
	if status != domain.AccountActive {
		return nil, domain.ErrAccountNotActive
	}
	total := req.TotalRequired()
	if balance < total {
		return nil, domain.ErrInsufficientFunds
	}

	kind := domain.RecordTransferOut
	if req.Kind == domain.KindDebitCard {
		kind = domain.RecordWithdrawal
	}

	running := balance
	out := &domain.TransactionRecord{
		AccountID:     req.FromAccountID,
		Kind:          kind,
		Amount:        -req.Amount,
		Status:        recordStatus,
		Reference:     req.Reference + "-OUT",
		BalanceBefore: running,
		BalanceAfter:  running - req.Amount,
	}
	if err := insertRecord(ctx, tx, out); err != nil {
		return nil, mapPgError(err)
	}
	running -= req.Amount

	if req.Fee > 0 {
		feeRec := &domain.TransactionRecord{
			AccountID:     req.FromAccountID,
			Kind:          domain.RecordFee,
			Amount:        -req.Fee,
			Status:        recordStatus,
			Reference:     req.Reference + "-FEE",
			BalanceBefore: running,
			BalanceAfter:  running - req.Fee,
		}
		if err := insertRecord(ctx, tx, feeRec); err != nil {
			return nil, mapPgError(err)
		}
		running -= req.Fee
	}

	if err := updateBalance(ctx, tx, req.FromAccountID, running); err != nil {
		return nil, mapPgError(err)
	}
	if err := saveRequest(ctx, tx, req); err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(fmt.Errorf("tx commit failed: %w", err))
	}
	return &service.CommitResult{FromBalance: running}, nil
}

// CompensateCredit returns amount+fee to the sender after a post-debit
// failure or cancellation of held funds. The original debit legs are marked
// with recordStatus and a completed deposit record documents the return.
func (s *Store) CompensateCredit(ctx context.Context, req *domain.TransferRequest, recordStatus domain.RecordStatus, reason string) (*service.CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, _, err := lockAccount(ctx, tx, req.FromAccountID)
	if err != nil {
		return nil, mapPgError(err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE transaction_records SET status = $1 WHERE reference IN ($2, $3)`,
		recordStatus, req.Reference+"-OUT", req.Reference+"-FEE")
	if err != nil {
		return nil, mapPgError(err)
	}

	total := req.TotalRequired()
	back := &domain.TransactionRecord{
		AccountID:     req.FromAccountID,
		Kind:          domain.RecordDeposit,
		Amount:        total,
		Status:        domain.RecordCompleted,
		Reference:     req.Reference + "-RTN",
		BalanceBefore: balance,
		BalanceAfter:  balance + total,
	}
	if err := insertRecord(ctx, tx, back); err != nil {
		return nil, mapPgError(err)
	}

	if err := updateBalance(ctx, tx, req.FromAccountID, balance+total); err != nil {
		return nil, mapPgError(err)
	}
	if err := saveRequest(ctx, tx, req); err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(fmt.Errorf("tx commit failed: %w", err))
	}
	s.logger.Info("compensating credit committed",
		zap.String("reference", req.Reference),
		zap.Int64("amount", total),
		zap.String("reason", reason))
	return &service.CommitResult{FromBalance: balance + total}, nil
}

// ResolvePendingCredit completes a held p2p send by crediting the recipient.
// The sender's debit from initiation is left untouched apart from its status
// flipping to completed.
func (s *Store) ResolvePendingCredit(ctx context.Context, req *domain.TransferRequest) (*service.CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, status, err := lockAccount(ctx, tx, req.RecipientAccountID)
	if err != nil {
		return nil, mapPgError(err)
	}
	if status != domain.AccountActive {
		return nil, domain.ErrAccountNotActive
	}

	_, err = tx.Exec(ctx,
		`UPDATE transaction_records SET status = $1 WHERE reference = $2`,
		domain.RecordCompleted, req.Reference+"-OUT")
	if err != nil {
		return nil, mapPgError(err)
	}

	in := &domain.TransactionRecord{
		AccountID:     req.RecipientAccountID,
		Kind:          domain.RecordTransferIn,
		Amount:        req.Amount,
		Status:        domain.RecordCompleted,
		Reference:     req.Reference + "-IN",
		BalanceBefore: balance,
		BalanceAfter:  balance + req.Amount,
	}
	if err := insertRecord(ctx, tx, in); err != nil {
		return nil, mapPgError(err)
	}
	if err := updateBalance(ctx, tx, req.RecipientAccountID, balance+req.Amount); err != nil {
		return nil, mapPgError(err)
	}
	if err := saveRequest(ctx, tx, req); err != nil {
		return nil, mapPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(fmt.Errorf("tx commit failed: %w", err))
	}

	var senderBalance int64
	if err := s.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, req.FromAccountID).Scan(&senderBalance); err != nil {
		senderBalance = 0
	}
	return &service.CommitResult{FromBalance: senderBalance, ToBalance: balance + req.Amount}, nil
}

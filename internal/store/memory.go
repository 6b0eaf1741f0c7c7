package store

import (
	"context"
	"sync"
	"time"

	"github.com/harborbank/fundsflow/internal/domain"
	"github.com/harborbank/fundsflow/internal/service"
)

// Memory is an in-memory Store with the same commit semantics as the
// postgres implementation: every mutation is serialized, records are written
// with the balance change, and a failed debit leaves nothing behind. It backs
// tests and local development without a database.
type Memory struct {
	mu         sync.Mutex
	accounts   map[int64]*domain.Account
	requests   map[string]*domain.TransferRequest
	refToID    map[string]string
	records    []domain.TransactionRecord
	challenges map[string]*domain.VerificationChallenge
	contacts   map[string]int64
	idemKeys   map[string]*IdempotencyRecord
	nextRecID  int64
	nextAccID  int64
}

func NewMemory() *Memory {
	return &Memory{
		accounts:   map[int64]*domain.Account{},
		requests:   map[string]*domain.TransferRequest{},
		refToID:    map[string]string{},
		challenges: map[string]*domain.VerificationChallenge{},
		contacts:   map[string]int64{},
		idemKeys:   map[string]*IdempotencyRecord{},
	}
}

// CreateAccount registers an account and returns its id.
func (m *Memory) CreateAccount(ownerID, balance int64, status domain.AccountStatus) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextAccID++
	m.accounts[m.nextAccID] = &domain.Account{
		ID:        m.nextAccID,
		OwnerID:   ownerID,
		Type:      "checking",
		Balance:   balance,
		Status:    status,
		CreatedAt: time.Now(),
	}
	return m.nextAccID
}

// RegisterContact enrolls a p2p contact for an account.
func (m *Memory) RegisterContact(kind, contact string, accountID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[kind+"|"+contact] = accountID
}

func (m *Memory) GetAccount(ctx context.Context, id int64) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	copy := *a
	return &copy, nil
}

func (m *Memory) LookupContact(ctx context.Context, kind, contact string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.contacts[kind+"|"+contact]
	if !ok {
		return 0, false, nil
	}
	if a, exists := m.accounts[id]; !exists || a.Status != domain.AccountActive {
		return 0, false, nil
	}
	return id, true, nil
}

func (m *Memory) CreateTransferRequest(ctx context.Context, req *domain.TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *req
	m.requests[req.ID] = &copy
	m.refToID[req.Reference] = req.ID
	return nil
}

func (m *Memory) GetTransferRequest(ctx context.Context, id string) (*domain.TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	copy := *r
	return &copy, nil
}

func (m *Memory) GetTransferRequestByReference(ctx context.Context, reference string) (*domain.TransferRequest, error) {
	m.mu.Lock()
	id, ok := m.refToID[reference]
	m.mu.Unlock()
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return m.GetTransferRequest(ctx, id)
}

func (m *Memory) UpdateTransferRequest(ctx context.Context, req *domain.TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guardRequestLocked(req); err != nil {
		return err
	}
	copy := *req
	copy.UpdatedAt = time.Now()
	m.requests[req.ID] = &copy
	return nil
}

// guardRequestLocked enforces the stored-status precondition before any
// balance mutation, mirroring the conditional UPDATE the postgres store runs.
// A request another operation has already advanced fails here and the commit
// never touches the ledger.
func (m *Memory) guardRequestLocked(req *domain.TransferRequest) error {
	stored, ok := m.requests[req.ID]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if stored.Status != req.PrevStatus {
		return domain.ErrInvalidTransition
	}
	return nil
}

func (m *Memory) DailyExternalOutflow(ctx context.Context, accountID int64, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, r := range m.requests {
		if r.FromAccountID != accountID || !r.Kind.External() {
			continue
		}
		if r.Status == domain.StatusFailed || r.Status == domain.StatusCancelled {
			continue
		}
		if r.CreatedAt.Before(since) {
			continue
		}
		total += r.Amount
	}
	return total, nil
}

func (m *Memory) appendRecord(accountID int64, kind domain.RecordKind, amount int64, status domain.RecordStatus, reference string, before int64) int64 {
	m.nextRecID++
	m.records = append(m.records, domain.TransactionRecord{
		ID:            m.nextRecID,
		AccountID:     accountID,
		Kind:          kind,
		Amount:        amount,
		Status:        status,
		Reference:     reference,
		BalanceBefore: before,
		BalanceAfter:  before + amount,
		CreatedAt:     time.Now(),
	})
	return before + amount
}

func (m *Memory) saveRequestLocked(req *domain.TransferRequest) {
	copy := *req
	copy.UpdatedAt = time.Now()
	m.requests[req.ID] = &copy
}

func (m *Memory) CommitAtomicTransfer(ctx context.Context, req *domain.TransferRequest) (*service.CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardRequestLocked(req); err != nil {
		return nil, err
	}
	from, ok := m.accounts[req.FromAccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	to, ok := m.accounts[req.RecipientAccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if from.Status != domain.AccountActive || to.Status != domain.AccountActive {
		return nil, domain.ErrAccountNotActive
	}
	if from.Balance < req.TotalRequired() {
		return nil, domain.ErrInsufficientFunds
	}

	running := m.appendRecord(from.ID, domain.RecordTransferOut, -req.Amount, domain.RecordCompleted, req.Reference+"-OUT", from.Balance)
	if req.Fee > 0 {
		running = m.appendRecord(from.ID, domain.RecordFee, -req.Fee, domain.RecordCompleted, req.Reference+"-FEE", running)
	}
	toBalance := m.appendRecord(to.ID, domain.RecordTransferIn, req.Amount, domain.RecordCompleted, req.Reference+"-IN", to.Balance)

	from.Balance = running
	to.Balance = toBalance
	m.saveRequestLocked(req)
	return &service.CommitResult{FromBalance: running, ToBalance: toBalance}, nil
}

func (m *Memory) CommitDebit(ctx context.Context, req *domain.TransferRequest, recordStatus domain.RecordStatus) (*service.CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardRequestLocked(req); err != nil {
		return nil, err
	}
	from, ok := m.accounts[req.FromAccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if from.Status != domain.AccountActive {
		return nil, domain.ErrAccountNotActive
	}
	if from.Balance < req.TotalRequired() {
		return nil, domain.ErrInsufficientFunds
	}

	kind := domain.RecordTransferOut
	if req.Kind == domain.KindDebitCard {
		kind = domain.RecordWithdrawal
	}
	running := m.appendRecord(from.ID, kind, -req.Amount, recordStatus, req.Reference+"-OUT", from.Balance)
	if req.Fee > 0 {
		running = m.appendRecord(from.ID, domain.RecordFee, -req.Fee, recordStatus, req.Reference+"-FEE", running)
	}

	from.Balance = running
	m.saveRequestLocked(req)
	return &service.CommitResult{FromBalance: running}, nil
}

func (m *Memory) CompensateCredit(ctx context.Context, req *domain.TransferRequest, recordStatus domain.RecordStatus, reason string) (*service.CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardRequestLocked(req); err != nil {
		return nil, err
	}
	from, ok := m.accounts[req.FromAccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	for i := range m.records {
		ref := m.records[i].Reference
		if ref == req.Reference+"-OUT" || ref == req.Reference+"-FEE" {
			m.records[i].Status = recordStatus
		}
	}
	total := req.TotalRequired()
	newBalance := m.appendRecord(from.ID, domain.RecordDeposit, total, domain.RecordCompleted, req.Reference+"-RTN", from.Balance)
	from.Balance = newBalance
	m.saveRequestLocked(req)
	return &service.CommitResult{FromBalance: newBalance}, nil
}

func (m *Memory) ResolvePendingCredit(ctx context.Context, req *domain.TransferRequest) (*service.CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.guardRequestLocked(req); err != nil {
		return nil, err
	}
	to, ok := m.accounts[req.RecipientAccountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if to.Status != domain.AccountActive {
		return nil, domain.ErrAccountNotActive
	}
	for i := range m.records {
		if m.records[i].Reference == req.Reference+"-OUT" {
			m.records[i].Status = domain.RecordCompleted
		}
	}
	toBalance := m.appendRecord(to.ID, domain.RecordTransferIn, req.Amount, domain.RecordCompleted, req.Reference+"-IN", to.Balance)
	to.Balance = toBalance
	m.saveRequestLocked(req)

	var fromBalance int64
	if from, ok := m.accounts[req.FromAccountID]; ok {
		fromBalance = from.Balance
	}
	return &service.CommitResult{FromBalance: fromBalance, ToBalance: toBalance}, nil
}

func (m *Memory) ListTransactions(ctx context.Context, accountID int64) ([]domain.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TransactionRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].AccountID == accountID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// Challenge persistence for the verification gate.

func (m *Memory) CreateChallenge(ctx context.Context, ch *domain.VerificationChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy := *ch
	m.challenges[ch.ID] = &copy
	return nil
}

func (m *Memory) ActiveChallenge(ctx context.Context, transferRequestID string) (*domain.VerificationChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.VerificationChallenge
	for _, ch := range m.challenges {
		if ch.TransferRequestID != transferRequestID || ch.Invalidated {
			continue
		}
		if latest == nil || ch.CreatedAt.After(latest.CreatedAt) {
			latest = ch
		}
	}
	if latest == nil {
		return nil, nil
	}
	copy := *latest
	return &copy, nil
}

func (m *Memory) UpdateChallenge(ctx context.Context, ch *domain.VerificationChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.challenges[ch.ID]
	if !ok {
		return domain.ErrRequestNotFound
	}
	stored.AttemptsUsed = ch.AttemptsUsed
	stored.Invalidated = ch.Invalidated
	return nil
}

// Idempotency keys.

func (m *Memory) ReserveIdempotencyKey(ctx context.Context, key, requestHash string) (*IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.idemKeys[key]; ok {
		if rec.RequestHash != requestHash {
			return nil, ErrIdempotencyMismatch
		}
		if rec.Status != "completed" {
			return nil, ErrIdempotencyConflict
		}
		copy := *rec
		return &copy, nil
	}
	m.idemKeys[key] = &IdempotencyRecord{Key: key, RequestHash: requestHash, Status: "in_progress"}
	return nil, nil
}

func (m *Memory) CompleteIdempotencyKey(ctx context.Context, key string, responseStatus int, responseBody []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.idemKeys[key]
	if !ok {
		return nil
	}
	rec.Status = "completed"
	rec.ResponseStatus = responseStatus
	rec.ResponseBody = responseBody
	return nil
}

func (m *Memory) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.idemKeys[key]; ok && rec.Status == "in_progress" {
		delete(m.idemKeys, key)
	}
	return nil
}

package domain

import "time"

// AccountStatus reflects the onboarding lifecycle. Accounts are created by an
// external process; the engine only ever mutates balances of active accounts.
type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountPending AccountStatus = "pending"
	AccountClosed  AccountStatus = "closed"
)

// Account represents a customer's balance in the ledger. Balance is in minor
// units (cents) and is mutated only through the store's locked transactions.
type Account struct {
	ID        int64         `json:"id"`
	OwnerID   int64         `json:"owner_id"`
	Type      string        `json:"type"`
	Balance   int64         `json:"balance"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// TransferKind discriminates the funds-movement flows. Each kind carries its
// own required-field set, fee, limit, and verification threshold.
type TransferKind string

const (
	KindInternal          TransferKind = "internal"
	KindP2P               TransferKind = "p2p"
	KindExternalACH       TransferKind = "external_ach"
	KindWireDomestic      TransferKind = "wire_domestic"
	KindWireInternational TransferKind = "wire_international"
	KindDebitCard         TransferKind = "debit_card"
)

// Valid reports whether k is one of the known transfer kinds.
func (k TransferKind) Valid() bool {
	switch k {
	case KindInternal, KindP2P, KindExternalACH, KindWireDomestic, KindWireInternational, KindDebitCard:
		return true
	}
	return false
}

// External reports whether the kind leaves the bank and counts against the
// daily external outflow cap.
func (k TransferKind) External() bool {
	switch k {
	case KindExternalACH, KindWireDomestic, KindWireInternational:
		return true
	}
	return false
}

// RecordKind tags one leg of a committed movement in the transaction log.
type RecordKind string

const (
	RecordTransferOut RecordKind = "transfer_out"
	RecordTransferIn  RecordKind = "transfer_in"
	RecordWithdrawal  RecordKind = "withdrawal"
	RecordFee         RecordKind = "fee"
	RecordDeposit     RecordKind = "deposit"
)

// RecordStatus is the lifecycle of a single transaction record.
type RecordStatus string

const (
	RecordPending   RecordStatus = "pending"
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
	RecordCancelled RecordStatus = "cancelled"
)

// TransactionRecord is one signed ledger movement against a single account.
// BalanceAfter = BalanceBefore + Amount always holds, and an account's records
// chain with no gaps because they are written under the same row lock that
// performed the balance mutation.
type TransactionRecord struct {
	ID            int64        `json:"id"`
	AccountID     int64        `json:"account_id"`
	Kind          RecordKind   `json:"kind"`
	Amount        int64        `json:"amount"`
	Status        RecordStatus `json:"status"`
	Reference     string       `json:"reference"`
	BalanceBefore int64        `json:"balance_before"`
	BalanceAfter  int64        `json:"balance_after"`
	CreatedAt     time.Time    `json:"created_at"`
}

// VerificationState tracks whether a request is gated behind a one-time code.
type VerificationState string

const (
	VerificationNone     VerificationState = "none"
	VerificationPending  VerificationState = "pending"
	VerificationVerified VerificationState = "verified"
)

// TransferRequest is the durable intent to move money. It is created by the
// orchestrator and mutated only by the orchestrator and the verification gate.
// Once Status reaches a terminal state the row is immutable.
type TransferRequest struct {
	ID                 string            `json:"id"`
	UserID             int64             `json:"user_id"`
	FromAccountID      int64             `json:"from_account_id"`
	RecipientAccountID int64             `json:"recipient_account_id,omitempty"`
	RecipientContact   string            `json:"recipient_contact,omitempty"`
	Amount             int64             `json:"amount"`
	Fee                int64             `json:"fee"`
	Kind               TransferKind      `json:"kind"`
	Reference          string            `json:"reference"`
	VerificationState  VerificationState `json:"verification_state"`
	Status             Status            `json:"status"`
	// PrevStatus is the status observed before the last Transition. Stores
	// use it as the precondition when persisting the new status, so a request
	// another operation has already advanced cannot be overwritten.
	PrevStatus         Status            `json:"-"`
	RoutingNumber      string            `json:"routing_number,omitempty"`
	AccountNumber      string            `json:"account_number,omitempty"`
	SwiftCode          string            `json:"swift_code,omitempty"`
	IBAN               string            `json:"iban,omitempty"`
	FailureReason      string            `json:"failure_reason,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// TotalRequired is the amount the sender must cover, fee included.
func (r *TransferRequest) TotalRequired() int64 {
	return r.Amount + r.Fee
}

// VerificationChallenge is a short-lived one-time code bound to a transfer
// request. The plaintext code is never stored, only its hash. A challenge dies
// on success, expiry, attempt exhaustion, or when a resend replaces it.
type VerificationChallenge struct {
	ID                string    `json:"id"`
	TransferRequestID string    `json:"transfer_request_id"`
	CodeHash          string    `json:"-"`
	ExpiresAt         time.Time `json:"expires_at"`
	MaxAttempts       int       `json:"max_attempts"`
	AttemptsUsed      int       `json:"attempts_used"`
	ResendNotBefore   time.Time `json:"resend_not_before"`
	Invalidated       bool      `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

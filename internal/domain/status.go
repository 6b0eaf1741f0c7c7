package domain

// Status is the lifecycle state of a TransferRequest.
//
//	initiated -> pending_verification -> pending_settlement | completed
//
// Any non-terminal state may move to failed (system or settlement error) or
// cancelled (user abandoned). completed, failed and cancelled are terminal.
// Validation rejections are synchronous responses, never persisted, so they
// have no state here.
type Status string

const (
	StatusInitiated           Status = "initiated"
	StatusPendingVerification Status = "pending_verification"
	StatusPendingSettlement   Status = "pending_settlement"
	StatusCompleted           Status = "completed"
	StatusFailed              Status = "failed"
	StatusCancelled           Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusInitiated:           {StatusPendingVerification, StatusPendingSettlement, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPendingVerification: {StatusPendingSettlement, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPendingSettlement:   {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates and applies a status change on the request. The
// outgoing status is kept in PrevStatus so the store can make the change
// conditional on the persisted row still being in that state.
func (r *TransferRequest) Transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return ErrInvalidTransition
	}
	r.PrevStatus = r.Status
	r.Status = to
	return nil
}

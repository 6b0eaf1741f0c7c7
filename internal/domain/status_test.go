package domain

import (
	"errors"
	"testing"
)

func TestStatusTransitions(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusInitiated, StatusPendingVerification},
		{StatusInitiated, StatusPendingSettlement},
		{StatusInitiated, StatusCompleted},
		{StatusInitiated, StatusFailed},
		{StatusInitiated, StatusCancelled},
		{StatusPendingVerification, StatusPendingSettlement},
		{StatusPendingVerification, StatusCompleted},
		{StatusPendingVerification, StatusCancelled},
		{StatusPendingSettlement, StatusCompleted},
		{StatusPendingSettlement, StatusFailed},
		{StatusPendingSettlement, StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	forbidden := []struct{ from, to Status }{
		{StatusCompleted, StatusFailed},
		{StatusCompleted, StatusPendingSettlement},
		{StatusFailed, StatusCompleted},
		{StatusCancelled, StatusCompleted},
		{StatusPendingSettlement, StatusPendingVerification},
		{StatusCompleted, StatusCompleted},
	}
	for _, tc := range forbidden {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("%s -> %s should be forbidden", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusInitiated, StatusPendingVerification, StatusPendingSettlement} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRequestTransition(t *testing.T) {
	req := &TransferRequest{Status: StatusInitiated}
	if err := req.Transition(StatusCompleted); err != nil {
		t.Fatalf("initiated -> completed: %v", err)
	}
	if err := req.Transition(StatusFailed); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> failed: want ErrInvalidTransition, got %v", err)
	}
	if req.Status != StatusCompleted {
		t.Fatalf("failed transition must not change status, got %s", req.Status)
	}
}

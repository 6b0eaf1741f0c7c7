// Package otp implements the verification gate: one-time 6-digit codes that
// guard high-value funds movements. Codes are stored hashed, expire after a
// TTL, allow a bounded number of attempts, and may be resent only after a
// cooldown. A gated ledger mutation must not commit until Verify returns
// ResultSuccess.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harborbank/fundsflow/internal/domain"
)

var (
	ErrNoChallenge    = errors.New("no active challenge")
	ErrResendCooldown = errors.New("resend cooldown in effect")
)

// Result is the outcome of a single verification attempt.
type Result string

const (
	ResultSuccess          Result = "success"
	ResultMismatch         Result = "mismatch"
	ResultExpired          Result = "expired"
	ResultAttemptsExceeded Result = "attempts_exceeded"
)

// Store is the persistence the gate needs. The postgres store implements it;
// tests use an in-memory copy.
type Store interface {
	CreateChallenge(ctx context.Context, ch *domain.VerificationChallenge) error
	ActiveChallenge(ctx context.Context, transferRequestID string) (*domain.VerificationChallenge, error)
	UpdateChallenge(ctx context.Context, ch *domain.VerificationChallenge) error
}

// Config tunes the gate. Zero values are replaced with the defaults from the
// config package at wiring time.
type Config struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

// Gate issues and checks verification challenges. Attempt counting must be
// exact under concurrency, so verification for a given request is serialized
// through a per-request mutex.
type Gate struct {
	store  Store
	cfg    Config
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewGate(store Store, cfg Config, logger *zap.Logger) *Gate {
	return &Gate{
		store:  store,
		cfg:    cfg,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
	}
}

func (g *Gate) lockFor(requestID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[requestID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[requestID] = l
	}
	return l
}

// acquire locks the request's current mutex. A caller that was queued on a
// mutex released in the meantime retries against the fresh entry, so two
// holders can never proceed at once.
func (g *Gate) acquire(requestID string) *sync.Mutex {
	for {
		l := g.lockFor(requestID)
		l.Lock()
		g.mu.Lock()
		cur := g.locks[requestID]
		g.mu.Unlock()
		if cur == l {
			return l
		}
		l.Unlock()
	}
}

// release drops the per-request mutex once no active challenge remains, so
// the map does not grow with every request ever gated.
func (g *Gate) release(requestID string) {
	g.mu.Lock()
	delete(g.locks, requestID)
	g.mu.Unlock()
}

// Issue creates a challenge for the transfer request and returns it together
// with the plaintext code. The code goes out through the notification
// dispatcher and is never persisted.
func (g *Gate) Issue(ctx context.Context, transferRequestID string) (*domain.VerificationChallenge, string, error) {
	code, err := generateCode()
	if err != nil {
		return nil, "", fmt.Errorf("code generation failed: %w", err)
	}

	now := time.Now()
	ch := &domain.VerificationChallenge{
		ID:                uuid.NewString(),
		TransferRequestID: transferRequestID,
		CodeHash:          hashCode(code),
		ExpiresAt:         now.Add(g.cfg.TTL),
		MaxAttempts:       g.cfg.MaxAttempts,
		ResendNotBefore:   now.Add(g.cfg.ResendCooldown),
		CreatedAt:         now,
	}
	if err := g.store.CreateChallenge(ctx, ch); err != nil {
		return nil, "", fmt.Errorf("challenge persist failed: %w", err)
	}

	g.logger.Info("verification challenge issued",
		zap.String("challenge_id", ch.ID),
		zap.String("transfer_request_id", transferRequestID),
		zap.Time("expires_at", ch.ExpiresAt))
	return ch, code, nil
}

// Resend invalidates the active challenge and issues a fresh one. It is
// refused until the previous challenge's cooldown has elapsed.
func (g *Gate) Resend(ctx context.Context, transferRequestID string) (*domain.VerificationChallenge, string, error) {
	l := g.acquire(transferRequestID)
	defer l.Unlock()

	prev, err := g.store.ActiveChallenge(ctx, transferRequestID)
	if err != nil {
		return nil, "", err
	}
	if prev != nil {
		if time.Now().Before(prev.ResendNotBefore) {
			return nil, "", ErrResendCooldown
		}
		prev.Invalidated = true
		if err := g.store.UpdateChallenge(ctx, prev); err != nil {
			return nil, "", fmt.Errorf("challenge invalidation failed: %w", err)
		}
	}
	return g.Issue(ctx, transferRequestID)
}

// Verify checks a submitted code against the request's active challenge.
// Each wrong code burns one attempt; reaching the cap locks the challenge.
func (g *Gate) Verify(ctx context.Context, transferRequestID, code string) (Result, error) {
	l := g.acquire(transferRequestID)
	defer l.Unlock()

	ch, err := g.store.ActiveChallenge(ctx, transferRequestID)
	if err != nil {
		return "", err
	}
	if ch == nil {
		g.release(transferRequestID)
		return "", ErrNoChallenge
	}

	if time.Now().After(ch.ExpiresAt) {
		ch.Invalidated = true
		if err := g.store.UpdateChallenge(ctx, ch); err != nil {
			return "", err
		}
		g.release(transferRequestID)
		return ResultExpired, nil
	}
	if ch.AttemptsUsed >= ch.MaxAttempts {
		return ResultAttemptsExceeded, nil
	}

	ch.AttemptsUsed++
	if hashCode(code) != ch.CodeHash {
		if ch.AttemptsUsed >= ch.MaxAttempts {
			ch.Invalidated = true
			g.logger.Warn("verification challenge locked",
				zap.String("challenge_id", ch.ID),
				zap.Int("attempts", ch.AttemptsUsed))
		}
		if err := g.store.UpdateChallenge(ctx, ch); err != nil {
			return "", err
		}
		if ch.AttemptsUsed >= ch.MaxAttempts {
			g.release(transferRequestID)
			return ResultAttemptsExceeded, nil
		}
		return ResultMismatch, nil
	}

	// Success destroys the challenge.
	ch.Invalidated = true
	if err := g.store.UpdateChallenge(ctx, ch); err != nil {
		return "", err
	}
	g.release(transferRequestID)
	return ResultSuccess, nil
}

// Invalidate kills any active challenge, used when a request is cancelled.
func (g *Gate) Invalidate(ctx context.Context, transferRequestID string) error {
	l := g.acquire(transferRequestID)
	defer l.Unlock()

	ch, err := g.store.ActiveChallenge(ctx, transferRequestID)
	if err != nil {
		return err
	}
	if ch == nil {
		g.release(transferRequestID)
		return nil
	}
	ch.Invalidated = true
	if err := g.store.UpdateChallenge(ctx, ch); err != nil {
		return err
	}
	g.release(transferRequestID)
	return nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/harborbank/fundsflow/internal/domain"
	"github.com/harborbank/fundsflow/internal/otp"
	"github.com/harborbank/fundsflow/internal/service"
	"github.com/harborbank/fundsflow/internal/store"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundsflow_http_requests_total",
		Help: "Total HTTP requests, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fundsflow_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fundsflow_transfers_total",
		Help: "Funds movements by kind and outcome status",
	}, []string{"kind", "status"})
)

// Storage is the read and idempotency surface the handlers use directly.
// Both the postgres store and the in-memory store satisfy it.
type Storage interface {
	GetAccount(ctx context.Context, id int64) (*domain.Account, error)
	ListTransactions(ctx context.Context, accountID int64) ([]domain.TransactionRecord, error)
	GetTransferRequestByReference(ctx context.Context, reference string) (*domain.TransferRequest, error)
	ReserveIdempotencyKey(ctx context.Context, key, requestHash string) (*store.IdempotencyRecord, error)
	CompleteIdempotencyKey(ctx context.Context, key string, responseStatus int, responseBody []byte) error
	ReleaseIdempotencyKey(ctx context.Context, key string) error
}

type Handler struct {
	store  Storage
	svc    *service.Orchestrator
	logger *zap.Logger
}

func NewHandler(s Storage, svc *service.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{store: s, svc: svc, logger: logger}
}

// transferPayload is the wire shape of POST /transfers and /withdrawals.
// Amount travels as a decimal string; minor-unit conversion happens here.
type transferPayload struct {
	FromAccount      int64  `json:"from_account"`
	RecipientAccount int64  `json:"recipient_account,omitempty"`
	RecipientContact string `json:"recipient_contact,omitempty"`
	Amount           string `json:"amount"`
	Kind             string `json:"kind"`
	RoutingNumber    string `json:"routing_number,omitempty"`
	AccountNumber    string `json:"account_number,omitempty"`
	SwiftCode        string `json:"swift_code,omitempty"`
	IBAN             string `json:"iban,omitempty"`
}

type outcomeResponse struct {
	TransferRequestID  string     `json:"transfer_request_id"`
	Reference          string     `json:"reference"`
	Status             string     `json:"status"`
	Fee                string     `json:"fee"`
	NewBalance         string     `json:"new_balance,omitempty"`
	ChallengeExpiresAt *time.Time `json:"challenge_expires_at,omitempty"`
}

func renderOutcome(o *service.Outcome) outcomeResponse {
	resp := outcomeResponse{
		TransferRequestID: o.RequestID,
		Reference:         o.Reference,
		Status:            string(o.Status),
		Fee:               domain.FormatAmount(o.Fee),
	}
	if o.NewBalance != 0 || o.Status == domain.StatusCompleted {
		resp.NewBalance = domain.FormatAmount(o.NewBalance)
	}
	if !o.ChallengeExpiresAt.IsZero() {
		t := o.ChallengeExpiresAt
		resp.ChallengeExpiresAt = &t
	}
	return resp
}

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "/transfers", func(k domain.TransferKind) bool { return k.Valid() })
}

// CreateWithdrawal is the same pipeline restricted to the withdrawal kinds.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, "/withdrawals", func(k domain.TransferKind) bool {
		switch k {
		case domain.KindDebitCard, domain.KindExternalACH, domain.KindWireDomestic, domain.KindWireInternational:
			return true
		}
		return false
	})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, endpoint string, kindAllowed func(domain.TransferKind) bool) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	userID, ok := authenticatedUser(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Missing X-User-ID", "POST", endpoint)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Stream read error", "POST", endpoint)
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(body))

	// Optional exactly-once semantics via Idempotency-Key; an exact
	// resubmission replays the stored response instead of re-committing.
	idemKey := r.Header.Get("Idempotency-Key")
	var reqHash string
	if idemKey != "" {
		sum := sha256.Sum256(body)
		reqHash = hex.EncodeToString(sum[:])
		cached, err := h.store.ReserveIdempotencyKey(r.Context(), idemKey, reqHash)
		if err != nil {
			h.respondIdempotencyError(w, err, endpoint)
			return
		}
		if cached != nil {
			httpReqTotal.WithLabelValues("POST", endpoint, strconv.Itoa(cached.ResponseStatus)).Inc()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replay", "true")
			w.WriteHeader(cached.ResponseStatus)
			w.Write(cached.ResponseBody)
			return
		}
	}

	var payload transferPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.releaseKey(r, idemKey)
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	kind := domain.TransferKind(payload.Kind)
	if !kindAllowed(kind) {
		h.releaseKey(r, idemKey)
		h.respondError(w, http.StatusBadRequest, "Unsupported kind for this endpoint", "POST", endpoint)
		return
	}

	amount, err := domain.ParseAmount(payload.Amount)
	if err != nil {
		h.releaseKey(r, idemKey)
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}

	outcome, err := h.svc.Submit(r.Context(), &service.SubmitRequest{
		UserID:             userID,
		FromAccountID:      payload.FromAccount,
		RecipientAccountID: payload.RecipientAccount,
		RecipientContact:   payload.RecipientContact,
		Amount:             amount,
		Kind:               kind,
		RoutingNumber:      payload.RoutingNumber,
		AccountNumber:      payload.AccountNumber,
		SwiftCode:          payload.SwiftCode,
		IBAN:               payload.IBAN,
	})
	if err != nil {
		h.releaseKey(r, idemKey)
		transfersTotal.WithLabelValues(string(kind), "rejected").Inc()
		h.respondServiceError(w, err, "POST", endpoint)
		return
	}

	transfersTotal.WithLabelValues(string(kind), string(outcome.Status)).Inc()
	resp := renderOutcome(outcome)
	if idemKey != "" {
		respBody, _ := json.Marshal(resp)
		if err := h.store.CompleteIdempotencyKey(r.Context(), idemKey, http.StatusOK, respBody); err != nil {
			h.logger.Error("idempotency completion failed", zap.String("key", idemKey), zap.Error(err))
		}
	}
	h.respondJSON(w, http.StatusOK, resp, "POST", endpoint)
}

// VerifyTransfer resumes a gated request once the one-time code checks out.
func (h *Handler) VerifyTransfer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TransferRequestID string `json:"transfer_request_id"`
		Code              string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/transfers/verify")
		return
	}
	if payload.TransferRequestID == "" || payload.Code == "" {
		h.respondError(w, http.StatusBadRequest, "transfer_request_id and code are required", "POST", "/transfers/verify")
		return
	}

	outcome, err := h.svc.Verify(r.Context(), payload.TransferRequestID, payload.Code)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/transfers/verify")
		return
	}
	transfersTotal.WithLabelValues("verified", string(outcome.Status)).Inc()
	h.respondJSON(w, http.StatusOK, renderOutcome(outcome), "POST", "/transfers/verify")
}

func (h *Handler) ResendCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Missing X-User-ID", "POST", "/transfers/{id}/resend")
		return
	}
	id := mux.Vars(r)["id"]
	outcome, err := h.svc.ResendCode(r.Context(), userID, id)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/transfers/{id}/resend")
		return
	}
	h.respondJSON(w, http.StatusOK, renderOutcome(outcome), "POST", "/transfers/{id}/resend")
}

func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Missing X-User-ID", "POST", "/transfers/{id}/cancel")
		return
	}
	id := mux.Vars(r)["id"]
	outcome, err := h.svc.Cancel(r.Context(), userID, id)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/transfers/{id}/cancel")
		return
	}
	h.respondJSON(w, http.StatusOK, renderOutcome(outcome), "POST", "/transfers/{id}/cancel")
}

// ResolveTransfer retries recipient resolution for a held p2p send.
func (h *Handler) ResolveTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := authenticatedUser(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "Missing X-User-ID", "POST", "/transfers/{id}/resolve")
		return
	}
	id := mux.Vars(r)["id"]
	outcome, err := h.svc.ResolvePending(r.Context(), userID, id)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/transfers/{id}/resolve")
		return
	}
	h.respondJSON(w, http.StatusOK, renderOutcome(outcome), "POST", "/transfers/{id}/resolve")
}

// FailSettlement is called by the settlement boundary when an external rail
// rejects a staged transfer.
func (h *Handler) FailSettlement(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/settlements/{reference}/fail")
		return
	}
	if payload.Reason == "" {
		payload.Reason = "settlement rejected"
	}

	outcome, err := h.svc.FailSettlement(r.Context(), reference, payload.Reason)
	if err != nil {
		h.respondServiceError(w, err, "POST", "/settlements/{reference}/fail")
		return
	}
	transfersTotal.WithLabelValues("settlement", "failed").Inc()
	h.respondJSON(w, http.StatusOK, renderOutcome(outcome), "POST", "/settlements/{reference}/fail")
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid account id", "GET", "/accounts/{id}")
		return
	}
	account, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/accounts/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, account, "GET", "/accounts/{id}")
}

func (h *Handler) GetAccountTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid account id", "GET", "/accounts/{id}/transactions")
		return
	}
	records, err := h.store.ListTransactions(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/accounts/{id}/transactions")
		return
	}
	h.respondJSON(w, http.StatusOK, records, "GET", "/accounts/{id}/transactions")
}

func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	req, err := h.store.GetTransferRequestByReference(r.Context(), reference)
	if err != nil {
		h.respondServiceError(w, err, "GET", "/transfers/{reference}")
		return
	}
	h.respondJSON(w, http.StatusOK, req, "GET", "/transfers/{reference}")
}

// authenticatedUser trusts the identity provider's header; session validation
// is an upstream concern.
func authenticatedUser(r *http.Request) (int64, bool) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (h *Handler) releaseKey(r *http.Request, key string) {
	if key == "" {
		return
	}
	if err := h.store.ReleaseIdempotencyKey(r.Context(), key); err != nil {
		h.logger.Error("idempotency release failed", zap.String("key", key), zap.Error(err))
	}
}

func (h *Handler) respondIdempotencyError(w http.ResponseWriter, err error, endpoint string) {
	switch {
	case errors.Is(err, store.ErrIdempotencyConflict):
		h.respondError(w, http.StatusConflict, "Request processing in progress", "POST", endpoint)
	case errors.Is(err, store.ErrIdempotencyMismatch):
		h.respondError(w, http.StatusUnprocessableEntity, "Key reuse with mismatched payload", "POST", endpoint)
	default:
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", endpoint)
	}
}

// respondServiceError maps the error taxonomy onto status codes. Verification
// failures deliberately collapse into one generic message so the endpoint
// cannot be used as an oracle.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error, method, endpoint string) {
	var vErr *domain.ValidationError
	var verErr *service.VerificationError
	switch {
	case errors.As(err, &vErr):
		h.respondError(w, http.StatusBadRequest, vErr.Error(), method, endpoint)
	case errors.As(err, &verErr):
		h.respondError(w, http.StatusBadRequest, "invalid_or_expired_code", method, endpoint)
	case errors.Is(err, otp.ErrNoChallenge):
		h.respondError(w, http.StatusBadRequest, "invalid_or_expired_code", method, endpoint)
	case errors.Is(err, otp.ErrResendCooldown):
		h.respondError(w, http.StatusTooManyRequests, "Resend cooldown in effect", method, endpoint)
	case errors.Is(err, domain.ErrInsufficientFunds):
		h.respondError(w, http.StatusPaymentRequired, "Insufficient funds", method, endpoint)
	case errors.Is(err, domain.ErrLimitExceeded):
		h.respondError(w, http.StatusBadRequest, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrRequestNotFound):
		h.respondError(w, http.StatusNotFound, "Not found", method, endpoint)
	case errors.Is(err, domain.ErrAccountNotActive):
		h.respondError(w, http.StatusUnprocessableEntity, "Account not active", method, endpoint)
	case errors.Is(err, domain.ErrInvalidTransition):
		h.respondError(w, http.StatusConflict, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		h.respondError(w, http.StatusConflict, "Conflicting concurrent request, retry", method, endpoint)
	default:
		h.logger.Error("unexpected handler error", zap.String("endpoint", endpoint), zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}

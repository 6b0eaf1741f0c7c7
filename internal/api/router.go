package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the HTTP surface of the funds-movement engine.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/transfers", h.CreateTransfer).Methods("POST")
	v1.HandleFunc("/transfers/verify", h.VerifyTransfer).Methods("POST")
	v1.HandleFunc("/transfers/{id}/resend", h.ResendCode).Methods("POST")
	v1.HandleFunc("/transfers/{id}/cancel", h.CancelTransfer).Methods("POST")
	v1.HandleFunc("/transfers/{id}/resolve", h.ResolveTransfer).Methods("POST")
	v1.HandleFunc("/transfers/{reference}", h.GetTransfer).Methods("GET")
	v1.HandleFunc("/withdrawals", h.CreateWithdrawal).Methods("POST")
	v1.HandleFunc("/settlements/{reference}/fail", h.FailSettlement).Methods("POST")
	v1.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	v1.HandleFunc("/accounts/{id}/transactions", h.GetAccountTransactions).Methods("GET")
	return r
}

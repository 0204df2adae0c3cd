package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Router(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/accounts/{accountID}/dispatches", h.CreateDispatch)
	mux.HandleFunc("GET /v1/accounts/{accountID}/balance", h.GetBalance)
	mux.HandleFunc("GET /v1/accounts/{accountID}/history", h.ListHistory)
	mux.HandleFunc("GET /v1/dispatches/{dispatchID}", h.GetDispatch)

	mux.HandleFunc("GET /v1/sweeper/status", h.SweeperStatus)
	mux.HandleFunc("POST /v1/sweeper/start", h.SweeperStart)
	mux.HandleFunc("POST /v1/sweeper/stop", h.SweeperStop)

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("credit-dispatch"))
	})

	return mux
}

package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/reports", h.SubmitReportsHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/payers/{payer}", h.GetPayerHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/orgs", h.ListOrgsHandler).Methods(http.MethodGet)
	return r
}

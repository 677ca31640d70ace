package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"github.com/punchamoorthee/packetverifier/internal/models"
	"github.com/punchamoorthee/packetverifier/internal/service"
	"go.uber.org/zap"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "verifier_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const maxBodyBytes = 8 << 20

type Admitter interface {
	ProcessBatch(ctx context.Context, reports []domain.PacketReport) (*service.BatchResult, error)
}

type AccountReader interface {
	CachedAccount(payer solana.PublicKey) (domain.PayerAccount, bool)
}

type OrgLister interface {
	Orgs() []domain.Org
}

type Handler struct {
	admission Admitter
	accounts  AccountReader
	orgs      OrgLister
	log       *zap.Logger
}

func NewHandler(admission Admitter, accounts AccountReader, orgs OrgLister, log *zap.Logger) *Handler {
	return &Handler{
		admission: admission,
		accounts:  accounts,
		orgs:      orgs,
		log:       log.Named("api"),
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SubmitReportsHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/reports"))
	defer timer.ObserveDuration()

	var req models.ReportBatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/reports", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		httpRequestsTotal.WithLabelValues("POST", "/reports", "422").Inc()
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	reports := make([]domain.PacketReport, len(req.Reports))
	for i, report := range req.Reports {
		reports[i] = report.ToDomain()
	}

	result, err := h.admission.ProcessBatch(r.Context(), reports)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyBatch):
			httpRequestsTotal.WithLabelValues("POST", "/reports", "422").Inc()
			respondWithError(w, http.StatusUnprocessableEntity, "At least one report required")
		default:
			h.log.Error("batch processing failed", zap.Error(err))
			httpRequestsTotal.WithLabelValues("POST", "/reports", "500").Inc()
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	httpRequestsTotal.WithLabelValues("POST", "/reports", "200").Inc()
	respondWithJSON(w, http.StatusOK, models.ReportBatchResponse{
		BatchID: result.BatchID.String(),
		Valid:   nonNil(result.Valid),
		Invalid: nonNil(result.Invalid),
	})
}

func (h *Handler) GetPayerHandler(w http.ResponseWriter, r *http.Request) {
	payer, err := solana.PublicKeyFromBase58(mux.Vars(r)["payer"])
	if err != nil {
		httpRequestsTotal.WithLabelValues("GET", "/payers/{payer}", "400").Inc()
		respondWithError(w, http.StatusBadRequest, "Invalid payer key")
		return
	}

	account, ok := h.accounts.CachedAccount(payer)
	if !ok {
		httpRequestsTotal.WithLabelValues("GET", "/payers/{payer}", "404").Inc()
		respondWithError(w, http.StatusNotFound, "Payer not tracked")
		return
	}

	httpRequestsTotal.WithLabelValues("GET", "/payers/{payer}", "200").Inc()
	respondWithJSON(w, http.StatusOK, models.PayerAccount{
		Payer:     payer.String(),
		Balance:   account.Balance,
		Burned:    account.Burned,
		Available: account.Available(),
	})
}

func (h *Handler) ListOrgsHandler(w http.ResponseWriter, r *http.Request) {
	orgs := h.orgs.Orgs()
	out := make([]models.Organization, 0, len(orgs))
	for _, org := range orgs {
		out = append(out, models.Organization{OUI: org.OUI, Payer: org.Payer.String(), Locked: org.Locked})
	}
	httpRequestsTotal.WithLabelValues("GET", "/orgs", "200").Inc()
	respondWithJSON(w, http.StatusOK, out)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

// One reading per request; anything bigger than this is not telemetry.
const maxBodyBytes = 64 << 10

// Ingestor hands a reading to the processing pipeline without blocking.
type Ingestor interface {
	Dispatch(r *domain.Reading)
}

// Handler serves the ingest API. Telemetry is accepted, queued and answered
// with 202 before any processing happens.
type Handler struct {
	ingest Ingestor
	log    *slog.Logger
}

func NewHandler(ingest Ingestor, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ingest: ingest, log: log}
}

// Routes assembles the service mux. Telemetry and the live activity feed sit
// behind API key auth; health and metrics stay open for probes and scrapers.
func (h *Handler) Routes(authMW *AuthMiddleware, activityFeed http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /telemetry", authMW.Wrap(http.HandlerFunc(h.handleTelemetry)))
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /metrics", metrics.HandleMetrics)
	if activityFeed != nil {
		mux.Handle("GET /ws/activities", authMW.Wrap(activityFeed))
	}
	return mux
}

func (h *Handler) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var reading domain.Reading
	if err := json.NewDecoder(r.Body).Decode(&reading); err != nil {
		metrics.ReadingsRejected.Add(1)
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if reading.DeviceID == "" {
		metrics.ReadingsRejected.Add(1)
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	reading.Normalize(time.Now().UTC())

	metrics.ReadingsReceived.Add(1)
	h.ingest.Dispatch(&reading)

	w.WriteHeader(http.StatusAccepted)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

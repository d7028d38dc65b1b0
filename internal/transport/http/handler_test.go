package http

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-monitor/fuel-analytics/internal/auth"
	"fleet-monitor/fuel-analytics/internal/config"
	"fleet-monitor/fuel-analytics/internal/domain"
	"fleet-monitor/fuel-analytics/internal/metrics"
)

const testKey = "truck-fleet-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureIngest struct {
	mu   sync.Mutex
	seen []*domain.Reading
}

func (c *captureIngest) Dispatch(r *domain.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, r)
}

func (c *captureIngest) all() []*domain.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.Reading(nil), c.seen...)
}

func testRouter(ingest Ingestor) http.Handler {
	cfg := &config.Config{ValidAPIKeys: []string{testKey}, AuthCacheTTLSeconds: 300}
	authMW := NewAuthMiddleware(auth.NewAuthenticator(cfg, nil))
	return NewHandler(ingest, testLogger()).Routes(authMW, nil)
}

func postTelemetry(router http.Handler, body, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/telemetry", strings.NewReader(body))
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTelemetryAccepted(t *testing.T) {
	ingest := &captureIngest{}
	router := testRouter(ingest)

	body := `{
		"device_id": "truck-481",
		"sensor_id": 1,
		"timestamp": "2026-03-01T10:00:00Z",
		"latitude": 28.6448,
		"longitude": 77.2167,
		"sensor_data": "F=96 t=22 N=A7"
	}`
	received := metrics.ReadingsReceived.Load()
	rec := postTelemetry(router, body, testKey)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, received+1, metrics.ReadingsReceived.Load())

	require.Len(t, ingest.all(), 1)
	r := ingest.all()[0]
	assert.Equal(t, "truck-481", r.DeviceID)
	assert.Equal(t, 1, r.SensorID)
	assert.Equal(t, "F=96 t=22 N=A7", r.SensorData)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), r.Timestamp)
	assert.False(t, r.ReceivedAt.IsZero())
}

func TestTelemetryIgnoresClientComputedFields(t *testing.T) {
	ingest := &captureIngest{}
	router := testRouter(ingest)

	// Devices report raw sensor strings; levels come from calibration here.
	body := `{"device_id":"truck-481","sensor_id":1,"fuel_level":9999,"raw_points":500}`
	rec := postTelemetry(router, body, testKey)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ingest.all(), 1)
	r := ingest.all()[0]
	assert.Nil(t, r.FuelLevel)
	assert.Zero(t, r.RawPoints)
}

func TestTelemetryFillsMissingTimestamp(t *testing.T) {
	ingest := &captureIngest{}
	router := testRouter(ingest)

	rec := postTelemetry(router, `{"device_id":"truck-481","sensor_id":1}`, testKey)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ingest.all(), 1)
	r := ingest.all()[0]
	assert.False(t, r.Timestamp.IsZero())
	assert.Equal(t, r.ReceivedAt, r.Timestamp)
}

func TestTelemetryRejectsMissingDeviceID(t *testing.T) {
	ingest := &captureIngest{}
	router := testRouter(ingest)

	rejected := metrics.ReadingsRejected.Load()
	rec := postTelemetry(router, `{"sensor_id":1}`, testKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "device_id is required")
	assert.Equal(t, rejected+1, metrics.ReadingsRejected.Load())
	assert.Empty(t, ingest.all())
}

func TestTelemetryRejectsMalformedJSON(t *testing.T) {
	ingest := &captureIngest{}
	router := testRouter(ingest)

	rec := postTelemetry(router, `{"device_id": truck`, testKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON body")
	assert.Empty(t, ingest.all())
}

func TestTelemetryRejectsOversizedBody(t *testing.T) {
	ingest := &captureIngest{}
	router := testRouter(ingest)

	body := `{"device_id":"truck-481","sensor_data":"` + strings.Repeat("F", maxBodyBytes) + `"}`
	rec := postTelemetry(router, body, testKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ingest.all())
}

func TestTelemetryRequiresAPIKey(t *testing.T) {
	ingest := &captureIngest{}
	router := testRouter(ingest)

	rec := postTelemetry(router, `{"device_id":"truck-481"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing X-API-Key header")

	rec = postTelemetry(router, `{"device_id":"truck-481"}`, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid API key")

	assert.Empty(t, ingest.all())
}

func TestHealthzIsOpen(t *testing.T) {
	router := testRouter(&captureIngest{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsExposition(t *testing.T) {
	router := testRouter(&captureIngest{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fuel_readings_received_total")
	assert.Contains(t, rec.Body.String(), "fuel_activities_detected_total")
}

func TestActivityFeedRouteIsAuthenticated(t *testing.T) {
	cfg := &config.Config{ValidAPIKeys: []string{testKey}, AuthCacheTTLSeconds: 300}
	authMW := NewAuthMiddleware(auth.NewAuthenticator(cfg, nil))
	feed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	router := NewHandler(&captureIngest{}, testLogger()).Routes(authMW, feed)

	req := httptest.NewRequest(http.MethodGet, "/ws/activities", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/ws/activities", nil)
	req.Header.Set("X-API-Key", testKey)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)
}

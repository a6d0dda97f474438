package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopledger/shopledger/internal/engine"
	"github.com/shopledger/shopledger/internal/inventory"
	"github.com/shopledger/shopledger/internal/observability"
	"github.com/shopledger/shopledger/internal/platform/kv"
	"github.com/shopledger/shopledger/internal/syncer"
)

func newTestRouter(t *testing.T) (http.Handler, *engine.Engine, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetrics()
	eng := engine.New(engine.Options{
		Store:        kv.NewMemory(),
		PollInterval: time.Hour,
		Recorder:     metrics,
	})
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)
	eng.Wait()

	cfg := &Config{AppEnv: "test", CORSOrigins: []string{"http://localhost:5173"}, AppRequestTimeout: 5 * time.Second}
	return NewRouter(RouterParams{Config: cfg, Engine: eng, Metrics: metrics}), eng, metrics
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthzAndSecurityHeaders(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := do(t, router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestInventoryRoutesGoThroughEngine(t *testing.T) {
	router, eng, _ := newTestRouter(t)

	rr := do(t, router, http.MethodPost, "/api/inventory", inventory.Item{ID: "A", ProductName: "Soap", Stock: 4})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	eng.Wait()

	rr = do(t, router, http.MethodGet, "/api/inventory", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var items []inventory.Item
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &items))
	require.Len(t, items, 1)
	require.Equal(t, "Soap", items[0].ProductName)

	ts, err := eng.Clock(context.Background())
	require.NoError(t, err)
	require.Positive(t, ts)
}

func TestSyncRoutesReportOffline(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rr := do(t, router, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var status syncer.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, syncer.StateOffline, status.State)

	rr = do(t, router, http.MethodPost, "/api/sync/push", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	router, _, _ := newTestRouter(t)

	require.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/ledger", nil).Code)

	rr := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `shopledger_http_requests_total{code="200",route="/api/ledger`)
}

func TestCORSPreflight(t *testing.T) {
	router, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/inventory", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}

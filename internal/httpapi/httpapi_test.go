package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditengine/siteauditor/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		StatusAPIHost:      "127.0.0.1",
		StatusAPIPort:      8692,
		CORSAllowedOrigins: []string{"https://example.com"},
		RateLimitEnabled:   false,
		APIKeyEnabled:      false,
	}
}

type fakeQueueStatus struct {
	queueLen  int
	inFlight  int
	errorRate float64
}

func (f fakeQueueStatus) Len() int          { return f.queueLen }
func (f fakeQueueStatus) InFlight() int     { return f.inFlight }
func (f fakeQueueStatus) ErrorRate() float64 { return f.errorRate }

func TestHealthzReportsOKWithNoPool(t *testing.T) {
	h := New(testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	h.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Pool)
}

func TestProgressReportsNotRunningWithoutActiveQueue(t *testing.T) {
	h := New(testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	w := httptest.NewRecorder()

	h.Mux().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp progressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Running)
}

func TestProgressReflectsRegisteredQueueStatus(t *testing.T) {
	h := New(testConfig(), nil)
	h.SetQueueStatus(fakeQueueStatus{queueLen: 5, inFlight: 2, errorRate: 0.1})

	req := httptest.NewRequest(http.MethodGet, "/progress", nil)
	w := httptest.NewRecorder()
	h.Mux().ServeHTTP(w, req)

	var resp progressResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Running)
	assert.Equal(t, 5, resp.QueueLen)
	assert.Equal(t, 2, resp.InFlight)
	assert.Equal(t, 0.1, resp.ErrorRate)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	h := New(testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	h.Mux().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	h := New(testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()

	h.Mux().ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

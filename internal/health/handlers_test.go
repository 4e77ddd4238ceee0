package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus Status
	}{
		{name: "ok", wantCode: http.StatusOK, wantStatus: StatusOK},
		{name: "degraded", err: Degraded("starving"), wantCode: http.StatusOK, wantStatus: StatusDegraded},
		{name: "down", err: assert.AnError, wantCode: http.StatusServiceUnavailable, wantStatus: StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(newTestLogger())
			manager.Register(&mockChecker{name: "test", err: tt.err})
			handler := NewHandler(manager)

			rr := httptest.NewRecorder()
			handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

			var response Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
			assert.Equal(t, tt.wantStatus, response.Status)
			assert.NotEmpty(t, response.Version)
			assert.NotEmpty(t, response.Uptime)
			assert.Contains(t, response.Checks, "test")
		})
	}
}

func TestHandleReady(t *testing.T) {
	manager := NewManager(newTestLogger())
	manager.Register(&mockChecker{name: "sessions", err: Degraded("starving")})
	handler := NewHandler(manager)

	// Nothing has run yet.
	rr := httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	manager.RunChecks(context.Background())

	rr = httptest.NewRecorder()
	handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var response ReadyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, StatusDegraded, response.Status)
	assert.Equal(t, []string{"sessions"}, response.Failing)
}

func TestHandleLive(t *testing.T) {
	handler := NewHandler(NewManager(newTestLogger()))

	rr := httptest.NewRecorder()
	handler.HandleLive(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var response struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &response))
	assert.Equal(t, "alive", response.Status)
	assert.NotZero(t, response.Timestamp)
}

func TestGetUptime(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{45 * time.Second, "45 seconds"},
		{2*time.Minute + 30*time.Second, "2 minutes 30 seconds"},
		{time.Hour, "1 hour"},
		{3*time.Hour + time.Minute, "3 hours 1 minute"},
		{25*time.Hour + 5*time.Second, "1 day 1 hour 5 seconds"},
		{72 * time.Hour, "3 days"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
			handler := &Handler{
				manager:   NewManager(newTestLogger()),
				startTime: start,
				now:       func() time.Time { return start.Add(tt.duration) },
			}
			assert.Equal(t, tt.expected, handler.getUptime())
		})
	}
}

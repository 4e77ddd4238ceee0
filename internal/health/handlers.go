package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zsiec/splitter/pkg/version"
)

// Response is the body of the /health endpoint.
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]*Check `json:"checks,omitempty"`
}

// ReadyResponse is the body of the /ready endpoint.
type ReadyResponse struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Failing   []string  `json:"failing,omitempty"`
}

// Handler serves the health endpoints.
type Handler struct {
	manager   *Manager
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates a new health check handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{
		manager:   manager,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// HandleHealth runs every check and reports the result. Degraded still
// answers 200 so load balancers keep routing to the host.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	checks := h.manager.RunChecks(ctx)
	overall := h.manager.GetOverallStatus()

	h.writeJSON(w, statusCode(overall), Response{
		Status:    overall,
		Timestamp: h.now(),
		Version:   version.Version,
		Uptime:    h.getUptime(),
		Checks:    checks,
	})
}

// HandleReady reports the latest cached results without running checks.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	overall := h.manager.GetOverallStatus()
	h.writeJSON(w, statusCode(overall), ReadyResponse{
		Status:    overall,
		Timestamp: h.now(),
		Failing:   h.manager.Failing(),
	})
}

// HandleLive answers as long as the process serves HTTP.
func (h *Handler) HandleLive(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, struct {
		Status    string    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Status:    "alive",
		Timestamp: h.now(),
	})
}

func statusCode(s Status) int {
	if s == StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func (h *Handler) getUptime() string {
	return formatUptime(h.now().Sub(h.startTime))
}

// formatUptime renders d as e.g. "2 days 1 hour 5 seconds", dropping zero
// units but always keeping seconds when nothing else is left.
func formatUptime(d time.Duration) string {
	units := []struct {
		name  string
		value int
	}{
		{"day", int(d.Hours()) / 24},
		{"hour", int(d.Hours()) % 24},
		{"minute", int(d.Minutes()) % 60},
		{"second", int(d.Seconds()) % 60},
	}

	var parts []string
	for _, u := range units {
		if u.value == 0 {
			continue
		}
		if u.value == 1 {
			parts = append(parts, "1 "+u.name)
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", u.value, u.name))
		}
	}
	if len(parts) == 0 {
		return "0 seconds"
	}
	return strings.Join(parts, " ")
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.manager.logger.WithError(err).Error("Failed to encode health response")
	}
}

package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/vidfriends/streamgate/internal/logging"
)

// HealthCheck probes one backing service.
type HealthCheck func(ctx context.Context) error

// HealthHandler responds with service health information.
type HealthHandler struct {
	Checks  map[string]HealthCheck
	Timeout time.Duration
}

// Handle implements GET /healthz.
func (h HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	payload := healthResponse{Status: "ok"}
	for _, name := range names {
		if err := h.Checks[name](ctx); err != nil {
			logging.FromContext(ctx).Warn("health check failed", "check", name, "error", err)
			if payload.Failing == nil {
				payload.Failing = make(map[string]string)
			}
			payload.Failing[name] = "unavailable"
			payload.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	respondJSON(r.Context(), w, status, payload)
}

type healthResponse struct {
	Status  string            `json:"status"`
	Failing map[string]string `json:"failing,omitempty"`
}

package handlers

import (
	"net/http"
	"time"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/observability"
	"github.com/VengurlekarMayuresh/CCL/internal/repositories"
)

var startTime = time.Now()

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	repo    repositories.HealthRepository
	version string
	clock   func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthRepository makes /readyz probe the given dependencies.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.repo = repo
	}
}

// WithHealthVersion reports version in both probes.
func WithHealthVersion(version string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
	}
}

// WithHealthClock overrides the timestamp source.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers builds probe handlers. Without a repository /readyz only
// reports process liveness.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz reports that the process is serving.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.basePayload(domain.HealthStatusOK))
}

// Readyz probes dependencies and answers 503 when any of them fails.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSONResponse(w, http.StatusOK, h.basePayload(domain.HealthStatusOK))
		return
	}

	report, err := h.repo.Collect(r.Context())
	if err != nil {
		observability.FromContext(r.Context()).Sugar().Warnw("readiness collection failed", "error", err)
		payload := h.basePayload(domain.HealthStatusError)
		payload["error"] = err.Error()
		writeJSONResponse(w, http.StatusServiceUnavailable, payload)
		return
	}

	payload := h.basePayload(report.Status)
	checks := make(map[string]any, len(report.Checks))
	for name, check := range report.Checks {
		entry := map[string]any{
			"status":     check.Status,
			"latency_ms": check.Latency.Milliseconds(),
		}
		if check.Detail != "" {
			entry["detail"] = check.Detail
		}
		checks[name] = entry
	}
	payload["checks"] = checks

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

func (h *HealthHandlers) basePayload(status domain.HealthStatus) map[string]any {
	payload := map[string]any{
		"status":    status,
		"uptime":    time.Since(startTime).String(),
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	}
	if h.version != "" {
		payload["version"] = h.version
	}
	return payload
}

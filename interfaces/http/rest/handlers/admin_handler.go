package handlers

import (
	"net/http"

	"acs-backend/infrastructure/persistence"
	"acs-backend/infrastructure/resilience"

	"go.uber.org/zap"
)

// AdminHandler serves health, breaker status, and dead-letter inspection
type AdminHandler struct {
	health *resilience.HealthMonitor
	dlq    *persistence.DeadLetterQueue
	logger *zap.Logger
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(health *resilience.HealthMonitor, dlq *persistence.DeadLetterQueue, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{health: health, dlq: dlq, logger: logger}
}

// Health handles GET /health. Warning still returns 200; critical
// returns 503 so load balancers rotate the instance out.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.health.Snapshot()
	status := http.StatusOK
	if report.Status == resilience.StatusCritical.String() {
		status = http.StatusServiceUnavailable
	}
	RespondJSON(w, status, report)
}

// DeadLetters handles GET /admin/dead-letters
func (h *AdminHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"pending":   h.dlq.Pending(),
		"permanent": h.dlq.PermanentFailures(),
	})
}

// RetryDeadLetters handles POST /admin/dead-letters/retry
func (h *AdminHandler) RetryDeadLetters(w http.ResponseWriter, r *http.Request) {
	h.dlq.RetryNow(r.Context())
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"pending": h.dlq.Pending(),
	})
}

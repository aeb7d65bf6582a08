package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/taskrelay/internal/api/shared"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/resultbus"
	"github.com/phrazzld/taskrelay/internal/session"
)

const (
	healthCheckTimeout       = 3 * time.Second
	defaultDiagnosticMessage = "Test message"
)

// HealthChecker is the part of the result bus the diagnostics endpoints need.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

var _ HealthChecker = (resultbus.Bus)(nil)

// DiagnosticsHandler exposes liveness, broker health and group messaging.
type DiagnosticsHandler struct {
	bus    HealthChecker
	hub    *session.Hub
	logger *slog.Logger
}

// NewDiagnosticsHandler creates a DiagnosticsHandler. hub may be nil in a
// process that hosts no sessions.
func NewDiagnosticsHandler(bus HealthChecker, hub *session.Hub, logger *slog.Logger) *DiagnosticsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticsHandler{
		bus:    bus,
		hub:    hub,
		logger: logger.With("component", "diagnostics_handler"),
	}
}

// Health handles GET /health.
func (h *DiagnosticsHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
}

// BusHealth handles GET /api/diagnostics/bus. It runs the bus health check and
// reports how many sessions are live, per group.
func (h *DiagnosticsHandler) BusHealth(w http.ResponseWriter, r *http.Request) {
	resp := BusDiagnosticsResponse{Groups: map[string]int{}}
	if h.hub != nil {
		resp.Sessions = h.hub.Count()
		resp.Groups = h.hub.GroupCounts()
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.bus.HealthCheck(ctx); err != nil {
		logger.FromContext(r.Context()).Error("result bus health check failed", "error", err)
		resp.Status = "error"
		resp.Message = GetSafeErrorMessage(err)
		shared.RespondWithJSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}

	resp.Status = "success"
	resp.Message = "Result bus is working properly"
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// SendToGroup handles POST /api/diagnostics/groups/{user_id}. It pushes a
// diagnostic message to every live session of the caller's own group.
func (h *DiagnosticsHandler) SendToGroup(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	target := domain.Identity(chi.URLParam(r, "user_id"))
	if target != identity {
		HandleAPIError(w, r, ErrForbidden, "")
		return
	}

	var req GroupMessageRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}
	if req.Message == "" {
		req.Message = defaultDiagnosticMessage
	}

	payload, err := json.Marshal(session.NewDiagnostic(target, req.Message))
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	group := target.GroupName()
	delivered := 0
	if h.hub != nil {
		delivered = h.hub.SendToGroup(r.Context(), group, payload)
	}

	logger.FromContext(r.Context()).Info("diagnostic message sent",
		"group", group,
		"delivered", delivered)

	shared.RespondWithJSON(w, r, http.StatusOK, GroupMessageResponse{
		Status:    "success",
		Group:     group,
		Delivered: delivered,
	})
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"AI_PROCTOR/go-backend/internal/clock"
	"AI_PROCTOR/go-backend/internal/models"
	"AI_PROCTOR/go-backend/internal/proctor"
)

// OperatorHandler serves the read-only operator view. A snapshot is
// returned only while the candidate page has the view switched on.
type OperatorHandler struct {
	auth     *AuthHandler
	registry *proctor.Registry
	cors     CORS
	logger   *slog.Logger
}

func NewOperatorHandler(authH *AuthHandler, registry *proctor.Registry, cors CORS, logger *slog.Logger) *OperatorHandler {
	return &OperatorHandler{
		auth:     authH,
		registry: registry,
		cors:     cors,
		logger:   logger.With("component", "operator"),
	}
}

// Snapshot handles GET /api/operator/snapshot?user_id=N. Without
// user_id the caller's own session is used.
func (h *OperatorHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	if h.cors.preflight(w, r) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	user, _, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userID := user.ID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err = strconv.Atoi(raw)
		if err != nil || userID <= 0 {
			http.Error(w, "Invalid user ID", http.StatusBadRequest)
			return
		}
	}

	sessions := h.registry.ForUser(userID)
	if len(sessions) == 0 {
		http.Error(w, "No active session", http.StatusNotFound)
		return
	}
	// Newest session wins when the candidate has several tabs open.
	for i := len(sessions) - 1; i >= 0; i-- {
		if snap, ok := sessions[i].OperatorView(); ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	http.Error(w, "Operator view is disabled", http.StatusNotFound)
}

// HealthHandler reports liveness of the backend and the inference
// service.
type HealthHandler struct {
	registry *proctor.Registry
	faceMesh func(ctx context.Context) bool
	clock    clock.Clock
	started  time.Time
	version  string
}

func NewHealthHandler(registry *proctor.Registry, faceMesh func(ctx context.Context) bool, clk clock.Clock, version string) *HealthHandler {
	if clk == nil {
		clk = clock.Real()
	}
	return &HealthHandler{
		registry: registry,
		faceMesh: faceMesh,
		clock:    clk,
		started:  clk.Now(),
		version:  version,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	faceMesh := false
	if h.faceMesh != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		faceMesh = h.faceMesh(ctx)
		cancel()
	}

	status := models.HealthStatus{
		Status:         "healthy",
		GoBackend:      "running",
		FaceMesh:       faceMesh,
		ActiveSessions: h.registry.Count(),
		Uptime:         h.clock.Now().Sub(h.started),
		Version:        h.version,
	}
	if !faceMesh {
		status.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, status)
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/sdbridge/sdbridge/internal/api"
	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/eventlog"
	"github.com/sdbridge/sdbridge/internal/notify"
	"github.com/sdbridge/sdbridge/internal/poller"
	"github.com/sdbridge/sdbridge/internal/statestore"
)

// HealthHandler serves liveness, readiness and status introspection.
type HealthHandler struct {
	db       *gorm.DB
	state    *statestore.ResilientStore
	runtime  *configstore.Runtime
	notifier *notify.Notifier
	alerter  *notify.AdminAlerter
	started  time.Time
}

// NewHealthHandler creates the health handler. notifier and alerter may be
// nil in minimal deployments.
func NewHealthHandler(db *gorm.DB, state *statestore.ResilientStore, runtime *configstore.Runtime, notifier *notify.Notifier, alerter *notify.AdminAlerter) *HealthHandler {
	return &HealthHandler{
		db:       db,
		state:    state,
		runtime:  runtime,
		notifier: notifier,
		alerter:  alerter,
		started:  time.Now(),
	}
}

// SetupRoutes sets up the health routes. All three are unauthenticated.
func (h *HealthHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ready", h.handleReady)
	mux.HandleFunc("/status", h.handleStatus)
}

// handleHealth handles GET /health
func (h *HealthHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /ready: the process is ready once the database
// answers. A degraded state store does not block readiness, the memory
// fallback keeps the bridge working; the probe keeps the degraded flag
// current.
func (h *HealthHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	h.state.Ping(r.Context())

	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		api.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// StatusResponse is the GET /status body.
type StatusResponse struct {
	UptimeSeconds int64            `json:"uptime_s"`
	ConfigVersion int              `json:"config_version"`
	StateBackend  string           `json:"state_backend"`
	StateError    string           `json:"state_error,omitempty"`
	Polling       *poller.State    `json:"polling,omitempty"`
	Eventlog      *eventlog.State  `json:"eventlog,omitempty"`
	Delivery      notify.Counters  `json:"delivery"`
	SkippedAlerts map[string]int64 `json:"skipped_alerts,omitempty"`
}

// handleStatus handles GET /status
func (h *HealthHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := StatusResponse{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		StateBackend:  h.state.Backend(),
		StateError:    h.state.LastError(),
	}
	if h.notifier != nil {
		resp.Delivery = h.notifier.Counters()
	}
	if h.alerter != nil {
		resp.SkippedAlerts = h.alerter.SkippedCounts()
	}
	if cfg, err := h.runtime.Current(); err == nil {
		resp.ConfigVersion = cfg.Version
	}

	var pollingState poller.State
	if found, err := h.state.GetJSON(ctx, poller.StateKey, &pollingState); err == nil && found {
		resp.Polling = &pollingState
	}
	var eventlogState eventlog.State
	if found, err := h.state.GetJSON(ctx, eventlog.StateKey, &eventlogState); err == nil && found {
		resp.Eventlog = &eventlogState
	}

	api.RespondJSON(w, http.StatusOK, resp)
}

package handlers

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/sdbridge/sdbridge/internal/api"
	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/middleware"
	"github.com/sdbridge/sdbridge/internal/notify"
)

const defaultRollbackWindow = 24 * time.Hour

// ConfigHandler serves the versioned configuration API.
type ConfigHandler struct {
	store     *configstore.Store
	runtime   *configstore.Runtime
	jwtAuth   *middleware.JWTAuthMiddleware
	alerter   *notify.AdminAlerter
	readToken string
}

// NewConfigHandler creates the configuration handler. alerter may be nil.
func NewConfigHandler(store *configstore.Store, runtime *configstore.Runtime, jwtAuth *middleware.JWTAuthMiddleware, alerter *notify.AdminAlerter, readToken string) *ConfigHandler {
	return &ConfigHandler{
		store:     store,
		runtime:   runtime,
		jwtAuth:   jwtAuth,
		alerter:   alerter,
		readToken: readToken,
	}
}

// SetupRoutes sets up the configuration routes. Reads of the current
// payload accept the read token; everything else needs an admin JWT.
func (h *ConfigHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/config", h.handleConfig)
	mux.HandleFunc("/config/history", h.jwtAuth.WrapFunc(h.handleHistory))
	mux.HandleFunc("/config/diff", h.jwtAuth.WrapFunc(h.handleDiff))
	mux.HandleFunc("/config/rollback", h.jwtAuth.WrapFunc(h.handleRollback))
	mux.HandleFunc("/config/rollbacks", h.jwtAuth.WrapFunc(h.handleRollbackStats))
}

func (h *ConfigHandler) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodPut:
		h.jwtAuth.WrapFunc(h.handlePut)(w, r)
	default:
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// hasReadAccess accepts either the read token (query or header) or a
// valid admin JWT.
func (h *ConfigHandler) hasReadAccess(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Read-Token")
	}
	if h.readToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(h.readToken)) == 1 {
		return true
	}
	if bearer := middleware.ExtractBearerToken(r); bearer != "" {
		if _, err := h.jwtAuth.ValidateToken(bearer); err == nil {
			return true
		}
	}
	return false
}

// handleGet handles GET /config
func (h *ConfigHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	if !h.hasReadAccess(r) {
		api.RespondError(w, http.StatusUnauthorized, "Missing or invalid read token")
		return
	}
	current, err := h.store.GetCurrent()
	if err != nil {
		log.Printf("ConfigHandler: failed to load current config: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to load configuration")
		return
	}
	api.RespondJSON(w, http.StatusOK, current)
}

// PutConfigRequest is the PUT /config body: the full payload plus the
// version it was based on.
type PutConfigRequest struct {
	Routing     configstore.RoutingConfig    `json:"routing"`
	Eventlog    configstore.RoutingConfig    `json:"eventlog"`
	Escalation  configstore.EscalationConfig `json:"escalation"`
	BaseVersion int                          `json:"base_version"`
	Comment     string                       `json:"comment,omitempty"`
}

// handlePut handles PUT /config
func (h *ConfigHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	var req PutConfigRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	payload := configstore.Payload{
		Routing:    req.Routing,
		Eventlog:   req.Eventlog,
		Escalation: req.Escalation,
	}
	author := middleware.GetUserFromContext(r.Context())

	applied, err := h.store.Put(payload, req.BaseVersion, author, req.Comment)
	if err != nil {
		var verr *configstore.ValidationError
		switch {
		case errors.As(err, &verr):
			api.RespondErrorWithCode(w, http.StatusUnprocessableEntity, "validation_error", verr.Error())
		case errors.Is(err, configstore.ErrConflict):
			api.RespondErrorWithCode(w, http.StatusConflict, "version_conflict", err.Error())
		default:
			log.Printf("ConfigHandler: put failed: %v", err)
			api.RespondError(w, http.StatusInternalServerError, "Failed to apply configuration")
		}
		return
	}

	h.runtime.Invalidate()
	api.RespondJSON(w, http.StatusOK, applied)
}

// handleHistory handles GET /config/history
func (h *ConfigHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			api.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	versions, err := h.store.History(limit)
	if err != nil {
		log.Printf("ConfigHandler: history failed: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"versions": versions,
		"count":    len(versions),
	})
}

// handleDiff handles GET /config/diff?from=&to=
func (h *ConfigHandler) handleDiff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	from, err1 := strconv.Atoi(r.URL.Query().Get("from"))
	to, err2 := strconv.Atoi(r.URL.Query().Get("to"))
	if err1 != nil || err2 != nil {
		api.RespondError(w, http.StatusBadRequest, "from and to version numbers are required")
		return
	}

	fromVersion, err := h.store.GetVersion(from)
	if err == nil {
		var toVersion configstore.Version
		toVersion, err = h.store.GetVersion(to)
		if err == nil {
			var changes []configstore.Change
			changes, err = configstore.Diff(fromVersion.Payload, toVersion.Payload)
			if err == nil {
				api.RespondJSON(w, http.StatusOK, map[string]interface{}{
					"from":    from,
					"to":      to,
					"changes": changes,
				})
				return
			}
		}
	}

	if errors.Is(err, configstore.ErrVersionNotFound) {
		api.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	log.Printf("ConfigHandler: diff failed: %v", err)
	api.RespondError(w, http.StatusInternalServerError, "Failed to compute diff")
}

// RollbackRequest is the POST /config/rollback body.
type RollbackRequest struct {
	Version int `json:"version"`
}

// handleRollback handles POST /config/rollback
func (h *ConfigHandler) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req RollbackRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	author := middleware.GetUserFromContext(r.Context())
	applied, err := h.store.Rollback(req.Version, author)
	if err != nil {
		if errors.Is(err, configstore.ErrVersionNotFound) {
			api.RespondError(w, http.StatusNotFound, err.Error())
			return
		}
		if errors.Is(err, configstore.ErrConflict) {
			api.RespondErrorWithCode(w, http.StatusConflict, "version_conflict", err.Error())
			return
		}
		log.Printf("ConfigHandler: rollback failed: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to roll back")
		return
	}

	h.runtime.Invalidate()
	if h.alerter != nil {
		h.alerter.Alert(notify.CategoryConfigRollback,
			fmt.Sprintf("%s by %s", applied.Comment, author))
	}
	api.RespondJSON(w, http.StatusOK, applied)
}

// handleRollbackStats handles GET /config/rollbacks?window_s=
func (h *ConfigHandler) handleRollbackStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	window := defaultRollbackWindow
	if raw := r.URL.Query().Get("window_s"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			api.RespondError(w, http.StatusBadRequest, "window_s must be a positive integer")
			return
		}
		window = time.Duration(n) * time.Second
	}

	count, err := h.store.CountRollbacksSince(time.Now().Add(-window))
	if err != nil {
		log.Printf("ConfigHandler: rollback stats failed: %v", err)
		api.RespondError(w, http.StatusInternalServerError, "Failed to count rollbacks")
		return
	}
	api.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"window_s": int(window.Seconds()),
		"count":    count,
	})
}

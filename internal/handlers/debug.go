package handlers

import (
	"log"
	"net/http"

	"github.com/sdbridge/sdbridge/internal/api"
	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/middleware"
	"github.com/sdbridge/sdbridge/internal/poller"
	"github.com/sdbridge/sdbridge/internal/routing"
)

// DebugHandler explains routing decisions for live tickets so operators
// can verify a rule set before trusting it.
type DebugHandler struct {
	tickets poller.TicketLister
	runtime *configstore.Runtime
	jwtAuth *middleware.JWTAuthMiddleware
}

// NewDebugHandler creates the routing debug handler.
func NewDebugHandler(tickets poller.TicketLister, runtime *configstore.Runtime, jwtAuth *middleware.JWTAuthMiddleware) *DebugHandler {
	return &DebugHandler{
		tickets: tickets,
		runtime: runtime,
		jwtAuth: jwtAuth,
	}
}

// SetupRoutes sets up the debug routes.
func (h *DebugHandler) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/routes/debug", h.jwtAuth.WrapFunc(h.handleDebug))
}

// RouteDebugResponse is the explanation of one routing decision.
type RouteDebugResponse struct {
	TicketID    string                `json:"ticket_id"`
	Attributes  map[string]string     `json:"attributes"`
	Rules       []routing.Explanation `json:"rules"`
	Destination *routing.Destination  `json:"destination,omitempty"`
	ViaDefault  bool                  `json:"via_default"`
}

// handleDebug handles GET /routes/debug?ticket_id=
func (h *DebugHandler) handleDebug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.RespondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ticketID := r.URL.Query().Get("ticket_id")
	if ticketID == "" {
		api.RespondError(w, http.StatusBadRequest, "ticket_id is required")
		return
	}

	open, err := h.tickets.ListOpenTickets(r.Context())
	if err != nil {
		log.Printf("DebugHandler: ticket fetch failed: %v", err)
		api.RespondError(w, http.StatusBadGateway, "Failed to fetch the open ticket set")
		return
	}

	var attrs map[string]string
	found := false
	for _, ticket := range open {
		if ticket.ID == ticketID {
			attrs = ticket.Attributes
			found = true
			break
		}
	}
	if !found {
		api.RespondError(w, http.StatusNotFound, "Ticket is not in the open set")
		return
	}

	cfg, err := h.runtime.Current()
	if err != nil {
		api.RespondError(w, http.StatusInternalServerError, "No configuration available")
		return
	}

	rc := cfg.Payload.Routing
	resp := RouteDebugResponse{
		TicketID:   ticketID,
		Attributes: attrs,
		Rules:      routing.Explain(attrs, rc.Rules),
	}
	if dest, ok := routing.Route(attrs, rc.Rules, rc.DefaultDest); ok {
		resp.Destination = &dest
		matchedAny := false
		for _, e := range resp.Rules {
			if e.Matched {
				matchedAny = true
				break
			}
		}
		resp.ViaDefault = !matchedAny
	}
	api.RespondJSON(w, http.StatusOK, resp)
}

package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/middleware"
	"github.com/sdbridge/sdbridge/internal/routing"
	"github.com/sdbridge/sdbridge/internal/testhelpers"
	"github.com/sdbridge/sdbridge/internal/ticketing"
)

type staticLister []ticketing.Ticket

func (s staticLister) ListOpenTickets(ctx context.Context) ([]ticketing.Ticket, error) {
	return s, nil
}

func TestRoutesDebug_ExplainsDecision(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	store := configstore.NewStore(db, configstore.DefaultPayload())
	payload := configstore.Payload{
		Routing: configstore.RoutingConfig{
			Rules: []routing.Rule{
				{
					Matcher: routing.Matcher{Keywords: []string{"VIP"}},
					Dest:    routing.Destination{ChannelID: "D1"},
				},
				{
					Matcher: routing.Matcher{FieldMatchers: map[string][]string{"service_id": {"42"}}},
					Dest:    routing.Destination{ChannelID: "D2"},
				},
			},
			DefaultDest: &routing.Destination{ChannelID: "D0"},
		},
		Eventlog:   configstore.RoutingConfig{Rules: []routing.Rule{}},
		Escalation: configstore.EscalationConfig{Enabled: false},
	}
	if _, err := store.Put(payload, 0, "test", ""); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	runtime := configstore.NewRuntime(store, time.Hour, nil)

	hash, _ := middleware.HashPassword("s3cret")
	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		AdminUsername: "admin", AdminPasswordHash: hash,
		JWTSecret: "test-secret", JWTExpiryHours: 1,
	})
	token, _ := jwtAuth.GenerateToken("admin")

	lister := staticLister{
		{ID: "7", Attributes: map[string]string{"description": "VIP customer issue"}},
		{ID: "8", Attributes: map[string]string{"description": "nothing special"}},
	}
	mux := http.NewServeMux()
	NewDebugHandler(lister, runtime, jwtAuth).SetupRoutes(mux)

	var resp RouteDebugResponse
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/routes/debug?ticket_id=7", nil).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if resp.Destination == nil || resp.Destination.ChannelID != "D1" {
		t.Errorf("expected destination D1, got %+v", resp.Destination)
	}
	if resp.ViaDefault {
		t.Error("matched rule should not report via_default")
	}
	if len(resp.Rules) != 2 || !resp.Rules[0].Matched || resp.Rules[1].Matched {
		t.Errorf("unexpected explanations: %+v", resp.Rules)
	}

	// Unmatched ticket falls through to the default.
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/routes/debug?ticket_id=8", nil).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)
	if resp.Destination == nil || resp.Destination.ChannelID != "D0" || !resp.ViaDefault {
		t.Errorf("expected default destination, got %+v", resp)
	}

	// Unknown ticket.
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/routes/debug?ticket_id=99", nil).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusNotFound)

	// No token.
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/routes/debug?ticket_id=7", nil).
		Execute(mux).
		AssertStatus(http.StatusUnauthorized)
}

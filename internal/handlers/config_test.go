package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/middleware"
	"github.com/sdbridge/sdbridge/internal/routing"
	"github.com/sdbridge/sdbridge/internal/testhelpers"
)

func newConfigFixture(t *testing.T) (*http.ServeMux, *configstore.Store, string) {
	t.Helper()

	store := configstore.NewStore(testhelpers.SetupTestDB(t), configstore.DefaultPayload())
	runtime := configstore.NewRuntime(store, time.Hour, nil)

	hash, err := middleware.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	jwtAuth := middleware.NewJWTAuthMiddleware(&middleware.JWTAuthConfig{
		AdminUsername:     "admin",
		AdminPasswordHash: hash,
		JWTSecret:         "test-secret",
		JWTExpiryHours:    1,
	})
	token, err := jwtAuth.GenerateToken("admin")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	mux := http.NewServeMux()
	NewConfigHandler(store, runtime, jwtAuth, nil, "read-token").SetupRoutes(mux)
	return mux, store, token
}

func putBody(channel string, baseVersion int) PutConfigRequest {
	return PutConfigRequest{
		Routing: configstore.RoutingConfig{
			Rules: []routing.Rule{
				{
					Matcher: routing.Matcher{Keywords: []string{"vip"}},
					Dest:    routing.Destination{ChannelID: channel},
				},
			},
			DefaultDest: &routing.Destination{ChannelID: "C-DEFAULT"},
		},
		Eventlog:    configstore.RoutingConfig{Rules: []routing.Rule{}},
		Escalation:  configstore.EscalationConfig{Enabled: false},
		BaseVersion: baseVersion,
	}
}

func TestConfigAPI_PutRequiresAdminToken(t *testing.T) {
	mux, _, _ := newConfigFixture(t)

	testhelpers.NewHTTPTestContext(t, http.MethodPut, "/config", nil).
		WithJSONBody(putBody("C-ONE", 0)).
		Execute(mux).
		AssertStatus(http.StatusUnauthorized)
}

func TestConfigAPI_PutAndGet(t *testing.T) {
	mux, _, token := newConfigFixture(t)

	var applied configstore.Version
	testhelpers.NewHTTPTestContext(t, http.MethodPut, "/config", nil).
		WithJSONBody(putBody("C-ONE", 0)).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&applied)
	if applied.Version != 1 {
		t.Errorf("expected v1, got v%d", applied.Version)
	}
	if applied.Author != "admin" {
		t.Errorf("author should come from the JWT, got %q", applied.Author)
	}

	// Read with the read token, no JWT.
	var current configstore.Version
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/config?token=read-token", nil).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&current)
	if current.Version != 1 {
		t.Errorf("expected current v1, got v%d", current.Version)
	}

	// Wrong read token.
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/config?token=nope", nil).
		Execute(mux).
		AssertStatus(http.StatusUnauthorized)
}

func TestConfigAPI_StaleBaseVersionIsConflict(t *testing.T) {
	mux, _, token := newConfigFixture(t)

	testhelpers.NewHTTPTestContext(t, http.MethodPut, "/config", nil).
		WithJSONBody(putBody("C-ONE", 0)).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK)

	testhelpers.NewHTTPTestContext(t, http.MethodPut, "/config", nil).
		WithJSONBody(putBody("C-TWO", 0)).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusConflict)
}

func TestConfigAPI_InvalidPayloadIsRejected(t *testing.T) {
	mux, _, token := newConfigFixture(t)

	bad := putBody("C-ONE", 0)
	bad.Routing.Rules[0].Matcher = routing.Matcher{}

	testhelpers.NewHTTPTestContext(t, http.MethodPut, "/config", nil).
		WithJSONBody(bad).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusUnprocessableEntity)
}

func TestConfigAPI_HistoryDiffRollback(t *testing.T) {
	mux, _, token := newConfigFixture(t)

	testhelpers.NewHTTPTestContext(t, http.MethodPut, "/config", nil).
		WithJSONBody(putBody("C-ONE", 0)).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK)
	testhelpers.NewHTTPTestContext(t, http.MethodPut, "/config", nil).
		WithJSONBody(putBody("C-TWO", 1)).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK)

	var history struct {
		Versions []configstore.Version `json:"versions"`
		Count    int                   `json:"count"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/config/history", nil).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&history)
	if history.Count != 2 || history.Versions[0].Version != 2 {
		t.Errorf("expected newest-first history of 2, got %+v", history)
	}

	var diff struct {
		Changes []configstore.Change `json:"changes"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/config/diff?from=1&to=2", nil).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&diff)
	if len(diff.Changes) != 1 || diff.Changes[0].Path != "routing.rules[0].dest.channel_id" {
		t.Errorf("unexpected diff: %+v", diff.Changes)
	}

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/config/diff?from=1&to=99", nil).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusNotFound)

	var rolled configstore.Version
	testhelpers.NewHTTPTestContext(t, http.MethodPost, "/config/rollback", nil).
		WithJSONBody(RollbackRequest{Version: 1}).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&rolled)
	if rolled.Version != 3 {
		t.Errorf("rollback should create v3, got v%d", rolled.Version)
	}

	var stats struct {
		Count   int64 `json:"count"`
		WindowS int   `json:"window_s"`
	}
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/config/rollbacks?window_s=3600", nil).
		WithBearerToken(token).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&stats)
	if stats.Count != 1 || stats.WindowS != 3600 {
		t.Errorf("expected one rollback in the window, got %+v", stats)
	}
}

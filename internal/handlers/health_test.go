package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/poller"
	"github.com/sdbridge/sdbridge/internal/statestore"
	"github.com/sdbridge/sdbridge/internal/testhelpers"
)

func TestHealthAndReady(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	store := configstore.NewStore(db, configstore.DefaultPayload())
	runtime := configstore.NewRuntime(store, time.Hour, nil)
	state := statestore.NewResilientStore(statestore.NewMemoryStore(), statestore.NewMemoryStore(), nil)

	mux := http.NewServeMux()
	NewHealthHandler(db, state, runtime, nil, nil).SetupRoutes(mux)

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/health", nil).
		Execute(mux).
		AssertStatus(http.StatusOK)

	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/ready", nil).
		Execute(mux).
		AssertStatus(http.StatusOK)
}

func TestStatus_ReportsStateAndVersion(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	store := configstore.NewStore(db, configstore.DefaultPayload())
	runtime := configstore.NewRuntime(store, time.Hour, nil)
	state := statestore.NewResilientStore(statestore.NewMemoryStore(), statestore.NewMemoryStore(), nil)

	// Seed some polling state the way the poller would.
	pollingState := poller.State{
		Seen: map[string]time.Time{"1": time.Now()},
		Runs: 12,
	}
	if err := state.SetJSON(context.Background(), poller.StateKey, pollingState, 0); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	mux := http.NewServeMux()
	NewHealthHandler(db, state, runtime, nil, nil).SetupRoutes(mux)

	var resp StatusResponse
	testhelpers.NewHTTPTestContext(t, http.MethodGet, "/status", nil).
		Execute(mux).
		AssertStatus(http.StatusOK).
		DecodeJSON(&resp)

	if resp.StateBackend != "memory" {
		t.Errorf("expected memory backend, got %q", resp.StateBackend)
	}
	if resp.ConfigVersion != 0 {
		t.Errorf("empty store should report version 0, got %d", resp.ConfigVersion)
	}
	if resp.Polling == nil || resp.Polling.Runs != 12 {
		t.Errorf("polling state should surface in status, got %+v", resp.Polling)
	}
}

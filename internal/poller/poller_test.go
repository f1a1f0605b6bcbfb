package poller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/escalation"
	"github.com/sdbridge/sdbridge/internal/notify"
	"github.com/sdbridge/sdbridge/internal/routing"
	"github.com/sdbridge/sdbridge/internal/statestore"
	"github.com/sdbridge/sdbridge/internal/testhelpers"
	"github.com/sdbridge/sdbridge/internal/ticketing"
)

type fakeLister struct {
	tickets []ticketing.Ticket
	err     error
	calls   int
}

func (f *fakeLister) ListOpenTickets(ctx context.Context) ([]ticketing.Ticket, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tickets, nil
}

type captureSender struct {
	mu       sync.Mutex
	messages []string
	channels []string
}

func (c *captureSender) SendMessage(ctx context.Context, channelID, threadID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, text)
	c.channels = append(c.channels, channelID)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

type fixedIcons map[string]string

func (f fixedIcons) Icon(serviceID string) string { return f[serviceID] }

func seedRuntime(t *testing.T, payload configstore.Payload) *configstore.Runtime {
	t.Helper()
	store := configstore.NewStore(testhelpers.SetupTestDB(t), configstore.DefaultPayload())
	if _, err := store.Put(payload, 0, "test", ""); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return configstore.NewRuntime(store, time.Hour, nil)
}

func vipPayload() configstore.Payload {
	return configstore.Payload{
		Routing: configstore.RoutingConfig{
			Rules: []routing.Rule{
				{
					Matcher: routing.Matcher{Keywords: []string{"VIP"}},
					Dest:    routing.Destination{ChannelID: "D1"},
				},
			},
			DefaultDest: &routing.Destination{ChannelID: "D0"},
		},
		Eventlog:   configstore.RoutingConfig{Rules: []routing.Rule{}},
		Escalation: configstore.EscalationConfig{Enabled: false},
	}
}

func newTestPoller(t *testing.T, lister *fakeLister, sender *captureSender, payload configstore.Payload, icons IconResolver) (*TicketPoller, statestore.Store) {
	t.Helper()
	store := statestore.NewMemoryStore()
	notifier := notify.NewNotifier(sender, 0, 10, 1, time.Millisecond, nil)
	tracker := escalation.NewTracker(store, notifier)
	p := NewTicketPoller(lister, store, seedRuntime(t, payload), notifier, nil, tracker, icons, time.Minute, 10*time.Minute)
	return p, store
}

func TestRunOnce_RoutesNewTickets(t *testing.T) {
	lister := &fakeLister{tickets: []ticketing.Ticket{
		{ID: "1", Attributes: map[string]string{"description": "VIP customer issue"}},
		{ID: "2", Attributes: map[string]string{"description": "printer jam"}},
	}}
	sender := &captureSender{}
	p, _ := newTestPoller(t, lister, sender, vipPayload(), nil)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("expected 2 messages (one per destination), got %d", sender.count())
	}

	byChannel := map[string]string{}
	for i, ch := range sender.channels {
		byChannel[ch] = sender.messages[i]
	}
	if !strings.Contains(byChannel["D1"], "#1") {
		t.Errorf("VIP ticket should land in D1: %q", byChannel["D1"])
	}
	if !strings.Contains(byChannel["D0"], "#2") {
		t.Errorf("unmatched ticket should land in D0: %q", byChannel["D0"])
	}
}

func TestRunOnce_DeduplicatesAcrossCycles(t *testing.T) {
	lister := &fakeLister{tickets: []ticketing.Ticket{
		{ID: "1", Attributes: map[string]string{"description": "VIP customer issue"}},
	}}
	sender := &captureSender{}
	p, _ := newTestPoller(t, lister, sender, vipPayload(), nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := p.RunOnce(ctx); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}
	if sender.count() != 1 {
		t.Fatalf("a ticket should be announced once, got %d messages", sender.count())
	}

	// A second ticket appearing later is announced alone.
	lister.tickets = append(lister.tickets, ticketing.Ticket{
		ID: "2", Attributes: map[string]string{"description": "also VIP"},
	})
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce with new ticket: %v", err)
	}
	if sender.count() != 2 {
		t.Fatalf("expected one more message, got %d total", sender.count())
	}
	if strings.Contains(sender.messages[1], "#1") {
		t.Errorf("already-seen ticket must not be re-announced: %q", sender.messages[1])
	}
}

func TestRunOnce_ResolvedTicketsLeaveTheSeenSet(t *testing.T) {
	lister := &fakeLister{tickets: []ticketing.Ticket{
		{ID: "1", Attributes: map[string]string{"description": "VIP"}},
	}}
	sender := &captureSender{}
	p, store := newTestPoller(t, lister, sender, vipPayload(), nil)

	ctx := context.Background()
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// Resolved: disappears from the open set.
	lister.tickets = nil
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce resolved: %v", err)
	}

	var state State
	if _, err := store.GetJSON(ctx, StateKey, &state); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if len(state.Seen) != 0 {
		t.Errorf("resolved ticket should leave the seen-set, got %v", state.Seen)
	}

	// Reopened: announced again.
	lister.tickets = []ticketing.Ticket{{ID: "1", Attributes: map[string]string{"description": "VIP"}}}
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce reopened: %v", err)
	}
	if sender.count() != 2 {
		t.Errorf("reopened ticket should be announced again, got %d messages", sender.count())
	}
}

func TestRunOnce_FetchFailureKeepsSeenSet(t *testing.T) {
	lister := &fakeLister{tickets: []ticketing.Ticket{
		{ID: "1", Attributes: map[string]string{"description": "VIP"}},
	}}
	sender := &captureSender{}
	p, store := newTestPoller(t, lister, sender, vipPayload(), nil)

	ctx := context.Background()
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	lister.err = errors.New("backend down")
	if err := p.RunOnce(ctx); err == nil {
		t.Fatal("expected fetch failure to surface")
	}

	var state State
	if _, err := store.GetJSON(ctx, StateKey, &state); err != nil {
		t.Fatalf("read state: %v", err)
	}
	if _, ok := state.Seen["1"]; !ok {
		t.Error("a failed fetch must not clear the seen-set")
	}
	if state.ConsecutiveFailures != 1 || state.LastError == "" {
		t.Errorf("failure should be recorded: %+v", state)
	}

	// Recovery: no re-announcement of the known ticket.
	lister.err = nil
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce after recovery: %v", err)
	}
	if sender.count() != 1 {
		t.Errorf("known ticket must not repeat after recovery, got %d messages", sender.count())
	}

	state = State{}
	store.GetJSON(ctx, StateKey, &state)
	if state.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures should reset on success, got %d", state.ConsecutiveFailures)
	}
}

func TestRunOnce_NoDestinationDropsTicket(t *testing.T) {
	payload := vipPayload()
	payload.Routing.DefaultDest = nil

	lister := &fakeLister{tickets: []ticketing.Ticket{
		{ID: "9", Attributes: map[string]string{"description": "nothing matches"}},
	}}
	sender := &captureSender{}
	p, _ := newTestPoller(t, lister, sender, payload, nil)

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if sender.count() != 0 {
		t.Errorf("unroutable ticket must be dropped, got %d messages", sender.count())
	}
}

func TestFormatTicket_UsesServiceIcon(t *testing.T) {
	lister := &fakeLister{}
	sender := &captureSender{}
	p, _ := newTestPoller(t, lister, sender, vipPayload(), fixedIcons{"42": ":moneybag:"})

	line := p.formatTicket(ticketing.Ticket{
		ID: "7",
		Attributes: map[string]string{
			"service_id": "42",
			"subject":    "billing export stuck",
			"customer":   "ACME",
		},
	})
	if !strings.HasPrefix(line, ":moneybag: #7") {
		t.Errorf("expected service icon prefix, got %q", line)
	}
	if !strings.Contains(line, "billing export stuck") || !strings.Contains(line, "(ACME)") {
		t.Errorf("line should carry subject and customer: %q", line)
	}

	plain := p.formatTicket(ticketing.Ticket{ID: "8", Attributes: map[string]string{}})
	if !strings.HasPrefix(plain, ":ticket: #8") {
		t.Errorf("expected default icon, got %q", plain)
	}
}

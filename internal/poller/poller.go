// Package poller drives the ticket side of the bridge: the periodic
// open-queue fetch, delta computation, routing, delivery and escalation.
//
// Run a single active instance per queue. The StateStore only guarantees
// per-key atomicity, so two concurrent pollers sharing one prefix would
// race on the seen-set and double-deliver.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/escalation"
	"github.com/sdbridge/sdbridge/internal/notify"
	"github.com/sdbridge/sdbridge/internal/routing"
	"github.com/sdbridge/sdbridge/internal/statestore"
	"github.com/sdbridge/sdbridge/internal/ticketing"
)

// StateKey is the StateStore key holding the seen-set and run statistics.
const StateKey = "polling_state"

// TicketLister is the ticketing collaborator contract.
type TicketLister interface {
	ListOpenTickets(ctx context.Context) ([]ticketing.Ticket, error)
}

// IconResolver decorates ticket lines with a per-service icon.
type IconResolver interface {
	Icon(serviceID string) string
}

// State is the persisted poller state: which tickets have already been
// notified about plus run statistics for the status endpoint.
type State struct {
	Seen map[string]time.Time `json:"seen"` // ticket id -> first_seen_at

	Runs                int64     `json:"runs"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	DroppedSends        int64     `json:"dropped_sends"`
	LastError           string    `json:"last_error,omitempty"`
	LastRunAt           time.Time `json:"last_run_at"`
	LastSuccessAt       time.Time `json:"last_success_at"`
}

// TicketPoller polls the open queue and notifies about new tickets.
type TicketPoller struct {
	tickets  TicketLister
	store    statestore.Store
	runtime  *configstore.Runtime
	notifier *notify.Notifier
	alerter  *notify.AdminAlerter
	tracker  *escalation.Tracker
	icons    IconResolver

	pollInterval time.Duration
	maxBackoff   time.Duration

	now func() time.Time
}

// NewTicketPoller wires the poller. icons and alerter may be nil.
func NewTicketPoller(
	tickets TicketLister,
	store statestore.Store,
	runtime *configstore.Runtime,
	notifier *notify.Notifier,
	alerter *notify.AdminAlerter,
	tracker *escalation.Tracker,
	icons IconResolver,
	pollInterval, maxBackoff time.Duration,
) *TicketPoller {
	return &TicketPoller{
		tickets:      tickets,
		store:        store,
		runtime:      runtime,
		notifier:     notifier,
		alerter:      alerter,
		tracker:      tracker,
		icons:        icons,
		pollInterval: pollInterval,
		maxBackoff:   maxBackoff,
		now:          time.Now,
	}
}

func (p *TicketPoller) loadState(ctx context.Context) (State, error) {
	var state State
	if _, err := p.store.GetJSON(ctx, StateKey, &state); err != nil {
		return State{}, fmt.Errorf("failed to load polling state: %w", err)
	}
	if state.Seen == nil {
		state.Seen = make(map[string]time.Time)
	}
	return state, nil
}

// RunOnce executes one poll cycle. A fetch failure leaves the seen-set
// untouched; the caller applies backoff.
func (p *TicketPoller) RunOnce(ctx context.Context) error {
	state, err := p.loadState(ctx)
	if err != nil {
		return err
	}
	state.Runs++
	state.LastRunAt = p.now()

	current, err := p.tickets.ListOpenTickets(ctx)
	if err != nil {
		state.Failures++
		state.ConsecutiveFailures++
		state.LastError = err.Error()
		if perr := p.store.SetJSON(ctx, StateKey, state, 0); perr != nil {
			log.Printf("TicketPoller: failed to persist state after fetch error: %v", perr)
		}
		return fmt.Errorf("ticket fetch failed: %w", err)
	}

	cfg, err := p.runtime.Current()
	if err != nil {
		return fmt.Errorf("no configuration available: %w", err)
	}

	currentIDs := make(map[string]bool, len(current))
	var newTickets []ticketing.Ticket
	for _, ticket := range current {
		currentIDs[ticket.ID] = true
		if _, seen := state.Seen[ticket.ID]; !seen {
			newTickets = append(newTickets, ticket)
		}
	}

	dropped := p.deliverNew(ctx, cfg.Payload.Routing, newTickets)
	state.DroppedSends += dropped

	if err := p.tracker.Process(ctx, cfg.Payload.Escalation, current); err != nil {
		log.Printf("TicketPoller: escalation pass failed: %v", err)
	}

	// New tickets enter the seen-set even when their notification was
	// dropped by the throttle: tracking state wins over redelivery.
	now := p.now()
	for _, ticket := range newTickets {
		state.Seen[ticket.ID] = now
	}
	for id := range state.Seen {
		if !currentIDs[id] {
			delete(state.Seen, id)
		}
	}

	state.ConsecutiveFailures = 0
	state.LastError = ""
	state.LastSuccessAt = now
	if err := p.store.SetJSON(ctx, StateKey, state, 0); err != nil {
		return fmt.Errorf("failed to persist polling state: %w", err)
	}
	return nil
}

// deliverNew routes and delivers new tickets grouped per destination.
// Returns how many batches the throttle dropped.
func (p *TicketPoller) deliverNew(ctx context.Context, rc configstore.RoutingConfig, newTickets []ticketing.Ticket) int64 {
	if len(newTickets) == 0 {
		return 0
	}

	batches := make(map[string][]string)
	dests := make(map[string]routing.Destination)
	for _, ticket := range newTickets {
		dest, ok := routing.Route(ticket.Attributes, rc.Rules, rc.DefaultDest)
		if !ok {
			log.Printf("TicketPoller: no destination for ticket %s, dropped", ticket.ID)
			if p.alerter != nil {
				p.alerter.Alert(notify.CategoryRoutingFailure,
					fmt.Sprintf("no destination resolvable for ticket %s", ticket.ID))
			}
			continue
		}
		key := dest.Key()
		dests[key] = dest
		batches[key] = append(batches[key], p.formatTicket(ticket))
	}

	keys := make([]string, 0, len(batches))
	for k := range batches {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dropped int64
	for _, key := range keys {
		err := p.notifier.Send(ctx, dests[key], batches[key])
		if errors.Is(err, notify.ErrThrottled) {
			dropped++
		} else if err != nil {
			log.Printf("TicketPoller: delivery to %s failed: %v", key, err)
		}
	}
	return dropped
}

func (p *TicketPoller) formatTicket(ticket ticketing.Ticket) string {
	icon := ""
	if p.icons != nil {
		icon = p.icons.Icon(ticket.Attr("service_id"))
	}
	if icon == "" {
		icon = ":ticket:"
	}
	line := fmt.Sprintf("%s #%s", icon, ticket.ID)
	if subject := ticket.Attr("subject"); subject != "" {
		line += " " + subject
	}
	if customer := ticket.Attr("customer"); customer != "" {
		line += " (" + customer + ")"
	}
	return line
}

// Run loops until stop is closed. Fetch failures double the wait from
// pollInterval up to maxBackoff; a successful cycle resets it.
func (p *TicketPoller) Run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log.Printf("TicketPoller: started, interval %s", p.pollInterval)

	wait := p.pollInterval
	failing := false
	for {
		if err := p.RunOnce(ctx); err != nil {
			log.Printf("TicketPoller: cycle failed: %v", err)
			// First failure waits the base interval, then doubles up
			// to the cap.
			if failing {
				wait *= 2
				if wait > p.maxBackoff {
					wait = p.maxBackoff
				}
			}
			failing = true
		} else {
			wait = p.pollInterval
			failing = false
		}

		select {
		case <-stop:
			log.Println("TicketPoller: stopped")
			return
		case <-time.After(wait):
		}
	}
}

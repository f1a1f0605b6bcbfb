// Package escalation tracks how long tickets sit in the open queue and
// fires a one-time escalation notice per open lifetime.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/notify"
	"github.com/sdbridge/sdbridge/internal/routing"
	"github.com/sdbridge/sdbridge/internal/statestore"
	"github.com/sdbridge/sdbridge/internal/ticketing"
)

// StateKey is the StateStore key holding all per-ticket timer state.
const StateKey = "escalation"

// ticketState is the persisted per-ticket record. EscalatedAt is nil until
// the escalation notice has actually been delivered.
type ticketState struct {
	SeenAt      time.Time  `json:"seen_at"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
}

// Tracker advances escalation timers each poll cycle.
type Tracker struct {
	store    statestore.Store
	notifier *notify.Notifier

	now func() time.Time
}

// NewTracker creates a tracker persisting through store and delivering
// through notifier.
func NewTracker(store statestore.Store, notifier *notify.Notifier) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Process advances timer state for one open-ticket snapshot: new tickets
// start a timer, overdue matching tickets escalate once, and tickets gone
// from the snapshot are dropped so a reopen restarts the clock. State is
// persisted before returning.
func (t *Tracker) Process(ctx context.Context, cfg configstore.EscalationConfig, open []ticketing.Ticket) error {
	state := make(map[string]ticketState)
	if _, err := t.store.GetJSON(ctx, StateKey, &state); err != nil {
		return fmt.Errorf("failed to load escalation state: %w", err)
	}

	now := t.now()
	next := make(map[string]ticketState, len(open))

	for _, ticket := range open {
		rec, known := state[ticket.ID]
		if !known {
			rec = ticketState{SeenAt: now}
		}

		if cfg.Enabled && rec.EscalatedAt == nil && t.due(cfg, rec, now) && t.matches(cfg, ticket) {
			if t.escalate(ctx, cfg, ticket, now.Sub(rec.SeenAt)) {
				at := now
				rec.EscalatedAt = &at
			}
		}
		next[ticket.ID] = rec
	}

	if err := t.store.SetJSON(ctx, StateKey, next, 0); err != nil {
		return fmt.Errorf("failed to persist escalation state: %w", err)
	}
	return nil
}

func (t *Tracker) due(cfg configstore.EscalationConfig, rec ticketState, now time.Time) bool {
	return now.Sub(rec.SeenAt) >= time.Duration(cfg.AfterSeconds)*time.Second
}

// matches applies the escalation filter; an empty filter escalates every
// overdue ticket.
func (t *Tracker) matches(cfg configstore.EscalationConfig, ticket ticketing.Ticket) bool {
	if cfg.Filter.IsEmpty() {
		return true
	}
	ok, _ := cfg.Filter.Match(ticket.Attributes)
	return ok
}

// escalate delivers the notice and reports whether the ticket may be
// marked escalated. A throttled drop leaves the ticket unescalated so the
// next cycle retries.
func (t *Tracker) escalate(ctx context.Context, cfg configstore.EscalationConfig, ticket ticketing.Ticket, age time.Duration) bool {
	dest := routing.Destination{}
	if cfg.Dest != nil {
		dest = *cfg.Dest
	}
	if dest.IsZero() {
		log.Printf("Escalation: ticket %s overdue but no destination configured", ticket.ID)
		return false
	}

	text := fmt.Sprintf(":rotating_light: ticket %s open for %s without reaction", ticket.ID, age.Round(time.Minute))
	if subject := ticket.Attr("subject"); subject != "" {
		text += ": " + subject
	}
	if cfg.Mention != "" {
		text = cfg.Mention + " " + text
	}

	err := t.notifier.Send(ctx, dest, []string{text})
	if err != nil {
		if errors.Is(err, notify.ErrThrottled) {
			log.Printf("Escalation: notice for ticket %s throttled, retrying next cycle", ticket.ID)
		} else {
			log.Printf("Escalation: failed to deliver notice for ticket %s: %v", ticket.ID, err)
		}
		return false
	}
	log.Printf("Escalation: ticket %s escalated after %s", ticket.ID, age.Round(time.Second))
	return true
}

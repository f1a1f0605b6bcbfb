// Package eventlog drains the monotonic event feed through the filter
// chain and routes surviving entries to chat.
package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/sdbridge/sdbridge/internal/configstore"
	"github.com/sdbridge/sdbridge/internal/filterstore"
	"github.com/sdbridge/sdbridge/internal/notify"
	"github.com/sdbridge/sdbridge/internal/routing"
	"github.com/sdbridge/sdbridge/internal/statestore"
	"github.com/sdbridge/sdbridge/internal/ticketing"
)

// StateKey is the StateStore key holding the feed cursor.
const StateKey = "eventlog"

// EntryLister is the eventlog side of the ticketing collaborator.
type EntryLister interface {
	ListEntriesSince(ctx context.Context, afterID int64, limit int) ([]ticketing.LogEntry, error)
	LastEntryID(ctx context.Context) (int64, error)
}

// State is the persisted cursor plus heartbeat bookkeeping.
type State struct {
	Cursor          int64     `json:"cursor"`
	Bootstrapped    bool      `json:"bootstrapped"`
	EmptyPolls      int       `json:"empty_polls"`
	Processed       int64     `json:"processed"`
	Suppressed      int64     `json:"suppressed"`
	LastEntryAt     time.Time `json:"last_entry_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
}

// Processor drains the feed in cursor order.
type Processor struct {
	entries  EntryLister
	store    statestore.Store
	runtime  *configstore.Runtime
	filters  *filterstore.Store
	notifier *notify.Notifier
	alerter  *notify.AdminAlerter

	pollInterval   time.Duration
	batchSize      int
	keepaliveEvery int
	startID        int64

	now func() time.Time
}

// NewProcessor wires the processor. startID > 0 pins the cold-start cursor;
// otherwise the feed tail is used so history is not replayed. alerter may
// be nil.
func NewProcessor(
	entries EntryLister,
	store statestore.Store,
	runtime *configstore.Runtime,
	filters *filterstore.Store,
	notifier *notify.Notifier,
	alerter *notify.AdminAlerter,
	pollInterval time.Duration,
	batchSize, keepaliveEvery int,
	startID int64,
) *Processor {
	if batchSize < 1 {
		batchSize = 100
	}
	return &Processor{
		entries:        entries,
		store:          store,
		runtime:        runtime,
		filters:        filters,
		notifier:       notifier,
		alerter:        alerter,
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		keepaliveEvery: keepaliveEvery,
		startID:        startID,
		now:            time.Now,
	}
}

func (p *Processor) loadState(ctx context.Context) (State, error) {
	var state State
	found, err := p.store.GetJSON(ctx, StateKey, &state)
	if err != nil {
		return State{}, fmt.Errorf("failed to load eventlog state: %w", err)
	}
	if found && state.Bootstrapped {
		return state, nil
	}

	// Cold start: seed the cursor so the whole feed history is not
	// replayed into chat.
	if p.startID > 0 {
		state.Cursor = p.startID
	} else {
		tail, err := p.entries.LastEntryID(ctx)
		if err != nil {
			return State{}, fmt.Errorf("failed to bootstrap eventlog cursor: %w", err)
		}
		state.Cursor = tail
	}
	state.Bootstrapped = true
	log.Printf("EventlogProcessor: cursor bootstrapped at %d", state.Cursor)
	if err := p.store.SetJSON(ctx, StateKey, state, 0); err != nil {
		return State{}, fmt.Errorf("failed to persist bootstrapped cursor: %w", err)
	}
	return state, nil
}

// RunOnce processes one batch. It returns the number of entries fetched so
// the run loop can keep draining a backlog without idling in between.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	state, err := p.loadState(ctx)
	if err != nil {
		return 0, err
	}

	entries, err := p.entries.ListEntriesSince(ctx, state.Cursor, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("eventlog fetch failed: %w", err)
	}

	if len(entries) == 0 {
		state.EmptyPolls++
		if p.keepaliveEvery > 0 && state.EmptyPolls >= p.keepaliveEvery {
			p.heartbeat(ctx, &state)
			state.EmptyPolls = 0
		}
		if err := p.store.SetJSON(ctx, StateKey, state, 0); err != nil {
			return 0, fmt.Errorf("failed to persist eventlog state: %w", err)
		}
		return 0, nil
	}
	state.EmptyPolls = 0

	cfg, err := p.runtime.Current()
	if err != nil {
		return 0, fmt.Errorf("no configuration available: %w", err)
	}
	chain, err := p.filters.ListEnabled()
	if err != nil {
		return 0, fmt.Errorf("failed to load filter chain: %w", err)
	}

	suppressed := p.deliver(ctx, cfg.Payload.Eventlog, chain, entries)

	// Ascending order is the feed contract, so the last entry carries the
	// highest id.
	state.Cursor = entries[len(entries)-1].EventID
	state.Processed += int64(len(entries))
	state.Suppressed += suppressed
	state.LastEntryAt = p.now()

	// Persisting after delivery leaves a crash window where the batch is
	// redelivered on restart. Duplicates are preferred over skipped
	// entries.
	if err := p.store.SetJSON(ctx, StateKey, state, 0); err != nil {
		return len(entries), fmt.Errorf("failed to persist eventlog cursor: %w", err)
	}
	return len(entries), nil
}

// deliver runs entries through the filter chain and routes the survivors,
// batched per destination. Returns how many entries were suppressed.
func (p *Processor) deliver(ctx context.Context, rc configstore.RoutingConfig, chain []filterstore.Filter, entries []ticketing.LogEntry) int64 {
	batches := make(map[string][]string)
	dests := make(map[string]routing.Destination)
	var suppressed int64

	for _, entry := range entries {
		if match := filterstore.FirstMatch(chain, entry.Fields); match != nil {
			suppressed++
			if err := p.filters.IncrementHits(match.ID); err != nil {
				log.Printf("EventlogProcessor: failed to count hit for filter %q: %v", match.Name, err)
			}
			continue
		}

		dest, ok := routing.Route(entry.Fields, rc.Rules, rc.DefaultDest)
		if !ok {
			log.Printf("EventlogProcessor: no destination for entry %d, dropped", entry.EventID)
			if p.alerter != nil {
				p.alerter.Alert(notify.CategoryRoutingFailure,
					fmt.Sprintf("no destination resolvable for eventlog entry %d", entry.EventID))
			}
			continue
		}
		key := dest.Key()
		dests[key] = dest
		batches[key] = append(batches[key], formatEntry(entry))
	}

	keys := make([]string, 0, len(batches))
	for k := range batches {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := p.notifier.Send(ctx, dests[key], batches[key]); err != nil && !errors.Is(err, notify.ErrThrottled) {
			log.Printf("EventlogProcessor: delivery to %s failed: %v", key, err)
		}
	}
	return suppressed
}

// heartbeat announces that the feed is alive but quiet. It goes to the
// eventlog default destination; without one the heartbeat is skipped.
func (p *Processor) heartbeat(ctx context.Context, state *State) {
	cfg, err := p.runtime.Current()
	if err != nil || cfg.Payload.Eventlog.DefaultDest == nil {
		log.Println("EventlogProcessor: feed quiet, no heartbeat destination configured")
		return
	}
	text := fmt.Sprintf(":wave: eventlog feed is alive, no entries since id %d", state.Cursor)
	if err := p.notifier.Send(ctx, *cfg.Payload.Eventlog.DefaultDest, []string{text}); err != nil {
		if !errors.Is(err, notify.ErrThrottled) {
			log.Printf("EventlogProcessor: heartbeat delivery failed: %v", err)
		}
		// LastHeartbeatAt only moves when the message reached the
		// channel.
		return
	}
	state.LastHeartbeatAt = p.now()
}

func formatEntry(entry ticketing.LogEntry) string {
	if msg := entry.Fields["message"]; msg != "" {
		return fmt.Sprintf(":scroll: [%d] %s", entry.EventID, msg)
	}
	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+entry.Fields[k])
	}
	return fmt.Sprintf(":scroll: [%d] %s", entry.EventID, strings.Join(parts, "; "))
}

// Run loops until stop is closed. A full batch skips the idle wait so a
// backlog drains continuously; failures back off like the ticket poller.
func (p *Processor) Run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log.Printf("EventlogProcessor: started, interval %s", p.pollInterval)

	wait := p.pollInterval
	failing := false
	for {
		n, err := p.RunOnce(ctx)
		switch {
		case err != nil:
			log.Printf("EventlogProcessor: cycle failed: %v", err)
			if failing {
				wait *= 2
				if wait > 10*p.pollInterval {
					wait = 10 * p.pollInterval
				}
			}
			failing = true
		case n >= p.batchSize:
			// Backlog pending: drain without idling.
			wait = 0
			failing = false
		default:
			wait = p.pollInterval
			failing = false
		}

		select {
		case <-stop:
			log.Println("EventlogProcessor: stopped")
			return
		case <-time.After(wait):
		}
	}
}

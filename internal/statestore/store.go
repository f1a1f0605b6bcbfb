// Package statestore persists the small JSON state blobs the pollers need
// across restarts: the ticket seen-set, per-ticket escalation metadata and
// the eventlog cursor. Two interchangeable backends exist: Redis for
// durability and an in-process map as the emergency fallback.
package statestore

import (
	"context"
	"time"
)

// Store is the minimal contract the polling logic needs. Per-key writes are
// last-writer-wins; multi-key transactions are out of scope, so operators
// must run a single active poller instance per queue (or add their own
// distributed lock). The store alone does not arbitrate concurrent pollers.
type Store interface {
	// GetJSON reads the value stored under name into out. The boolean is
	// false when the key does not exist.
	GetJSON(ctx context.Context, name string, out interface{}) (bool, error)

	// SetJSON stores value under name. A zero ttl means no expiry.
	SetJSON(ctx context.Context, name string, value interface{}, ttl time.Duration) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, name string) error

	// Backend reports which backend is currently serving requests
	// ("redis" or "memory").
	Backend() string

	// Ping checks backend reachability.
	Ping(ctx context.Context) error
}

// Alerter is the slice of AdminAlerter the resilient store needs to report
// degradation without importing the notify package wholesale.
type Alerter interface {
	Alert(category, message string)
}

package statestore

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ResilientStore wraps a primary (Redis) store with an in-process fallback.
// When the primary fails, callers never see the error: the operation is
// served from memory and the degradation is reported once. The switch is
// permanent for the process lifetime. Flipping back mid-flight would serve
// pre-degradation Redis state while the fresh cursors sit only in memory,
// so only a restart retries the primary.
type ResilientStore struct {
	primary  Store
	fallback Store
	alerter  Alerter

	mu        sync.Mutex
	degraded  bool
	lastError string
	lastOKAt  time.Time
}

// NewResilientStore wraps primary with fallback. alerter may be nil.
func NewResilientStore(primary, fallback Store, alerter Alerter) *ResilientStore {
	return &ResilientStore{
		primary:  primary,
		fallback: fallback,
		alerter:  alerter,
	}
}

// Backend reports the backend currently serving requests.
func (s *ResilientStore) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		return s.fallback.Backend()
	}
	return s.primary.Backend()
}

// LastError returns the most recent primary failure, if any.
func (s *ResilientStore) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// LastOKAt returns when the primary last answered without error.
func (s *ResilientStore) LastOKAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOKAt
}

func (s *ResilientStore) isDegraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *ResilientStore) markOK() {
	s.mu.Lock()
	s.lastError = ""
	s.lastOKAt = time.Now()
	s.mu.Unlock()
}

func (s *ResilientStore) markFail(ctx context.Context, err error) {
	s.mu.Lock()
	firstFailure := !s.degraded
	s.degraded = true
	s.lastError = err.Error()
	s.mu.Unlock()

	if !firstFailure {
		return
	}
	log.Printf("StateStore: primary backend unreachable, staying on %s until restart: %v", s.fallback.Backend(), err)
	if s.alerter != nil {
		s.alerter.Alert("dependency-degraded",
			fmt.Sprintf("state store degraded to %s backend: %v", s.fallback.Backend(), err))
	}
	// The flag lands next to the cursors so anything reading the
	// namespace sees the degradation.
	if serr := s.fallback.SetJSON(ctx, DegradedKey, map[string]string{"error": err.Error()}, 0); serr != nil {
		log.Printf("StateStore: failed to record degraded flag: %v", serr)
	}
}

// DegradedKey marks a degraded primary in the store namespace, next to
// the cursors it failed to serve.
const DegradedKey = "degraded"

// Ping probes the primary. Once degraded the store stays on the fallback,
// so the probe is skipped. On a healthy primary a stale degraded flag left
// by an earlier process is cleared.
func (s *ResilientStore) Ping(ctx context.Context) error {
	if s.isDegraded() {
		return nil
	}
	if err := s.primary.Ping(ctx); err != nil {
		s.markFail(ctx, err)
		return nil
	}
	s.markOK()
	if derr := s.primary.Delete(ctx, DegradedKey); derr != nil {
		log.Printf("StateStore: failed to clear degraded flag: %v", derr)
	}
	return nil
}

// GetJSON reads from the primary, transparently falling back to memory.
func (s *ResilientStore) GetJSON(ctx context.Context, name string, out interface{}) (bool, error) {
	if s.isDegraded() {
		return s.fallback.GetJSON(ctx, name, out)
	}
	ok, err := s.primary.GetJSON(ctx, name, out)
	if err == nil {
		s.markOK()
		return ok, nil
	}
	s.markFail(ctx, err)
	return s.fallback.GetJSON(ctx, name, out)
}

// SetJSON writes to the primary; on failure the value still lands in the
// fallback so the process stays internally consistent.
func (s *ResilientStore) SetJSON(ctx context.Context, name string, value interface{}, ttl time.Duration) error {
	if s.isDegraded() {
		return s.fallback.SetJSON(ctx, name, value, ttl)
	}
	if err := s.primary.SetJSON(ctx, name, value, ttl); err != nil {
		s.markFail(ctx, err)
		return s.fallback.SetJSON(ctx, name, value, ttl)
	}
	s.markOK()
	return nil
}

// Delete removes the key from the primary, or the fallback when degraded.
func (s *ResilientStore) Delete(ctx context.Context, name string) error {
	if s.isDegraded() {
		return s.fallback.Delete(ctx, name)
	}
	if err := s.primary.Delete(ctx, name); err != nil {
		s.markFail(ctx, err)
		return s.fallback.Delete(ctx, name)
	}
	s.markOK()
	return nil
}

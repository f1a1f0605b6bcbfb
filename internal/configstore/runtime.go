package configstore

import (
	"log"
	"sync"
	"time"
)

// Alerter mirrors the notify package's admin alerter without importing it.
type Alerter interface {
	Alert(category, message string)
}

// Runtime is the read path the pollers use. It caches the current version
// for a short TTL so every poll cycle does not hit the database, and keeps
// serving the last good version when a refresh fails.
type Runtime struct {
	store   *Store
	ttl     time.Duration
	alerter Alerter

	mu        sync.Mutex
	cached    Version
	fetchedAt time.Time
	haveValue bool
	degraded  bool

	now func() time.Time
}

// NewRuntime creates a cached view over store. alerter may be nil.
func NewRuntime(store *Store, ttl time.Duration, alerter Alerter) *Runtime {
	return &Runtime{
		store:   store,
		ttl:     ttl,
		alerter: alerter,
		now:     time.Now,
	}
}

// Current returns the active configuration, refreshing the cache when the
// TTL has expired. A failed refresh keeps the previous value; only a cold
// start with no cached value surfaces the error.
func (r *Runtime) Current() (Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.haveValue && r.now().Sub(r.fetchedAt) < r.ttl {
		return r.cached, nil
	}

	v, err := r.store.GetCurrent()
	if err != nil {
		if !r.haveValue {
			return Version{}, err
		}
		if !r.degraded {
			r.degraded = true
			log.Printf("ConfigStore: refresh failed, serving cached v%d: %v", r.cached.Version, err)
			if r.alerter != nil {
				r.alerter.Alert("dependency-degraded",
					"configuration refresh failed, serving last known version: "+err.Error())
			}
		}
		// Push the next attempt out a full TTL so a dead database is not
		// hammered on every poll cycle.
		r.fetchedAt = r.now()
		return r.cached, nil
	}

	if r.degraded {
		log.Printf("ConfigStore: refresh recovered on v%d", v.Version)
		r.degraded = false
	}
	r.cached = v
	r.fetchedAt = r.now()
	r.haveValue = true
	return v, nil
}

// Invalidate drops the cached value so the next Current call re-reads the
// database. The write path calls this after applying a new version.
func (r *Runtime) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.haveValue = false
}

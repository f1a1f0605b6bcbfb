package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sdbridge/sdbridge/internal/chat"
	"github.com/sdbridge/sdbridge/internal/routing"
)

// Alert categories. Rollback events are informational and always pass the
// gate; the rest repeat at most once per configured interval.
const (
	CategoryDependencyDegraded = "dependency-degraded"
	CategoryRoutingFailure     = "routing-failure"
	CategoryConfigRollback     = "config-rollback-event"
)

// AdminAlerter delivers internal health notices to the admin channel,
// gating repeats per category.
type AdminAlerter struct {
	sender      chat.Sender
	dest        routing.Destination
	minInterval time.Duration

	mu          sync.Mutex
	lastAlertAt map[string]time.Time
	skipped     map[string]int64

	now func() time.Time
}

// NewAdminAlerter creates an alerter posting to dest. minInterval gates
// repeats within one category.
func NewAdminAlerter(sender chat.Sender, dest routing.Destination, minInterval time.Duration) *AdminAlerter {
	return &AdminAlerter{
		sender:      sender,
		dest:        dest,
		minInterval: minInterval,
		lastAlertAt: make(map[string]time.Time),
		skipped:     make(map[string]int64),
		now:         time.Now,
	}
}

func (a *AdminAlerter) intervalFor(category string) time.Duration {
	if category == CategoryConfigRollback {
		return 0
	}
	return a.minInterval
}

// Alert posts one notice unless the category fired too recently. Delivery
// failures are logged and swallowed: the alerter must never take down the
// component that called it.
func (a *AdminAlerter) Alert(category, message string) {
	a.mu.Lock()
	interval := a.intervalFor(category)
	last, ok := a.lastAlertAt[category]
	if ok && interval > 0 && a.now().Sub(last) < interval {
		a.skipped[category]++
		a.mu.Unlock()
		return
	}
	a.lastAlertAt[category] = a.now()
	a.mu.Unlock()

	text := fmt.Sprintf(":warning: [%s] %s", category, message)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sender.SendMessage(ctx, a.dest.ChannelID, a.dest.ThreadID, text); err != nil {
		log.Printf("AdminAlerter: failed to deliver %s alert: %v", category, err)
	}
}

// SkippedCounts returns how many alerts each category suppressed.
func (a *AdminAlerter) SkippedCounts() map[string]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.skipped))
	for k, v := range a.skipped {
		out[k] = v
	}
	return out
}

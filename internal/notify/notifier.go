// Package notify owns outbound delivery: the rate-limited batching
// notifier for routed items and the rate-limited admin alert channel.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sdbridge/sdbridge/internal/chat"
	"github.com/sdbridge/sdbridge/internal/routing"
)

// ErrThrottled means the destination was messaged too recently and the
// items were dropped. The next poll cycle re-derives what still matters,
// so dropped batches are not queued.
var ErrThrottled = errors.New("destination throttled, items dropped")

// Counters is a snapshot of delivery statistics for the status endpoint.
type Counters struct {
	Sent    int64 `json:"sent"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Notifier batches items per destination and enforces a minimum interval
// between messages to the same destination.
type Notifier struct {
	sender      chat.Sender
	minInterval time.Duration
	maxItems    int
	maxAttempts int
	retryBase   time.Duration
	alerter     *AdminAlerter

	mu         sync.Mutex
	lastSentAt map[string]time.Time
	counters   Counters

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewNotifier creates a notifier. alerter may be nil.
func NewNotifier(sender chat.Sender, minInterval time.Duration, maxItems, maxAttempts int, retryBase time.Duration, alerter *AdminAlerter) *Notifier {
	if maxItems < 1 {
		maxItems = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Notifier{
		sender:      sender,
		minInterval: minInterval,
		maxItems:    maxItems,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		alerter:     alerter,
		lastSentAt:  make(map[string]time.Time),
		now:         time.Now,
		sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Counters returns a snapshot of delivery statistics.
func (n *Notifier) Counters() Counters {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.counters
}

// reserve checks the per-destination throttle and, when clear, claims the
// slot before the network round-trip so concurrent callers cannot both
// pass. The returned snapshot is taken under the same lock as the claim,
// so releaseOnFailure restores exactly what the claim displaced.
func (n *Notifier) reserve(destKey string) (prev time.Time, hadPrev, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	prev, hadPrev = n.lastSentAt[destKey]
	if hadPrev && n.now().Sub(prev) < n.minInterval {
		n.counters.Dropped++
		return time.Time{}, false, false
	}
	n.lastSentAt[destKey] = n.now()
	return prev, hadPrev, true
}

func (n *Notifier) releaseOnFailure(destKey string, prev time.Time, hadPrev bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if hadPrev {
		n.lastSentAt[destKey] = prev
	} else {
		delete(n.lastSentAt, destKey)
	}
}

// Send delivers items to dest as one message. Excess items beyond the
// batch limit are summarized in a trailer line. Returns ErrThrottled when
// the destination was messaged within the minimum interval.
func (n *Notifier) Send(ctx context.Context, dest routing.Destination, items []string) error {
	if len(items) == 0 {
		return nil
	}
	destKey := dest.Key()

	prev, hadPrev, ok := n.reserve(destKey)
	if !ok {
		log.Printf("Notifier: dropped %d item(s) for %s, destination throttled", len(items), destKey)
		return ErrThrottled
	}

	text := n.formatBatch(items)
	batchID := uuid.New().String()[:8]

	var lastErr error
	backoff := n.retryBase
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		lastErr = n.sender.SendMessage(ctx, dest.ChannelID, dest.ThreadID, text)
		if lastErr == nil {
			n.mu.Lock()
			n.counters.Sent++
			n.mu.Unlock()
			return nil
		}
		log.Printf("Notifier: batch %s to %s failed (attempt %d/%d): %v", batchID, destKey, attempt, n.maxAttempts, lastErr)
		if attempt < n.maxAttempts {
			if err := n.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
			backoff *= 2
		}
	}

	n.releaseOnFailure(destKey, prev, hadPrev)
	n.mu.Lock()
	n.counters.Failed++
	n.mu.Unlock()

	if n.alerter != nil {
		n.alerter.Alert(CategoryDependencyDegraded,
			fmt.Sprintf("delivery to %s failed after %d attempts (batch %s): %v", destKey, n.maxAttempts, batchID, lastErr))
	}
	return fmt.Errorf("delivery to %s failed after %d attempts: %w", destKey, n.maxAttempts, lastErr)
}

func (n *Notifier) formatBatch(items []string) string {
	if len(items) <= n.maxItems {
		return strings.Join(items, "\n")
	}
	shown := items[:n.maxItems]
	return strings.Join(shown, "\n") + fmt.Sprintf("\n… and %d more", len(items)-n.maxItems)
}

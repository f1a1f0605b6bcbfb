package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/sdbridge/sdbridge/internal/routing"
)

func TestAdminAlerter_GatesRepeatsPerCategory(t *testing.T) {
	sender := &fakeSender{}
	clock := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	a := NewAdminAlerter(sender, routing.Destination{ChannelID: "C-ADMIN"}, 5*time.Minute)
	a.now = func() time.Time { return clock }

	a.Alert(CategoryDependencyDegraded, "redis unreachable")
	a.Alert(CategoryDependencyDegraded, "redis still unreachable")
	if sender.count() != 1 {
		t.Fatalf("repeat within the interval should be gated, got %d messages", sender.count())
	}

	// A different category has its own gate.
	a.Alert(CategoryRoutingFailure, "no destination for ticket 42")
	if sender.count() != 2 {
		t.Fatalf("other categories should not be gated, got %d messages", sender.count())
	}

	clock = clock.Add(6 * time.Minute)
	a.Alert(CategoryDependencyDegraded, "redis unreachable again")
	if sender.count() != 3 {
		t.Fatalf("alert after the interval should pass, got %d messages", sender.count())
	}

	skipped := a.SkippedCounts()
	if skipped[CategoryDependencyDegraded] != 1 {
		t.Errorf("expected 1 skipped dependency alert, got %v", skipped)
	}
}

func TestAdminAlerter_RollbackEventsAlwaysPass(t *testing.T) {
	sender := &fakeSender{}
	a := NewAdminAlerter(sender, routing.Destination{ChannelID: "C-ADMIN"}, time.Hour)

	a.Alert(CategoryConfigRollback, "rolled back v5 to v3")
	a.Alert(CategoryConfigRollback, "rolled back v6 to v3")
	if sender.count() != 2 {
		t.Fatalf("rollback events must always be delivered, got %d messages", sender.count())
	}
	if !strings.Contains(sender.messages[0], CategoryConfigRollback) {
		t.Errorf("message should name the category: %q", sender.messages[0])
	}
}

func TestAdminAlerter_DeliveryFailureIsSwallowed(t *testing.T) {
	sender := &fakeSender{failures: 1}
	a := NewAdminAlerter(sender, routing.Destination{ChannelID: "C-ADMIN"}, time.Minute)

	// Must not panic or propagate.
	a.Alert(CategoryDependencyDegraded, "redis unreachable")
	if sender.count() != 0 {
		t.Fatalf("expected no delivered message, got %d", sender.count())
	}
}

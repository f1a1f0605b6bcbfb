package servicedir

import (
	"testing"
	"time"

	"github.com/sdbridge/sdbridge/internal/database"
	"github.com/sdbridge/sdbridge/internal/testhelpers"
)

func TestDirectory_IconLookup(t *testing.T) {
	db := testhelpers.SetupTestDB(t)

	rows := []database.ServiceIcon{
		{ServiceID: "42", ServiceCode: "billing", ServiceName: "Billing", Icon: ":moneybag:", Enabled: true},
		{ServiceID: "43", ServiceCode: "crm", ServiceName: "CRM", Icon: ":card_index:", Enabled: false},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed icon: %v", err)
		}
	}

	dir := NewDirectory(db, time.Minute)
	if got := dir.Icon("42"); got != ":moneybag:" {
		t.Errorf("expected :moneybag:, got %q", got)
	}
	if got := dir.Icon("43"); got != "" {
		t.Errorf("disabled icon should not resolve, got %q", got)
	}
	if got := dir.Icon(""); got != "" {
		t.Errorf("empty service id should resolve to nothing, got %q", got)
	}
}

func TestDirectory_CacheRefreshesAfterTTL(t *testing.T) {
	db := testhelpers.SetupTestDB(t)
	if err := db.Create(&database.ServiceIcon{ServiceID: "42", Icon: ":one:", Enabled: true}).Error; err != nil {
		t.Fatalf("seed icon: %v", err)
	}

	clock := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	dir := NewDirectory(db, 30*time.Second)
	dir.now = func() time.Time { return clock }

	if got := dir.Icon("42"); got != ":one:" {
		t.Fatalf("expected :one:, got %q", got)
	}

	if err := db.Model(&database.ServiceIcon{}).Where("service_id = ?", "42").Update("icon", ":two:").Error; err != nil {
		t.Fatalf("update icon: %v", err)
	}

	if got := dir.Icon("42"); got != ":one:" {
		t.Errorf("expected cached :one: inside TTL, got %q", got)
	}

	clock = clock.Add(31 * time.Second)
	if got := dir.Icon("42"); got != ":two:" {
		t.Errorf("expected :two: after TTL, got %q", got)
	}
}

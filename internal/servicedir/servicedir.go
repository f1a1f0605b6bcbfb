// Package servicedir resolves per-service notification icons. The table is
// owned by external tooling; this process only reads it, with a short TTL
// cache so icon lookups do not hit the database on every ticket.
package servicedir

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/sdbridge/sdbridge/internal/database"
)

// Directory caches enabled service icons by service id.
type Directory struct {
	db  *gorm.DB
	ttl time.Duration

	mu        sync.Mutex
	icons     map[string]string
	fetchedAt time.Time

	now func() time.Time
}

// NewDirectory creates a directory over db with the given cache TTL.
func NewDirectory(db *gorm.DB, ttl time.Duration) *Directory {
	return &Directory{
		db:  db,
		ttl: ttl,
		now: time.Now,
	}
}

func (d *Directory) refresh() error {
	var rows []database.ServiceIcon
	if err := d.db.Where("enabled = ?", true).Find(&rows).Error; err != nil {
		return fmt.Errorf("failed to load service icons: %w", err)
	}
	icons := make(map[string]string, len(rows))
	for _, r := range rows {
		icons[r.ServiceID] = r.Icon
	}
	d.icons = icons
	d.fetchedAt = d.now()
	return nil
}

// Icon returns the icon for a service id, or "" when none is configured.
// A failed refresh keeps serving the previous map.
func (d *Directory) Icon(serviceID string) string {
	if serviceID == "" {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.icons == nil || d.now().Sub(d.fetchedAt) >= d.ttl {
		if err := d.refresh(); err != nil {
			// Wait a full TTL before retrying a broken database.
			d.fetchedAt = d.now()
			if d.icons == nil {
				return ""
			}
		}
	}
	return d.icons[serviceID]
}

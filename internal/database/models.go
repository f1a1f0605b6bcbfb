package database

import (
	"time"
)

// BotConfig is the single current configuration row (id is always 1).
// The payload itself is stored as JSON text; the typed view lives in the
// configstore package so the database layer stays shape-agnostic.
type BotConfig struct {
	ID         int       `gorm:"primaryKey" json:"id"`
	Version    int       `gorm:"not null" json:"version"`
	ConfigJSON string    `gorm:"type:text;not null" json:"config_json"`
	Author     string    `gorm:"size:128" json:"author"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (BotConfig) TableName() string {
	return "bot_config"
}

// BotConfigHistory holds every superseded configuration version. Rows are
// only ever appended; rollback writes a new current version instead of
// touching history.
type BotConfigHistory struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Version    int       `gorm:"not null;index" json:"version"`
	ConfigJSON string    `gorm:"type:text;not null" json:"config_json"`
	Author     string    `gorm:"size:128" json:"author"`
	Comment    string    `gorm:"type:text" json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

func (BotConfigHistory) TableName() string {
	return "bot_config_history"
}

// EventlogFilterMatchType selects how an eventlog filter pattern is applied.
type EventlogFilterMatchType string

const (
	EventlogFilterContains EventlogFilterMatchType = "contains"
	EventlogFilterRegex    EventlogFilterMatchType = "regex"
)

// EventlogFilter suppresses matching eventlog entries before routing.
// Hits is monotonic: it only grows, except through the explicit reset
// endpoint of the admin tooling that owns this table.
type EventlogFilter struct {
	ID        uint                    `gorm:"primaryKey" json:"id"`
	Name      string                  `gorm:"size:128" json:"name"`
	Enabled   bool                    `gorm:"default:true;index" json:"enabled"`
	MatchType EventlogFilterMatchType `gorm:"type:varchar(16);not null" json:"match_type"`
	Field     string                  `gorm:"size:128;not null" json:"field"` // "any" or "*" scans all fields
	Pattern   string                  `gorm:"type:text;not null" json:"pattern"`
	Hits      int64                   `gorm:"default:0" json:"hits"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func (EventlogFilter) TableName() string {
	return "eventlog_filters"
}

// ServiceIcon decorates ticket notifications with a per-service marker.
// The table is maintained by external tooling; the bridge reads it only.
type ServiceIcon struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ServiceID   string    `gorm:"uniqueIndex;size:64;not null" json:"service_id"`
	ServiceCode string    `gorm:"size:64" json:"service_code"`
	ServiceName string    `gorm:"size:255" json:"service_name"`
	Icon        string    `gorm:"size:32;not null" json:"icon"`
	Enabled     bool      `gorm:"default:true;index" json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ServiceIcon) TableName() string {
	return "service_icons"
}

// Package filterstore loads eventlog suppression filters from the database
// and matches entries against them. Filters are evaluated in creation
// order; the first enabled filter that matches suppresses the entry and
// takes the hit.
package filterstore

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/sdbridge/sdbridge/internal/database"
)

// anyField values make a filter scan every field of an entry.
func scansAllFields(field string) bool {
	return field == "" || field == "any" || field == "*"
}

// Filter is one compiled suppression rule.
type Filter struct {
	ID        uint
	Name      string
	MatchType database.EventlogFilterMatchType
	Field     string
	Pattern   string
	Hits      int64

	re *regexp.Regexp
}

// Matches reports whether the filter suppresses an entry with the given
// fields. Contains matching is case-insensitive.
func (f *Filter) Matches(fields map[string]string) bool {
	if scansAllFields(f.Field) {
		for _, v := range fields {
			if f.matchValue(v) {
				return true
			}
		}
		return false
	}
	v, ok := fields[f.Field]
	return ok && f.matchValue(v)
}

func (f *Filter) matchValue(v string) bool {
	switch f.MatchType {
	case database.EventlogFilterRegex:
		return f.re != nil && f.re.MatchString(v)
	default:
		return strings.Contains(strings.ToLower(v), strings.ToLower(f.Pattern))
	}
}

// Store reads filters and records suppression hits.
type Store struct {
	db *gorm.DB
}

// NewStore creates a store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListEnabled returns enabled filters in creation order with regex
// patterns compiled. A filter with a broken pattern is skipped and logged
// rather than blocking the whole chain.
func (s *Store) ListEnabled() ([]Filter, error) {
	var rows []database.EventlogFilter
	if err := s.db.Where("enabled = ?", true).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load eventlog filters: %w", err)
	}

	filters := make([]Filter, 0, len(rows))
	for _, row := range rows {
		f := Filter{
			ID:        row.ID,
			Name:      row.Name,
			MatchType: row.MatchType,
			Field:     row.Field,
			Pattern:   row.Pattern,
			Hits:      row.Hits,
		}
		if row.MatchType == database.EventlogFilterRegex {
			re, err := regexp.Compile(row.Pattern)
			if err != nil {
				log.Printf("FilterStore: skipping filter %q (id=%d), bad pattern: %v", row.Name, row.ID, err)
				continue
			}
			f.re = re
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// IncrementHits bumps the suppression counter of one filter.
func (s *Store) IncrementHits(id uint) error {
	err := s.db.Model(&database.EventlogFilter{}).
		Where("id = ?", id).
		UpdateColumn("hits", gorm.Expr("hits + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment filter hits: %w", err)
	}
	return nil
}

// FirstMatch returns the first filter suppressing the entry, or nil.
func FirstMatch(filters []Filter, fields map[string]string) *Filter {
	for i := range filters {
		if filters[i].Matches(fields) {
			return &filters[i]
		}
	}
	return nil
}

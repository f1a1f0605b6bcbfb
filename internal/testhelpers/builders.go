// Package testhelpers provides additional data builders for testing
package testhelpers

import (
	"time"

	"github.com/sdbridge/sdbridge/internal/database"
)

// ========================================
// Eventlog Filter Builder
// ========================================

// FilterBuilder builds EventlogFilter instances for testing
type FilterBuilder struct {
	filter database.EventlogFilter
}

// NewFilterBuilder creates a new filter builder with defaults
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filter: database.EventlogFilter{
			Name:      "test-filter",
			Enabled:   true,
			MatchType: database.EventlogFilterContains,
			Field:     "any",
			Pattern:   "maintenance",
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		},
	}
}

// WithName sets the filter name
func (b *FilterBuilder) WithName(name string) *FilterBuilder {
	b.filter.Name = name
	return b
}

// WithContains sets a substring pattern
func (b *FilterBuilder) WithContains(pattern string) *FilterBuilder {
	b.filter.MatchType = database.EventlogFilterContains
	b.filter.Pattern = pattern
	return b
}

// WithRegex sets a regular expression pattern
func (b *FilterBuilder) WithRegex(pattern string) *FilterBuilder {
	b.filter.MatchType = database.EventlogFilterRegex
	b.filter.Pattern = pattern
	return b
}

// WithField restricts matching to a single entry field
func (b *FilterBuilder) WithField(field string) *FilterBuilder {
	b.filter.Field = field
	return b
}

// Disabled sets the filter as disabled
func (b *FilterBuilder) Disabled() *FilterBuilder {
	b.filter.Enabled = false
	return b
}

// Build returns the constructed filter
func (b *FilterBuilder) Build() database.EventlogFilter {
	return b.filter
}

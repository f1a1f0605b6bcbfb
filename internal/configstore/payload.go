// Package configstore owns the versioned runtime configuration: routing
// rules for tickets and eventlog entries plus the escalation policy.
// Versions form a gapless sequence starting at 1; history is append-only
// and rollback always produces a new version.
package configstore

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sdbridge/sdbridge/internal/routing"
)

// RoutingConfig is one ordered rule list with an optional default
// destination used when no rule matches.
type RoutingConfig struct {
	Rules       []routing.Rule       `json:"rules" yaml:"rules"`
	DefaultDest *routing.Destination `json:"default_dest,omitempty" yaml:"default_dest,omitempty"`
}

// EscalationConfig controls the one-shot escalation of tickets that sit in
// the open queue past AfterSeconds. The filter uses the same matcher
// semantics as routing rules; an empty filter escalates everything.
type EscalationConfig struct {
	Enabled      bool                 `json:"enabled" yaml:"enabled"`
	AfterSeconds int                  `json:"after_s" yaml:"after_s"`
	Dest         *routing.Destination `json:"dest,omitempty" yaml:"dest,omitempty"`
	Mention      string               `json:"mention,omitempty" yaml:"mention,omitempty"`
	Filter       routing.Matcher      `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Payload is one complete configuration snapshot.
type Payload struct {
	Routing    RoutingConfig    `json:"routing" yaml:"routing"`
	Eventlog   RoutingConfig    `json:"eventlog" yaml:"eventlog"`
	Escalation EscalationConfig `json:"escalation" yaml:"escalation"`
}

// Version is one immutable, numbered configuration snapshot.
type Version struct {
	Version   int       `json:"version"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	Author    string    `json:"author,omitempty"`
	Comment   string    `json:"comment,omitempty"`
}

// ValidationError reports a rejected payload. Put never applies a payload
// that fails validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validateRules(prefix string, rc RoutingConfig) error {
	for i, rule := range rc.Rules {
		ctx := fmt.Sprintf("%s.rules[%d]", prefix, i)
		if rule.Dest.IsZero() {
			return &ValidationError{Field: ctx + ".dest", Message: "destination is required"}
		}
		// A rule without criteria would match everything and defeat the
		// default destination.
		if rule.Matcher.IsEmpty() {
			return &ValidationError{Field: ctx, Message: "at least one keyword or field matcher is required"}
		}
	}
	return nil
}

// Validate checks payload shape before it is written.
func (p *Payload) Validate() error {
	if err := validateRules("routing", p.Routing); err != nil {
		return err
	}
	if err := validateRules("eventlog", p.Eventlog); err != nil {
		return err
	}
	if p.Escalation.Enabled {
		if p.Escalation.AfterSeconds <= 0 {
			return &ValidationError{Field: "escalation.after_s", Message: "must be a positive number of seconds"}
		}
		if p.Escalation.Dest == nil || p.Escalation.Dest.IsZero() {
			return &ValidationError{Field: "escalation.dest", Message: "destination is required when escalation is enabled"}
		}
	}
	return nil
}

// DefaultPayload is the built-in fallback served as version 0 when nothing
// has ever been written: no rules, escalation off.
func DefaultPayload() Payload {
	return Payload{
		Routing:    RoutingConfig{Rules: []routing.Rule{}},
		Eventlog:   RoutingConfig{Rules: []routing.Rule{}},
		Escalation: EscalationConfig{Enabled: false},
	}
}

// LoadFallbackPayload reads a fallback payload from a YAML file, letting
// deployments ship an initial rule set without touching the database. An
// empty path returns DefaultPayload.
func LoadFallbackPayload(path string) (Payload, error) {
	if path == "" {
		return DefaultPayload(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("fallback config: %w", err)
	}
	p := DefaultPayload()
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("fallback config %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Payload{}, fmt.Errorf("fallback config %s: %w", path, err)
	}
	return p, nil
}

// Package routing decides which chat destination an item should be
// delivered to, based on an ordered rule list. Matching is a pure function
// over the item's attributes; rule order is the tie-break.
package routing

import "strings"

// Destination is an opaque delivery target: a channel and an optional
// thread inside it.
type Destination struct {
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// IsZero reports whether the destination is unset.
func (d Destination) IsZero() bool {
	return d.ChannelID == ""
}

// Key returns a stable map key for per-destination bookkeeping.
func (d Destination) Key() string {
	if d.ThreadID == "" {
		return d.ChannelID
	}
	return d.ChannelID + "/" + d.ThreadID
}

// Matcher is the criteria half of a rule: keywords matched as
// case-insensitive substrings against the item's text fields, and
// field matchers checked against exact attribute values.
// Criteria are OR'd: any single hit makes the matcher match.
type Matcher struct {
	Keywords      []string            `json:"keywords,omitempty"`
	FieldMatchers map[string][]string `json:"field_matchers,omitempty"`
}

// IsEmpty reports whether the matcher has no criteria at all.
func (m Matcher) IsEmpty() bool {
	if len(m.Keywords) > 0 {
		return false
	}
	for _, ids := range m.FieldMatchers {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// Match reports whether the given attributes satisfy the matcher, together
// with a human-readable reason for debug output. An empty matcher matches
// nothing here; escalation filters treat empty as match-all separately.
func (m Matcher) Match(attrs map[string]string) (bool, string) {
	for _, kw := range m.Keywords {
		needle := strings.ToLower(strings.TrimSpace(kw))
		if needle == "" {
			continue
		}
		for _, v := range attrs {
			if strings.Contains(strings.ToLower(v), needle) {
				return true, "keyword '" + kw + "' matched"
			}
		}
	}
	for field, ids := range m.FieldMatchers {
		value, ok := attrs[field]
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		for _, id := range ids {
			if value != "" && value == strings.TrimSpace(id) {
				return true, field + "=" + id + " matched"
			}
		}
	}
	return false, ""
}

// Rule is one routing rule: criteria plus the destination used when the
// criteria match.
type Rule struct {
	Matcher
	Dest Destination `json:"dest"`
}

package routing

// Route picks the destination for an item. Rules are evaluated in list
// order and the first match wins. When no rule matches, the default
// destination is returned; ok is false when there is no default either,
// and the caller must log-and-drop instead of failing its cycle.
func Route(attrs map[string]string, rules []Rule, defaultDest *Destination) (Destination, bool) {
	for _, r := range rules {
		if matched, _ := r.Match(attrs); matched {
			return r.Dest, true
		}
	}
	if defaultDest != nil && !defaultDest.IsZero() {
		return *defaultDest, true
	}
	return Destination{}, false
}

// Explanation describes how one rule fared against an item, for the
// routes debug endpoint.
type Explanation struct {
	Index   int         `json:"index"`
	Dest    Destination `json:"dest"`
	Matched bool        `json:"matched"`
	Reason  string      `json:"reason,omitempty"`
}

// Explain evaluates every rule against the attributes and reports
// per-rule match results. Unlike Route it does not stop at the first hit.
func Explain(attrs map[string]string, rules []Rule) []Explanation {
	out := make([]Explanation, 0, len(rules))
	for i, r := range rules {
		matched, reason := r.Match(attrs)
		out = append(out, Explanation{
			Index:   i + 1,
			Dest:    r.Dest,
			Matched: matched,
			Reason:  reason,
		})
	}
	return out
}

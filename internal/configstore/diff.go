package configstore

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Change is one structural difference between two payloads. Path uses dot
// notation with bracketed list indexes, e.g. "routing.rules[0].dest.channel_id".
type Change struct {
	Path string      `json:"path"`
	Op   string      `json:"op"` // "added", "removed" or "changed"
	From interface{} `json:"from,omitempty"`
	To   interface{} `json:"to,omitempty"`
}

// Diff computes the structural differences between two payloads. Comparing
// a payload against itself yields no changes.
func Diff(from, to Payload) ([]Change, error) {
	a, err := toTree(from)
	if err != nil {
		return nil, err
	}
	b, err := toTree(to)
	if err != nil {
		return nil, err
	}
	changes := make([]Change, 0)
	diffValue("", a, b, &changes)
	return changes, nil
}

// toTree normalizes a payload through its JSON form so the walk only deals
// with maps, slices and scalars.
func toTree(p Payload) (interface{}, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload for diff: %w", err)
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode payload for diff: %w", err)
	}
	return tree, nil
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func diffValue(path string, a, b interface{}, out *[]Change) {
	am, aIsMap := a.(map[string]interface{})
	bm, bIsMap := b.(map[string]interface{})
	if aIsMap && bIsMap {
		diffMap(path, am, bm, out)
		return
	}

	as, aIsSlice := a.([]interface{})
	bs, bIsSlice := b.([]interface{})
	if aIsSlice && bIsSlice {
		diffSlice(path, as, bs, out)
		return
	}

	if !equalScalar(a, b) {
		*out = append(*out, Change{Path: path, Op: "changed", From: a, To: b})
	}
}

func diffMap(path string, a, b map[string]interface{}, out *[]Change) {
	keys := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range b {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		av, inA := a[k]
		bv, inB := b[k]
		p := joinPath(path, k)
		switch {
		case inA && !inB:
			*out = append(*out, Change{Path: p, Op: "removed", From: av})
		case !inA && inB:
			*out = append(*out, Change{Path: p, Op: "added", To: bv})
		default:
			diffValue(p, av, bv, out)
		}
	}
}

func diffSlice(path string, a, b []interface{}, out *[]Change) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		p := fmt.Sprintf("%s[%d]", path, i)
		switch {
		case i >= len(b):
			*out = append(*out, Change{Path: p, Op: "removed", From: a[i]})
		case i >= len(a):
			*out = append(*out, Change{Path: p, Op: "added", To: b[i]})
		default:
			diffValue(p, a[i], b[i], out)
		}
	}
}

// equalScalar compares two JSON leaves by their encoded form, which also
// handles null against null and mixed nil cases.
func equalScalar(a, b interface{}) bool {
	ar, err := json.Marshal(a)
	if err != nil {
		return false
	}
	br, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ar) == string(br)
}

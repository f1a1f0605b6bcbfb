// Package ticketing is the client for the ticketing backend: the open
// ticket queue and the append-only eventlog feed.
package ticketing

// Ticket is one open work item. Attributes carry every field the backend
// reports (service and customer identifiers included) as text, which is
// what routing rules match against.
type Ticket struct {
	ID         string            `json:"id"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns one attribute or "".
func (t Ticket) Attr(name string) string {
	return t.Attributes[name]
}

// LogEntry is one immutable eventlog record. EventID is strictly
// increasing within the feed.
type LogEntry struct {
	EventID int64             `json:"event_id"`
	Fields  map[string]string `json:"fields"`
}

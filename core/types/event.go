package types

// Event is the rendered form of a lending event as carried by the event
// stream and the journal.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the attribute stored under key, or "" when absent.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Asset returns the asset the event refers to.
func (e *Event) Asset() string { return e.Attr("asset") }

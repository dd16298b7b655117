package types

// Event represents a typed event emitted during state transitions. The
// attribute map carries string-encoded values so downstream indexers do not
// need to understand internal numeric representations.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

package types

// Event represents a typed event emitted during state transitions. TxRef,
// Sequence and Timestamp are stamped by the ledger once the transaction that
// produced the event has committed.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	TxRef      string            `json:"txRef,omitempty"`
	Sequence   uint64            `json:"sequence,omitempty"`
	Timestamp  uint64            `json:"timestamp,omitempty"`
}

// Attr returns the named attribute or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Attributes = make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		clone.Attributes[k] = v
	}
	return &clone
}

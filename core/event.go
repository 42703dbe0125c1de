package core

// Version is the per-aggregate event version. The first event of an aggregate
// has version 1 and every following event increments it by one.
type Version uint64

// StoredEvent is the record level representation of a domain event. The State
// property holds the event payload after it has passed the full encoding
// pipeline and is opaque to the recorder.
type StoredEvent struct {
	AggregateID string
	Version     Version
	Topic       string
	State       []byte
}

// Notification is a stored event extended with its position in the global
// order. IDs start at 1 and are dense, a notification with ID k implies that
// all IDs below k are readable.
type Notification struct {
	ID uint64
	StoredEvent
}

// Snapshot holds the full state of an aggregate at a specific version. It is
// kept in a stream separate from the events.
type Snapshot struct {
	AggregateID string
	Version     Version
	Topic       string
	State       []byte
}

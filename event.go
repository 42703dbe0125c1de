package eventsourcing

import (
	"time"

	"github.com/gregbrowndev/eventsourcing/core"
)

// Version is the event version used in event.Version and aggregate roots
type Version core.Version

// Event holds the meta data and the application specific payload of one state
// transition of exactly one aggregate. Events are immutable once constructed.
type Event struct {
	aggregateID   string
	version       core.Version
	globalVersion uint64
	aggregateType string
	reason        string
	timestamp     time.Time
	data          interface{}
	metadata      map[string]interface{}
}

// Data returns the application specific payload
func (e Event) Data() interface{} {
	return e.data
}

// Metadata returns the application state not related to the payload itself
func (e Event) Metadata() map[string]interface{} {
	return e.metadata
}

// AggregateID returns the id of the aggregate the event belongs to
func (e Event) AggregateID() string {
	return e.aggregateID
}

// AggregateType returns the type name of the aggregate the event belongs to
func (e Event) AggregateType() string {
	return e.aggregateType
}

// Reason returns the name of the event kind, based on the Data type
func (e Event) Reason() string {
	return e.reason
}

// Topic returns the stable identifier resolving the event kind at load time,
// on the form "<AggregateType>:<Reason>"
func (e Event) Topic() string {
	return e.aggregateType + ":" + e.reason
}

// Version returns the per-aggregate version of the event
func (e Event) Version() Version {
	return Version(e.version)
}

// GlobalVersion returns the notification id of an event read from the
// notification log. It is zero for events not yet saved and for events read
// per aggregate, which carry no notification id.
func (e Event) GlobalVersion() uint64 {
	return e.globalVersion
}

// Timestamp returns the wall-clock time the event was tracked
func (e Event) Timestamp() time.Time {
	return e.timestamp
}

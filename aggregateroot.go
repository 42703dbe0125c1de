package eventsourcing

import (
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/gregbrowndev/eventsourcing/core"
)

// AggregateRoot to be included into aggregates
type AggregateRoot struct {
	aggregateID            string
	aggregateVersion       core.Version
	aggregateGlobalVersion uint64
	createdOn              time.Time
	modifiedOn             time.Time
	aggregateEvents        []Event
}

const emptyAggregateID = ""

// ErrAggregateAlreadyExists returned if the aggregateID is set more than one time
var ErrAggregateAlreadyExists = errors.New("its not possible to set ID on already existing aggregate")

// ErrInvalidAggregateID returned if a manually set aggregate ID is not a UUID
var ErrInvalidAggregateID = errors.New("aggregate id is not a valid UUID")

// aggregate interface to use the aggregate root specific methods
type aggregate interface {
	Root() *AggregateRoot
	Transition(event Event)
	Register(RegisterFunc)
}

// TrackChange is used internally by behaviour methods to apply a state change to
// the current instance and also track it in order that it can be persisted later.
func (ar *AggregateRoot) TrackChange(a aggregate, data interface{}) {
	ar.TrackChangeWithMetadata(a, data, nil)
}

// TrackChangeWithMetadata is used internally by behaviour methods to apply a state change to
// the current instance and also track it in order that it can be persisted later.
// meta data is handled by this func to store none related application state
func (ar *AggregateRoot) TrackChangeWithMetadata(a aggregate, data interface{}, metadata map[string]interface{}) {
	// This can be overwritten in the constructor of the aggregate
	if ar.aggregateID == emptyAggregateID {
		ar.aggregateID = idFunc()
	}

	event := Event{
		aggregateID:   ar.aggregateID,
		version:       ar.nextVersion(),
		aggregateType: aggregateType(a),
		reason:        reason(data),
		timestamp:     time.Now().UTC(),
		data:          data,
		metadata:      metadata,
	}
	ar.aggregateEvents = append(ar.aggregateEvents, event)
	if event.version == 1 {
		ar.createdOn = event.timestamp
	}
	ar.modifiedOn = event.timestamp
	a.Transition(event)
}

// BuildFromHistory builds the aggregate state from events
func (ar *AggregateRoot) BuildFromHistory(a aggregate, events []Event) {
	for _, event := range events {
		a.Transition(event)
		// Set the aggregate ID
		ar.aggregateID = event.aggregateID
		// Make sure the aggregate is in the correct version (the last event)
		ar.aggregateVersion = event.version
		if event.globalVersion > ar.aggregateGlobalVersion {
			ar.aggregateGlobalVersion = event.globalVersion
		}
		if event.version == 1 {
			ar.createdOn = event.timestamp
		}
		ar.modifiedOn = event.timestamp
	}
}

func (ar *AggregateRoot) nextVersion() core.Version {
	if len(ar.aggregateEvents) > 0 {
		return ar.aggregateEvents[len(ar.aggregateEvents)-1].version + 1
	}
	return ar.aggregateVersion + 1
}

// collect moves ownership of the pending events to the caller and resets the
// buffer. The events are already applied to the aggregate state.
func (ar *AggregateRoot) collect() []Event {
	events := ar.aggregateEvents
	ar.aggregateEvents = nil
	return events
}

// commit records the stored and global version of the last persisted event.
// Called after the events are durable in the recorder.
func (ar *AggregateRoot) commit(version core.Version, globalVersion uint64) {
	ar.aggregateVersion = version
	ar.aggregateGlobalVersion = globalVersion
}

// setInternals restores the root bookkeeping from a snapshot
func (ar *AggregateRoot) setInternals(id string, version core.Version, globalVersion uint64, createdOn, modifiedOn time.Time) {
	ar.aggregateID = id
	ar.aggregateVersion = version
	ar.aggregateGlobalVersion = globalVersion
	ar.createdOn = createdOn
	ar.modifiedOn = modifiedOn
	ar.aggregateEvents = nil
}

// SetID opens up the possibility to set manual aggregate ID from the outside,
// the id must be a valid UUID
func (ar *AggregateRoot) SetID(id string) error {
	if ar.aggregateID != emptyAggregateID {
		return ErrAggregateAlreadyExists
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidAggregateID
	}
	ar.aggregateID = id
	return nil
}

// ID returns the aggregate ID as a string
func (ar *AggregateRoot) ID() string {
	return ar.aggregateID
}

// Root returns the included Aggregate Root state, and is used from the interface Aggregate.
func (ar *AggregateRoot) Root() *AggregateRoot {
	return ar
}

// Version return the version based on events that are not stored
func (ar *AggregateRoot) Version() Version {
	if len(ar.aggregateEvents) > 0 {
		return Version(ar.aggregateEvents[len(ar.aggregateEvents)-1].version)
	}
	return Version(ar.aggregateVersion)
}

// GlobalVersion returns the notification id of the last event this instance
// saved, or the one recorded in the snapshot it was loaded from. Events read
// per aggregate carry no notification id, so an aggregate rebuilt from them
// alone reports zero.
func (ar *AggregateRoot) GlobalVersion() uint64 {
	return ar.aggregateGlobalVersion
}

// CreatedOn returns the timestamp of the first event
func (ar *AggregateRoot) CreatedOn() time.Time {
	return ar.createdOn
}

// ModifiedOn returns the timestamp of the last applied event
func (ar *AggregateRoot) ModifiedOn() time.Time {
	return ar.modifiedOn
}

// Events return the aggregate events from the aggregate
// make a copy of the slice preventing outsiders modifying events.
func (ar *AggregateRoot) Events() []Event {
	e := make([]Event, len(ar.aggregateEvents))
	copy(e, ar.aggregateEvents)
	return e
}

// UnsavedEvents return true if there's unsaved events on the aggregate
func (ar *AggregateRoot) UnsavedEvents() bool {
	return len(ar.aggregateEvents) > 0
}

func aggregateType(a aggregate) string {
	return reflect.TypeOf(a).Elem().Name()
}

func reason(data interface{}) string {
	return reflect.TypeOf(data).Elem().Name()
}

package eventsourcing

import "errors"

var (
	// ErrAggregateNotFound returned if no events and no snapshot exist for the aggregate
	ErrAggregateNotFound = errors.New("aggregate not found")

	// ErrAggregateVersionNotFound returned if the requested version exceeds the stored history
	ErrAggregateVersionNotFound = errors.New("aggregate version not found")

	// ErrAggregateNotRegistered when saving an aggregate that is not registered in the application
	ErrAggregateNotRegistered = errors.New("aggregate not registered")

	// ErrEventNotRegistered when saving or loading an event whose topic is not registered
	ErrEventNotRegistered = errors.New("event not registered")

	// ErrUpcasterOutOfOrder when upcaster chains are not registered consecutively from version 1
	ErrUpcasterOutOfOrder = errors.New("upcaster registered out of order")

	// ErrConcurrency when the currently saved version of the aggregate differs from the new events
	ErrConcurrency = errors.New("concurrency error")

	// ErrNoSnapshotStore when taking a snapshot without a configured snapshot recorder
	ErrNoSnapshotStore = errors.New("no snapshot store configured")
)

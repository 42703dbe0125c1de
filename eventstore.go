package eventsourcing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregbrowndev/eventsourcing/core"
)

// EventStore composes a Mapper and a Recorder and exposes put and get of
// domain events. Put is atomic across the batch, Get returns events in
// version order.
type EventStore struct {
	mapper   *Mapper
	recorder core.Recorder
}

// NewEventStore returns an EventStore
func NewEventStore(mapper *Mapper, recorder core.Recorder) *EventStore {
	return &EventStore{
		mapper:   mapper,
		recorder: recorder,
	}
}

// Put maps the events to stored records and appends them as one atomic batch.
// It returns the notification ids the batch received, one per event in order.
func (es *EventStore) Put(ctx context.Context, events []Event) ([]uint64, error) {
	stored := make([]core.StoredEvent, len(events))
	for i, event := range events {
		se, err := es.mapper.FromDomain(event)
		if err != nil {
			return nil, err
		}
		stored[i] = se
	}

	ids, err := es.recorder.InsertEvents(ctx, stored)
	if err != nil {
		if errors.Is(err, core.ErrConcurrency) {
			return nil, fmt.Errorf("%w: %v", ErrConcurrency, err)
		}
		return nil, err
	}
	return ids, nil
}

// Get returns the aggregate's events in version order
func (es *EventStore) Get(ctx context.Context, aggregateID string, opts ...core.SelectOption) ([]Event, error) {
	stored, err := es.recorder.SelectEvents(ctx, aggregateID, opts...)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(stored))
	for _, se := range stored {
		event, err := es.mapper.ToDomain(se)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

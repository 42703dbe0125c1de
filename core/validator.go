package core

import (
	"errors"
	"fmt"
)

// ErrEmptyBatch when an insert holds no events
var ErrEmptyBatch = errors.New("no events in batch")

// ErrVersionMissing when an event holds version zero
var ErrVersionMissing = errors.New("event holds no version")

// ErrTopicMissing when the topic is not present in an event
var ErrTopicMissing = errors.New("event holds no topic")

// ErrEventsNotConsecutive when versions of one aggregate do not form an
// unbroken chain inside the batch
var ErrEventsNotConsecutive = errors.New("events in batch are not consecutive")

// ValidateEvents makes sure an incoming batch is sound before it is inserted.
// heads maps aggregate ID to the version currently stored for it, zero when
// the aggregate has no events yet. A batch whose chain does not start directly
// after the stored head collides with a concurrent writer and fails with
// ErrConcurrency; a chain broken inside the batch itself is a caller bug and
// fails with ErrProgramming.
func ValidateEvents(events []StoredEvent, heads map[string]Version) error {
	if len(events) == 0 {
		return Classify(ErrProgramming, ErrEmptyBatch)
	}

	seen := make(map[string]Version)
	for _, event := range events {
		if event.Version == 0 {
			return Classify(ErrProgramming, ErrVersionMissing)
		}
		if event.Topic == "" {
			return Classify(ErrProgramming, ErrTopicMissing)
		}

		if last, ok := seen[event.AggregateID]; ok {
			if event.Version != last+1 {
				return Classify(ErrProgramming, ErrEventsNotConsecutive)
			}
		} else if event.Version != heads[event.AggregateID]+1 {
			return Classify(ErrConcurrency, fmt.Errorf("aggregate %s is at version %d, batch starts at %d",
				event.AggregateID, heads[event.AggregateID], event.Version))
		}
		seen[event.AggregateID] = event.Version
	}
	return nil
}

// Package memory provides an in-memory recorder, mainly for tests and
// examples. A single mutex serializes commits, which makes notification id
// assignment trivially dense: ids are positions in the global slice.
package memory

import (
	"context"
	"sync"

	"github.com/gregbrowndev/eventsourcing/core"
)

// Memory is an in-memory recorder
type Memory struct {
	mu sync.Mutex
	// per aggregate event slices, index == version-1
	aggregateEvents map[string][]core.StoredEvent
	// the global event order, index == notification id - 1
	eventsInOrder []core.Notification
	// per aggregate snapshots in insertion order
	snapshots map[string][]core.Snapshot
}

// Create in memory recorder
func Create() *Memory {
	return &Memory{
		aggregateEvents: make(map[string][]core.StoredEvent),
		snapshots:       make(map[string][]core.Snapshot),
	}
}

// InsertEvents appends the batch atomically and assigns dense notification ids
func (m *Memory) InsertEvents(_ context.Context, events []core.StoredEvent) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	heads := make(map[string]core.Version)
	for _, event := range events {
		heads[event.AggregateID] = core.Version(len(m.aggregateEvents[event.AggregateID]))
	}
	if err := core.ValidateEvents(events, heads); err != nil {
		return nil, err
	}

	ids := make([]uint64, len(events))
	for i, event := range events {
		m.aggregateEvents[event.AggregateID] = append(m.aggregateEvents[event.AggregateID], event)
		id := uint64(len(m.eventsInOrder)) + 1
		m.eventsInOrder = append(m.eventsInOrder, core.Notification{ID: id, StoredEvent: event})
		ids[i] = id
	}
	return ids, nil
}

// SelectEvents returns the aggregate's events ordered by version
func (m *Memory) SelectEvents(_ context.Context, aggregateID string, opts ...core.SelectOption) ([]core.StoredEvent, error) {
	o := core.NewSelectOptions(opts...)

	m.mu.Lock()
	defer m.mu.Unlock()

	var events []core.StoredEvent
	for _, event := range m.aggregateEvents[aggregateID] {
		if event.Version <= o.Gt {
			continue
		}
		if o.Lte > 0 && event.Version > o.Lte {
			break
		}
		events = append(events, event)
	}
	if o.Desc {
		for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
			events[i], events[j] = events[j], events[i]
		}
	}
	if o.Limit > 0 && len(events) > o.Limit {
		events = events[:o.Limit]
	}
	return events, nil
}

// SelectNotifications returns up to limit notifications with id >= start
func (m *Memory) SelectNotifications(_ context.Context, start uint64, limit int) ([]core.Notification, error) {
	if start < 1 {
		start = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if start > uint64(len(m.eventsInOrder)) {
		return nil, nil
	}
	end := start - 1 + uint64(limit)
	if end > uint64(len(m.eventsInOrder)) {
		end = uint64(len(m.eventsInOrder))
	}
	notifications := make([]core.Notification, end-start+1)
	copy(notifications, m.eventsInOrder[start-1:end])
	return notifications, nil
}

// MaxNotificationID returns the id of the last committed notification
func (m *Memory) MaxNotificationID(_ context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.eventsInOrder)), nil
}

// InsertSnapshot stores a snapshot in the separate snapshot stream
func (m *Memory) InsertSnapshot(_ context.Context, snapshot core.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.AggregateID] = append(m.snapshots[snapshot.AggregateID], snapshot)
	return nil
}

// SelectSnapshot returns the latest snapshot with version <= lte, or the
// latest overall when lte is zero
func (m *Memory) SelectSnapshot(_ context.Context, aggregateID string, lte core.Version) (core.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best core.Snapshot
	found := false
	for _, snap := range m.snapshots[aggregateID] {
		if lte > 0 && snap.Version > lte {
			continue
		}
		if !found || snap.Version >= best.Version {
			best = snap
			found = true
		}
	}
	if !found {
		return core.Snapshot{}, core.ErrSnapshotNotFound
	}
	return best, nil
}

// Close does nothing
func (m *Memory) Close() {}

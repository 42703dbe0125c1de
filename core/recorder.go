package core

import "context"

// SelectOptions narrows a SelectEvents call. The zero value selects the
// complete history in ascending version order.
type SelectOptions struct {
	// Gt selects events with a version greater than the given one.
	Gt Version
	// Lte selects events with a version less than or equal to the given one.
	// Zero means no upper bound.
	Lte Version
	// Desc reverses the order to descending versions.
	Desc bool
	// Limit caps the number of returned events. Zero means no cap.
	Limit int
}

// SelectOption modifies a SelectOptions
type SelectOption func(*SelectOptions)

// WithGt selects events after the given version
func WithGt(v Version) SelectOption {
	return func(o *SelectOptions) { o.Gt = v }
}

// WithLte selects events up to and including the given version
func WithLte(v Version) SelectOption {
	return func(o *SelectOptions) { o.Lte = v }
}

// WithDesc returns events in descending version order
func WithDesc() SelectOption {
	return func(o *SelectOptions) { o.Desc = true }
}

// WithLimit caps the number of returned events
func WithLimit(n int) SelectOption {
	return func(o *SelectOptions) { o.Limit = n }
}

// NewSelectOptions folds the options into a SelectOptions value
func NewSelectOptions(opts ...SelectOption) SelectOptions {
	var o SelectOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Recorder is the durability and ordering nucleus. It appends stored events
// atomically, assigns dense notification IDs in commit order and reads them
// back per aggregate or globally.
//
// InsertEvents either makes the whole batch visible, returning one
// notification ID per event in batch order, or leaves the store untouched.
// A batch may span several aggregates; each aggregate's events must continue
// its stored version chain or the insert fails with ErrConcurrency.
type Recorder interface {
	InsertEvents(ctx context.Context, events []StoredEvent) ([]uint64, error)
	SelectEvents(ctx context.Context, aggregateID string, opts ...SelectOption) ([]StoredEvent, error)
	SelectNotifications(ctx context.Context, start uint64, limit int) ([]Notification, error)
	MaxNotificationID(ctx context.Context) (uint64, error)
}

// SnapshotRecorder stores aggregate snapshots in a stream separate from the
// events. SelectSnapshot returns the latest snapshot with a version less than
// or equal to lte, or the latest overall when lte is zero.
type SnapshotRecorder interface {
	InsertSnapshot(ctx context.Context, snapshot Snapshot) error
	SelectSnapshot(ctx context.Context, aggregateID string, lte Version) (Snapshot, error)
}

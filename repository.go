package eventsourcing

import (
	"context"
	"errors"
	"fmt"

	"github.com/gregbrowndev/eventsourcing/core"
)

// Repository reconstitutes aggregates from their events, optionally seeded
// from the latest snapshot. The fold is pure: replaying the same events always
// produces the same aggregate.
type Repository struct {
	eventStore *EventStore
	snapshots  *SnapshotStore
}

// NewRepository returns a Repository, snapshots may be nil
func NewRepository(eventStore *EventStore, snapshots *SnapshotStore) *Repository {
	return &Repository{
		eventStore: eventStore,
		snapshots:  snapshots,
	}
}

// Get fetches the aggregate's events (and snapshot if a snapshot store is
// configured) and builds up the aggregate to its latest version
func (r *Repository) Get(ctx context.Context, id string, a aggregate) error {
	return r.get(ctx, id, a, 0)
}

// GetVersion builds up the aggregate as it was at the given version. The
// version must be positive and must not exceed the stored history.
func (r *Repository) GetVersion(ctx context.Context, id string, a aggregate, version Version) error {
	if version == 0 {
		return core.Classify(core.ErrProgramming, fmt.Errorf("version must be positive"))
	}
	return r.get(ctx, id, a, core.Version(version))
}

func (r *Repository) get(ctx context.Context, id string, a aggregate, version core.Version) error {
	root := a.Root()
	fromSnapshot := false

	if r.snapshots != nil {
		err := r.snapshots.Get(ctx, id, a, version)
		switch {
		case err == nil:
			fromSnapshot = true
		case errors.Is(err, core.ErrSnapshotNotFound):
			// fall back to a full replay
		default:
			return err
		}
	}

	opts := []core.SelectOption{core.WithGt(core.Version(root.Version()))}
	if version > 0 {
		opts = append(opts, core.WithLte(version))
	}
	events, err := r.eventStore.Get(ctx, id, opts...)
	if err != nil {
		return err
	}
	if len(events) == 0 && !fromSnapshot {
		return ErrAggregateNotFound
	}

	root.BuildFromHistory(a, events)
	if version > 0 && core.Version(root.Version()) != version {
		return fmt.Errorf("%w: version %d of aggregate %s", ErrAggregateVersionNotFound, version, id)
	}
	return nil
}

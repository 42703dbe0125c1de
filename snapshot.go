package eventsourcing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gregbrowndev/eventsourcing/core"
	"github.com/gregbrowndev/eventsourcing/transcoder"
)

// ErrEmptyID indicates that the aggregate ID was empty
var ErrEmptyID = errors.New("aggregate id is empty")

// ErrUnsavedEvents aggregate events must be saved before creating snapshot
var ErrUnsavedEvents = errors.New("aggregate holds unsaved events")

// snapshotEnvelope is the stored snapshot state. State carries the aggregate's
// own fields, the rest restores the root bookkeeping on load.
type snapshotEnvelope struct {
	GlobalVersion uint64          `json:"global_version"`
	CreatedOn     time.Time       `json:"created_on"`
	ModifiedOn    time.Time       `json:"modified_on"`
	State         json.RawMessage `json:"state"`
}

// SnapshotStore captures and restores aggregate state at a version to shorten
// replay. The snapshotting cadence is the caller's concern, the store only
// supplies the mechanism.
type SnapshotStore struct {
	recorder   core.SnapshotRecorder
	transcoder transcoder.Transcoder
}

// NewSnapshotStore returns a SnapshotStore
func NewSnapshotStore(recorder core.SnapshotRecorder, t transcoder.Transcoder) *SnapshotStore {
	return &SnapshotStore{
		recorder:   recorder,
		transcoder: t,
	}
}

// Save captures the aggregate's current state into the snapshot stream. The
// aggregate must have no unsaved events, a snapshot describes stored history
// only.
func (s *SnapshotStore) Save(ctx context.Context, a aggregate) error {
	root := a.Root()
	if root.ID() == "" {
		return ErrEmptyID
	}
	if root.UnsavedEvents() {
		return ErrUnsavedEvents
	}

	state, err := s.transcoder.Encode(a)
	if err != nil {
		return err
	}
	envelope, err := s.transcoder.Encode(snapshotEnvelope{
		GlobalVersion: root.GlobalVersion(),
		CreatedOn:     root.CreatedOn(),
		ModifiedOn:    root.ModifiedOn(),
		State:         state,
	})
	if err != nil {
		return err
	}

	return s.recorder.InsertSnapshot(ctx, core.Snapshot{
		AggregateID: root.ID(),
		Version:     core.Version(root.Version()),
		Topic:       aggregateType(a),
		State:       envelope,
	})
}

// Get restores the aggregate from the latest snapshot with a version at or
// below lte, zero meaning the latest overall. Returns core.ErrSnapshotNotFound
// when no matching snapshot exists.
func (s *SnapshotStore) Get(ctx context.Context, id string, a aggregate, lte core.Version) error {
	snap, err := s.recorder.SelectSnapshot(ctx, id, lte)
	if err != nil {
		return err
	}

	var envelope snapshotEnvelope
	if err := s.transcoder.Decode(snap.State, &envelope); err != nil {
		return err
	}
	if err := s.transcoder.Decode(envelope.State, a); err != nil {
		return err
	}
	a.Root().setInternals(snap.AggregateID, snap.Version, envelope.GlobalVersion, envelope.CreatedOn, envelope.ModifiedOn)
	return nil
}

// Package testsuite holds the acceptance tests every recorder must pass. The
// backend test packages run it against their own store.
package testsuite

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/gregbrowndev/eventsourcing/core"
)

// Recorder combines the event and snapshot contracts, which every backend
// implements on one type
type Recorder interface {
	core.Recorder
	core.SnapshotRecorder
}

type recorderFunc = func() (Recorder, func(), error)

// Test runs the acceptance suite against the recorder the function returns
func Test(t *testing.T, rFunc recorderFunc) {
	tests := []struct {
		title string
		run   func(t *testing.T, r Recorder)
	}{
		{"should insert and select events", insertAndSelectEvents},
		{"should select events after version", selectEventsAfterVersion},
		{"should select events up to version", selectEventsUpToVersion},
		{"should select events descending with limit", selectEventsDescWithLimit},
		{"should reject empty batch", rejectEmptyBatch},
		{"should reject version zero", rejectVersionZero},
		{"should reject missing topic", rejectMissingTopic},
		{"should reject broken chain in batch", rejectBrokenChain},
		{"should detect version collision", detectVersionCollision},
		{"should assign dense notification ids", assignDenseNotificationIDs},
		{"should page notifications", pageNotifications},
		{"should report max notification id", reportMaxNotificationID},
		{"should insert events from multiple aggregates atomically", insertMultipleAggregates},
		{"should serialize concurrent inserts", serializeConcurrentInserts},
		{"should insert and select snapshots", insertAndSelectSnapshots},
		{"should prefer the latest snapshot at or below a version", selectSnapshotAtVersion},
	}
	for _, test := range tests {
		t.Run(test.title, func(t *testing.T) {
			r, closeFunc, err := rFunc()
			if err != nil {
				t.Fatal(err)
			}
			test.run(t, r)
			closeFunc()
		})
	}
}

func state(what string) []byte {
	b, _ := json.Marshal(map[string]string{"what": what})
	return b
}

func testEvents(aggregateID string, n int) []core.StoredEvent {
	events := make([]core.StoredEvent, 0, n)
	for v := 1; v <= n; v++ {
		events = append(events, core.StoredEvent{
			AggregateID: aggregateID,
			Version:     core.Version(v),
			Topic:       "World:SomethingHappened",
			State:       state("thing"),
		})
	}
	return events
}

func insertAndSelectEvents(t *testing.T, r Recorder) {
	ctx := context.Background()
	id := uuid.NewString()

	ids, err := r.InsertEvents(ctx, testEvents(id, 4))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 4 {
		t.Fatalf("expected 4 notification ids got %d", len(ids))
	}

	events, err := r.SelectEvents(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events got %d", len(events))
	}
	for i, event := range events {
		if event.Version != core.Version(i+1) {
			t.Fatalf("expected version %d got %d", i+1, event.Version)
		}
		if event.AggregateID != id {
			t.Fatalf("wrong aggregate id %s", event.AggregateID)
		}
		if event.Topic != "World:SomethingHappened" {
			t.Fatalf("wrong topic %s", event.Topic)
		}
	}
}

func selectEventsAfterVersion(t *testing.T, r Recorder) {
	ctx := context.Background()
	id := uuid.NewString()

	if _, err := r.InsertEvents(ctx, testEvents(id, 5)); err != nil {
		t.Fatal(err)
	}
	events, err := r.SelectEvents(ctx, id, core.WithGt(3))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events got %d", len(events))
	}
	if events[0].Version != 4 {
		t.Fatalf("expected first version 4 got %d", events[0].Version)
	}
}

func selectEventsUpToVersion(t *testing.T, r Recorder) {
	ctx := context.Background()
	id := uuid.NewString()

	if _, err := r.InsertEvents(ctx, testEvents(id, 5)); err != nil {
		t.Fatal(err)
	}
	events, err := r.SelectEvents(ctx, id, core.WithLte(2))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events got %d", len(events))
	}
	if events[len(events)-1].Version != 2 {
		t.Fatalf("expected last version 2 got %d", events[len(events)-1].Version)
	}
}

func selectEventsDescWithLimit(t *testing.T, r Recorder) {
	ctx := context.Background()
	id := uuid.NewString()

	if _, err := r.InsertEvents(ctx, testEvents(id, 5)); err != nil {
		t.Fatal(err)
	}
	events, err := r.SelectEvents(ctx, id, core.WithDesc(), core.WithLimit(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event got %d", len(events))
	}
	if events[0].Version != 5 {
		t.Fatalf("expected the latest version got %d", events[0].Version)
	}
}

func rejectEmptyBatch(t *testing.T, r Recorder) {
	_, err := r.InsertEvents(context.Background(), nil)
	if !errors.Is(err, core.ErrProgramming) {
		t.Fatalf("expected programming error got %v", err)
	}
}

func rejectVersionZero(t *testing.T, r Recorder) {
	events := []core.StoredEvent{{AggregateID: uuid.NewString(), Version: 0, Topic: "World:SomethingHappened", State: state("x")}}
	_, err := r.InsertEvents(context.Background(), events)
	if !errors.Is(err, core.ErrProgramming) {
		t.Fatalf("expected programming error got %v", err)
	}
}

func rejectMissingTopic(t *testing.T, r Recorder) {
	events := []core.StoredEvent{{AggregateID: uuid.NewString(), Version: 1, State: state("x")}}
	_, err := r.InsertEvents(context.Background(), events)
	if !errors.Is(err, core.ErrProgramming) {
		t.Fatalf("expected programming error got %v", err)
	}
}

func rejectBrokenChain(t *testing.T, r Recorder) {
	id := uuid.NewString()
	events := testEvents(id, 3)
	events[2].Version = 5
	_, err := r.InsertEvents(context.Background(), events)
	if !errors.Is(err, core.ErrProgramming) {
		t.Fatalf("expected programming error got %v", err)
	}
	// nothing may have been stored
	stored, err := r.SelectEvents(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected no stored events got %d", len(stored))
	}
}

func detectVersionCollision(t *testing.T, r Recorder) {
	ctx := context.Background()
	id := uuid.NewString()

	if _, err := r.InsertEvents(ctx, testEvents(id, 3)); err != nil {
		t.Fatal(err)
	}
	// a second writer that read the aggregate at version 2 tries to append
	stale := []core.StoredEvent{{AggregateID: id, Version: 3, Topic: "World:SomethingHappened", State: state("late")}}
	_, err := r.InsertEvents(ctx, stale)
	if !errors.Is(err, core.ErrConcurrency) {
		t.Fatalf("expected concurrency error got %v", err)
	}

	events, err := r.SelectEvents(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("conflicting insert must not change state, got %d events", len(events))
	}
}

func assignDenseNotificationIDs(t *testing.T, r Recorder) {
	ctx := context.Background()

	var all []uint64
	for i := 0; i < 3; i++ {
		ids, err := r.InsertEvents(ctx, testEvents(uuid.NewString(), 4))
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, ids...)
	}
	for i, id := range all {
		if id != uint64(i+1) {
			t.Fatalf("expected dense ids starting at 1, got %v", all)
		}
	}
}

func pageNotifications(t *testing.T, r Recorder) {
	ctx := context.Background()

	if _, err := r.InsertEvents(ctx, testEvents(uuid.NewString(), 4)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.InsertEvents(ctx, testEvents(uuid.NewString(), 4)); err != nil {
		t.Fatal(err)
	}

	notifications, err := r.SelectNotifications(ctx, 3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(notifications) != 4 {
		t.Fatalf("expected 4 notifications got %d", len(notifications))
	}
	for i, n := range notifications {
		if n.ID != uint64(3+i) {
			t.Fatalf("expected contiguous ids from 3, got id %d at position %d", n.ID, i)
		}
	}

	// a partial trailing page is not an error
	notifications, err = r.SelectNotifications(ctx, 7, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notifications) != 2 {
		t.Fatalf("expected partial page of 2 got %d", len(notifications))
	}
}

func reportMaxNotificationID(t *testing.T, r Recorder) {
	ctx := context.Background()

	max, err := r.MaxNotificationID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if max != 0 {
		t.Fatalf("expected 0 on empty store got %d", max)
	}

	if _, err := r.InsertEvents(ctx, testEvents(uuid.NewString(), 4)); err != nil {
		t.Fatal(err)
	}
	max, err = r.MaxNotificationID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if max != 4 {
		t.Fatalf("expected 4 got %d", max)
	}
}

func insertMultipleAggregates(t *testing.T, r Recorder) {
	ctx := context.Background()
	first := uuid.NewString()
	second := uuid.NewString()

	batch := append(testEvents(first, 2), testEvents(second, 2)...)
	ids, err := r.InsertEvents(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 4 {
		t.Fatalf("expected 4 ids got %d", len(ids))
	}

	for _, id := range []string{first, second} {
		events, err := r.SelectEvents(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events for %s got %d", id, len(events))
		}
	}
}

func serializeConcurrentInserts(t *testing.T, r Recorder) {
	ctx := context.Background()
	id := uuid.NewString()

	if _, err := r.InsertEvents(ctx, testEvents(id, 2)); err != nil {
		t.Fatal(err)
	}

	// two writers both holding version 2 race to append version 3
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			events := []core.StoredEvent{{AggregateID: id, Version: 3, Topic: "World:SomethingHappened", State: state("racer")}}
			_, results[i] = r.InsertEvents(ctx, events)
		}(i)
	}
	wg.Wait()

	var conflicts, successes int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, core.ErrConcurrency):
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if successes != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one success and one conflict, got %d and %d", successes, conflicts)
	}

	events, err := r.SelectEvents(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events got %d", len(events))
	}
}

func insertAndSelectSnapshots(t *testing.T, r Recorder) {
	ctx := context.Background()
	id := uuid.NewString()

	_, err := r.SelectSnapshot(ctx, id, 0)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("expected snapshot not found got %v", err)
	}

	snap := core.Snapshot{AggregateID: id, Version: 4, Topic: "World", State: state("snapshot")}
	if err := r.InsertSnapshot(ctx, snap); err != nil {
		t.Fatal(err)
	}

	got, err := r.SelectSnapshot(ctx, id, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 4 || got.AggregateID != id {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func selectSnapshotAtVersion(t *testing.T, r Recorder) {
	ctx := context.Background()
	id := uuid.NewString()

	for _, v := range []core.Version{2, 4, 6} {
		snap := core.Snapshot{AggregateID: id, Version: v, Topic: "World", State: state("snapshot")}
		if err := r.InsertSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	got, err := r.SelectSnapshot(ctx, id, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != 4 {
		t.Fatalf("expected snapshot at version 4 got %d", got.Version)
	}

	_, err = r.SelectSnapshot(ctx, id, 1)
	if !errors.Is(err, core.ErrSnapshotNotFound) {
		t.Fatalf("expected snapshot not found below the earliest, got %v", err)
	}
}

package otel_test

import (
	"context"
	"testing"

	"github.com/gregbrowndev/eventsourcing"
	"github.com/gregbrowndev/eventsourcing/otel"
	"github.com/gregbrowndev/eventsourcing/recorder/memory"
)

type Counter struct {
	eventsourcing.AggregateRoot
	Count int
}

type Incremented struct{}

func NewCounter() *Counter {
	counter := Counter{}
	counter.TrackChange(&counter, &Incremented{})
	return &counter
}

func (c *Counter) Increment() {
	c.TrackChange(c, &Incremented{})
}

func (c *Counter) Transition(event eventsourcing.Event) {
	switch event.Data().(type) {
	case *Incremented:
		c.Count++
	}
}

func (c *Counter) Register(r eventsourcing.RegisterFunc) {
	r(&Incremented{})
}

// TestPassThrough verifies the decorator forwards calls unchanged. Spans go to
// the global tracer provider, a no-op unless one is installed.
func TestPassThrough(t *testing.T) {
	app := eventsourcing.NewApplication(memory.Create())
	app.Register(&Counter{})
	ctx := context.Background()

	counter := NewCounter()
	counter.Increment()

	store := otel.NewTelemetryStore(app.EventStore())
	ids, err := store.Put(ctx, counter.Root().Events())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatal("unexpected notification ids", ids)
	}

	events, err := store.Get(ctx, counter.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatal("expected 2 events got", len(events))
	}
}

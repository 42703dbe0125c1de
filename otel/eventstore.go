package otel

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gregbrowndev/eventsourcing"
	"github.com/gregbrowndev/eventsourcing/core"
)

// EventStore is the surface the telemetry decorator wraps
type EventStore interface {
	Put(ctx context.Context, events []eventsourcing.Event) ([]uint64, error)
	Get(ctx context.Context, aggregateID string, opts ...core.SelectOption) ([]eventsourcing.Event, error)
}

var _ EventStore = (*TelemetryStore)(nil)

// TelemetryStore wraps an event store with spans around put and get
type TelemetryStore struct {
	next EventStore
}

// NewTelemetryStore returns a TelemetryStore around next
func NewTelemetryStore(next EventStore) *TelemetryStore {
	return &TelemetryStore{next: next}
}

// Put with span
func (t *TelemetryStore) Put(ctx context.Context, events []eventsourcing.Event) ([]uint64, error) {
	var aggregateID string
	if len(events) > 0 {
		aggregateID = events[0].AggregateID()
	}

	ctx, span := tracer.Start(ctx, "EventStore.Put",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("put"),
			AttrAggregateID.String(aggregateID),
			AttrEventCount.Int(len(events)),
		),
	)
	defer span.End()

	ids, err := t.next.Put(ctx, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ids, err
}

// Get with span
func (t *TelemetryStore) Get(ctx context.Context, aggregateID string, opts ...core.SelectOption) ([]eventsourcing.Event, error) {
	ctx, span := tracer.Start(ctx, "EventStore.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrOperation.String("get"),
			AttrAggregateID.String(aggregateID),
		),
	)
	defer span.End()

	events, err := t.next.Get(ctx, aggregateID, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(AttrEventCount.Int(len(events)))
	return events, nil
}

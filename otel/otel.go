// Package otel decorates the event store with OpenTelemetry spans.
package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gregbrowndev/eventsourcing/otel"

var tracer trace.Tracer = otel.Tracer(tracerName)

var (
	// AttrOperation is the event store operation of the span
	AttrOperation = attribute.Key("eventsourcing.operation")

	// AttrAggregateID is the aggregate the operation targets
	AttrAggregateID = attribute.Key("eventsourcing.aggregate_id")

	// AttrEventCount is the number of events read or written
	AttrEventCount = attribute.Key("eventsourcing.event_count")
)

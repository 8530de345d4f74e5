package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanCoordinatorFire     = "coordinator.fire"
	SpanSequencerInitialize = "sequencer.initialize"
	SpanDirectoryPublish    = "directory.publish"
	SpanDataSourceCreate    = "datasource.create"
)

// Span attribute keys.
const (
	AttrProviderCount = "providers.count"
	AttrProviderKeys  = "providers.keys"
	AttrGateOutcome   = "gate.outcome"
	AttrServiceID     = "service.id"
	AttrRegistration  = "service.registration"
	AttrDataSource    = "datasource.name"
	AttrDataSourceTyp = "datasource.type"
	AttrErrorMessage  = "error.message"
)

// Event names.
const (
	EventSnapshotTaken    = "snapshot.taken"
	EventPublishFailed    = "publish.failed"
	EventInitializerStart = "initializer.started"
)

// RecordError marks span as failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
}

package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating one OpenTelemetry span per
// event. Spans are named after the event kind and carry the execution
// id, node id, and all payload fields as attributes. If the payload
// holds an error_message field the span status is set to error.
//
// Usage:
//
//	tracer := otel.Tracer("phaseflow")
//	emitter := emit.NewOTelEmitter(tracer)
//
// Wire the tracer to a provider with an exporter (Jaeger, OTLP, ...) in
// application setup; this emitter only records.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter using the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records the event as an immediately-ended span. Events mark
// points in time, not durations, so the span is closed right away and
// left to the span processor to export.
func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), string(event.Kind))
	defer span.End()

	span.SetAttributes(
		attribute.String("execution_id", event.ExecutionID),
	)
	if event.NodeID != "" {
		span.SetAttributes(attribute.String("node_id", event.NodeID))
	}
	for key, value := range event.Fields {
		span.SetAttributes(fieldAttribute(key, value))
	}

	if msg, ok := event.Fields["error_message"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(fmt.Errorf("%s", msg))
	}
}

// fieldAttribute converts a payload value to a span attribute,
// preserving native types where OpenTelemetry supports them.
func fieldAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

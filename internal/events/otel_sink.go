package events

import (
	"context"
	"fmt"

	"github.com/book-expert/voice-synth/internal/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrument names.
const (
	MetricEvents   = "voice_synth.lifecycle.events"
	MetricDuration = "voice_synth.lifecycle.duration"
)

// MetricsSink counts events and records the duration of every finished step.
type MetricsSink struct {
	events   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetricsSink registers the lifecycle instruments on meter.
func NewMetricsSink(meter metric.Meter) (*MetricsSink, error) {
	counter, err := meter.Int64Counter(
		MetricEvents,
		metric.WithDescription("Lifecycle events by stage and status."),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricEvents, err)
	}

	histogram, err := meter.Float64Histogram(
		MetricDuration,
		metric.WithDescription("Duration of finished lifecycle steps."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s histogram: %w", MetricDuration, err)
	}

	return &MetricsSink{events: counter, duration: histogram}, nil
}

// Emit implements core.EventSink.
func (s *MetricsSink) Emit(event core.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(eventAttributes(event)...)

	s.events.Add(ctx, 1, attrs)

	if event.Terminal() && !event.StartedAt.IsZero() {
		s.duration.Record(ctx, event.Duration().Seconds(), attrs)
	}
}

// TraceSink turns every finished step into a span covering StartedAt..Time.
type TraceSink struct {
	tracer trace.Tracer
}

// NewTraceSink creates a TraceSink.
func NewTraceSink(tracer trace.Tracer) *TraceSink {
	return &TraceSink{tracer: tracer}
}

// Emit implements core.EventSink. Non-terminal events are ignored.
func (s *TraceSink) Emit(event core.Event) {
	if !event.Terminal() {
		return
	}

	start := event.StartedAt
	if start.IsZero() {
		start = event.Time
	}

	_, span := s.tracer.Start(
		context.Background(),
		string(event.Stage),
		trace.WithTimestamp(start),
		trace.WithAttributes(eventAttributes(event)...),
	)

	if event.Path != "" {
		span.SetAttributes(attribute.String("path", event.Path))
	}

	if event.Status == core.StatusFailed {
		if event.Err != nil {
			span.RecordError(event.Err)
		}

		span.SetStatus(codes.Error, event.Message)
	}

	span.End(trace.WithTimestamp(event.Time))
}

func eventAttributes(event core.Event) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("stage", string(event.Stage)),
		attribute.String("status", string(event.Status)),
		attribute.String("device", event.Device.String()),
	}
}

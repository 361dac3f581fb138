// Package events_test tests the lifecycle event sinks.
package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/book-expert/voice-synth/internal/events"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "events-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func finishedEvent(stage core.Stage, status core.Status) core.Event {
	event := core.NewEvent(stage, status)
	event.Device = core.DeviceHost
	event.StartedAt = event.Time.Add(-1500 * time.Millisecond)

	return event
}

func TestRecorder_Filter(t *testing.T) {
	t.Parallel()

	recorder := events.NewRecorder()
	recorder.Emit(core.NewEvent(core.StageGenerate, core.StatusStarted))
	recorder.Emit(core.NewEvent(core.StageGenerate, core.StatusSucceeded))
	recorder.Emit(core.NewEvent(core.StagePersist, core.StatusFailed))

	assert.Len(t, recorder.Events(), 3)
	assert.Equal(t, 2, recorder.Count(core.StageGenerate, ""))
	assert.Equal(t, 1, recorder.Count(core.StageGenerate, core.StatusSucceeded))
	assert.Equal(t, 0, recorder.Count(core.StageReclaim, ""))
}

func TestMulti_SkipsNilSinks(t *testing.T) {
	t.Parallel()

	first := events.NewRecorder()
	second := events.NewRecorder()

	multi := events.Multi{first, nil, second}
	multi.Emit(core.NewEvent(core.StageTeardown, core.StatusSucceeded))

	assert.Len(t, first.Events(), 1)
	assert.Len(t, second.Events(), 1)
}

func TestLogSink_EmitsEveryStatus(t *testing.T) {
	t.Parallel()

	sink := events.NewLogSink(newTestLogger(t))

	statuses := []core.Status{
		core.StatusStarted, core.StatusSucceeded, core.StatusFailed,
		core.StatusFallback, core.StatusSkipped, core.StatusWarning,
	}
	for _, status := range statuses {
		event := finishedEvent(core.StagePersist, status)
		event.Path = "/tmp/out.wav"
		event.Err = errors.New("disk full")

		assert.NotPanics(t, func() { sink.Emit(event) })
	}
}

func TestNATSSink_PublishesLifecycleMessage(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	natsServer := test.RunServer(&opts)
	defer natsServer.Shutdown()

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	defer natsConnection.Close()

	sub, err := natsConnection.SubscribeSync("voice.lifecycle")
	require.NoError(t, err)

	sink, err := events.NewNATSSink(natsConnection, "voice.lifecycle", "run-1", newTestLogger(t))
	require.NoError(t, err)

	event := finishedEvent(core.StageDevice, core.StatusFallback)
	event.Requested = core.DeviceAccelerator
	event.Message = "no accelerator present"
	sink.Emit(event)

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)

	var decoded events.LifecycleMessage

	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, "run-1", decoded.Header.WorkflowID)
	assert.Equal(t, event.ID, decoded.Header.EventID)
	assert.Equal(t, "device", decoded.Stage)
	assert.Equal(t, "fallback", decoded.Status)
	assert.Equal(t, "accelerator", decoded.Requested)
	assert.Equal(t, "host", decoded.Device)
	assert.Equal(t, int64(1500), decoded.DurationMS)
}

func TestNewNATSSink_RequiresSubject(t *testing.T) {
	t.Parallel()

	_, err := events.NewNATSSink(nil, "", "run", nil)
	require.ErrorIs(t, err, events.ErrSubjectEmpty)
}

func TestMetricsSink_CountsEvents(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	sink, err := events.NewMetricsSink(provider.Meter("events-test"))
	require.NoError(t, err)

	sink.Emit(core.NewEvent(core.StageGenerate, core.StatusStarted))
	sink.Emit(finishedEvent(core.StageGenerate, core.StatusSucceeded))
	sink.Emit(finishedEvent(core.StagePersist, core.StatusFailed))

	var collected metricdata.ResourceMetrics

	require.NoError(t, reader.Collect(context.Background(), &collected))

	var (
		total      int64
		histograms uint64
	)

	for _, scope := range collected.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				if m.Name == events.MetricEvents {
					for _, point := range data.DataPoints {
						total += point.Value
					}
				}
			case metricdata.Histogram[float64]:
				if m.Name == events.MetricDuration {
					for _, point := range data.DataPoints {
						histograms += point.Count
					}
				}
			}
		}
	}

	assert.Equal(t, int64(3), total)
	assert.Equal(t, uint64(2), histograms)
}

func TestTraceSink_RecordsTerminalEvents(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	sink := events.NewTraceSink(provider.Tracer("events-test"))

	sink.Emit(core.NewEvent(core.StageGenerate, core.StatusStarted))

	failed := finishedEvent(core.StagePersist, core.StatusFailed)
	failed.Err = errors.New("disk full")
	failed.Message = "write failed"
	sink.Emit(failed)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "persist", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.True(t, failed.StartedAt.Equal(ended[0].StartTime()))
}

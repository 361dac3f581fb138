package model_test

import (
	"context"
	"errors"
	"testing"

	"github.com/book-expert/voice-synth/internal/core"
	"github.com/book-expert/voice-synth/internal/device"
	"github.com/book-expert/voice-synth/internal/engine"
	"github.com/book-expert/voice-synth/internal/events"
	"github.com/book-expert/voice-synth/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errProbe = errors.New("driver query failed")

// zeroRateRuntime loads models that report no sample rate.
type zeroRateRuntime struct {
	*engine.MockRuntime

	closed int
}

type zeroRateModel struct {
	core.Model

	runtime *zeroRateRuntime
}

func (m *zeroRateModel) SampleRate() float64 { return 0 }

func (m *zeroRateModel) Close() error {
	m.runtime.closed++

	return m.Model.Close()
}

func (r *zeroRateRuntime) Load(ctx context.Context, dev core.Device) (core.Model, error) {
	loaded, err := r.MockRuntime.Load(ctx, dev)
	if err != nil {
		return nil, err
	}

	return &zeroRateModel{Model: loaded, runtime: r}, nil
}

// relocatingRuntime loads every model onto the host whatever device is asked for.
type relocatingRuntime struct {
	*engine.MockRuntime
}

type relocatedModel struct {
	core.Model
}

func (relocatedModel) LoadedDevice() core.Device { return core.DeviceHost }

func (r *relocatingRuntime) Load(ctx context.Context, dev core.Device) (core.Model, error) {
	loaded, err := r.MockRuntime.Load(ctx, dev)
	if err != nil {
		return nil, err
	}

	return relocatedModel{Model: loaded}, nil
}

func newInitializer(runtime core.Runtime, probe core.CapabilityProbe) (*model.Initializer, *events.Recorder) {
	recorder := events.NewRecorder()
	resolver := device.NewResolver(probe, recorder)

	return model.NewInitializer(runtime, resolver, recorder), recorder
}

func TestInitialize_OnAccelerator(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, true)
	initializer, recorder := newInitializer(runtime, runtime)

	handle, err := initializer.Initialize(context.Background(), core.DeviceAccelerator)
	require.NoError(t, err)

	resolved, err := handle.Device()
	require.NoError(t, err)
	assert.Equal(t, core.DeviceAccelerator, resolved)
	assert.Equal(t, core.DeviceAccelerator, handle.RequestedDevice())
	assert.InEpsilon(t, 24000.0, handle.SampleRate(), 0.001)

	assert.Equal(t, 0, recorder.Count(core.StageDevice, core.StatusFallback))
	assert.Equal(t, 1, recorder.Count(core.StageInitialize, core.StatusStarted))

	succeeded := recorder.Filter(core.StageInitialize, core.StatusSucceeded)
	require.Len(t, succeeded, 1)
	assert.Equal(t, core.DeviceAccelerator, succeeded[0].Device)
}

func TestInitialize_FallsBackToHost(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	initializer, recorder := newInitializer(runtime, runtime)

	handle, err := initializer.Initialize(context.Background(), core.DeviceAccelerator)
	require.NoError(t, err)

	resolved, err := handle.Device()
	require.NoError(t, err)
	assert.Equal(t, core.DeviceHost, resolved)
	assert.Equal(t, core.DeviceAccelerator, handle.RequestedDevice())

	fallbacks := recorder.Filter(core.StageDevice, core.StatusFallback)
	require.Len(t, fallbacks, 1)
	assert.Equal(t, core.DeviceAccelerator, fallbacks[0].Requested)
	assert.Equal(t, core.DeviceHost, fallbacks[0].Device)

	assert.Equal(t, core.DeviceHost, runtime.Stats().Device)
}

func TestInitialize_UsesDeviceReportedByRuntime(t *testing.T) {
	t.Parallel()

	runtime := &relocatingRuntime{MockRuntime: engine.NewMockRuntime(24000, true)}
	initializer, recorder := newInitializer(runtime, runtime)

	handle, err := initializer.Initialize(context.Background(), core.DeviceAccelerator)
	require.NoError(t, err)

	placed, err := handle.Device()
	require.NoError(t, err)
	assert.Equal(t, core.DeviceHost, placed)
	assert.Equal(t, core.DeviceAccelerator, handle.RequestedDevice())

	fallbacks := recorder.Filter(core.StageDevice, core.StatusFallback)
	require.Len(t, fallbacks, 1)
	assert.Equal(t, core.DeviceHost, fallbacks[0].Device)
	assert.Contains(t, fallbacks[0].Message, "instead of accelerator")

	succeeded := recorder.Filter(core.StageInitialize, core.StatusSucceeded)
	require.Len(t, succeeded, 1)
	assert.Equal(t, core.DeviceHost, succeeded[0].Device)
}

func TestInitialize_ProbeFailureFallsBack(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, true)
	initializer, recorder := newInitializer(runtime, device.StaticProbe{Available: true, Err: errProbe})

	handle, err := initializer.Initialize(context.Background(), core.DeviceAccelerator)
	require.NoError(t, err)
	assert.Equal(t, core.DeviceHost, handle.ResolvedDevice())

	fallbacks := recorder.Filter(core.StageDevice, core.StatusFallback)
	require.Len(t, fallbacks, 1)
	require.ErrorIs(t, fallbacks[0].Err, errProbe)
}

func TestInitialize_LoadFailure(t *testing.T) {
	t.Parallel()

	runtime := engine.NewMockRuntime(24000, false)
	runtime.LoadShouldFail = true
	initializer, recorder := newInitializer(runtime, runtime)

	handle, err := initializer.Initialize(context.Background(), core.DeviceAccelerator)
	require.Nil(t, handle)

	var initErr *core.InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, core.DeviceHost, initErr.Device)
	assert.Equal(t, core.DeviceAccelerator, initErr.Requested)
	assert.True(t, core.IsFatal(err))

	failed := recorder.Filter(core.StageInitialize, core.StatusFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, core.DeviceHost, failed[0].Device)
}

func TestInitialize_RejectsNonPositiveSampleRate(t *testing.T) {
	t.Parallel()

	runtime := &zeroRateRuntime{MockRuntime: engine.NewMockRuntime(24000, false)}
	initializer, _ := newInitializer(runtime, device.StaticProbe{})

	_, err := initializer.Initialize(context.Background(), core.DeviceHost)

	var initErr *core.InitializationError
	require.ErrorAs(t, err, &initErr)
	require.ErrorIs(t, err, core.ErrInvalidSampleRate)
	assert.Equal(t, 1, runtime.closed)
}

func TestInitialize_MissingRuntime(t *testing.T) {
	t.Parallel()

	initializer := model.NewInitializer(nil, nil, nil)

	_, err := initializer.Initialize(context.Background(), core.DeviceHost)
	require.ErrorIs(t, err, model.ErrRuntimeMissing)
}

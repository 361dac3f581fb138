package engine_test

import (
	"context"
	"testing"

	"github.com/book-expert/voice-synth/internal/config"
	"github.com/book-expert/voice-synth/internal/device"
	"github.com/book-expert/voice-synth/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SelectsRuntime(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Model

	runtime, err := engine.New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &engine.ExecRuntime{}, runtime)
	require.NoError(t, runtime.Close())

	cfg.Mode = config.ModeHTTP
	runtime, err = engine.New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &engine.HTTPRuntime{}, runtime)

	cfg.Mode = config.ModeMock
	runtime, err = engine.New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &engine.MockRuntime{}, runtime)

	cfg.Mode = "grpc"
	_, err = engine.New(cfg, nil)
	require.ErrorIs(t, err, config.ErrUnknownMode)

	cfg.Mode = config.ModeExec
	cfg.Command = ""
	_, err = engine.New(cfg, nil)
	require.ErrorIs(t, err, engine.ErrCommandEmpty)
}

func TestNewProbe(t *testing.T) {
	t.Parallel()

	cfg := config.Default().Model
	runtime := engine.NewMockRuntime(24000, true)

	probe, err := engine.NewProbe(cfg, runtime)
	require.NoError(t, err)

	available, err := probe.AcceleratorAvailable(context.Background())
	require.NoError(t, err)
	assert.True(t, available)

	cfg.Probe = config.ProbeNone
	probe, err = engine.NewProbe(cfg, runtime)
	require.NoError(t, err)

	available, err = probe.AcceleratorAvailable(context.Background())
	require.NoError(t, err)
	assert.False(t, available)

	cfg.Probe = config.ProbeCommand
	probe, err = engine.NewProbe(cfg, runtime)
	require.NoError(t, err)
	assert.IsType(t, &device.CommandProbe{}, probe)

	cfg.ProbeCommand = ""
	_, err = engine.NewProbe(cfg, runtime)
	require.ErrorIs(t, err, device.ErrProbeCommandEmpty)

	cfg.Probe = "sysfs"
	_, err = engine.NewProbe(cfg, runtime)
	require.ErrorIs(t, err, config.ErrUnknownProbe)
}

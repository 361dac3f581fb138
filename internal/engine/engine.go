// Package engine provides the model runtimes: a long-lived worker process spoken to
// over stdio, a client for a local model server, and an in-process mock.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/config"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/book-expert/voice-synth/internal/device"
)

var (
	// ErrCommandEmpty indicates that no worker command was configured.
	ErrCommandEmpty = errors.New("model command cannot be empty")
	// ErrWorkerStart indicates that the worker process could not be started.
	ErrWorkerStart = errors.New("failed to start model worker")
	// ErrWorkerExited indicates that the worker pipe broke mid-request.
	ErrWorkerExited = errors.New("model worker exited")
	// ErrWorkerProtocol indicates a malformed worker response.
	ErrWorkerProtocol = errors.New("model worker protocol error")
	// ErrWorkerFailed indicates that the worker reported a failed operation.
	ErrWorkerFailed = errors.New("model worker operation failed")
	// ErrRuntimeClosed indicates use of a runtime after Close.
	ErrRuntimeClosed = errors.New("model runtime is closed")
	// ErrServiceStatus indicates a non-OK response from the model server.
	ErrServiceStatus = errors.New("model service returned an error")
	// ErrServiceResponse indicates a response body that could not be used.
	ErrServiceResponse = errors.New("unexpected model service response")
	// ErrAcceleratorUnavailable indicates a request for an accelerator that is absent.
	ErrAcceleratorUnavailable = errors.New("accelerator unavailable")
	// ErrModelClosed indicates use of a model after Close.
	ErrModelClosed = errors.New("model is closed")
	// ErrModelLost indicates that the worker holding the model exited.
	ErrModelLost = errors.New("model worker exited with the model loaded")
)

// reportedDevice returns the device a runtime says it placed the model on. An empty
// report means the requested device.
func reportedDevice(reported string, requested core.Device) (core.Device, error) {
	if reported == "" {
		return requested, nil
	}

	return core.ParseDevice(reported)
}

// New builds the runtime selected by cfg.Mode.
func New(cfg config.ModelConfig, log *logger.Logger) (core.Runtime, error) {
	switch cfg.Mode {
	case config.ModeExec:
		runtime, err := NewExecRuntimeFromCommand(cfg.Command, cfg.WorkerEnv, log)
		if err != nil {
			return nil, err
		}

		return runtime, nil
	case config.ModeHTTP:
		return NewHTTPRuntime(cfg.ServiceURL, time.Duration(cfg.TimeoutSeconds)*time.Second), nil
	case config.ModeMock:
		return NewMockRuntime(cfg.MockSampleRate, cfg.MockAccelerator), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownMode, cfg.Mode)
	}
}

// NewProbe builds the capability probe selected by cfg.Probe. The runtime probe asks
// the model runtime itself.
func NewProbe(cfg config.ModelConfig, runtime core.Runtime) (core.CapabilityProbe, error) {
	switch cfg.Probe {
	case config.ProbeRuntime:
		return runtime, nil
	case config.ProbeCommand:
		probe, err := device.NewCommandProbe(cfg.ProbeCommand)
		if err != nil {
			return nil, err
		}

		return probe, nil
	case config.ProbeNone:
		return device.StaticProbe{Available: false, Err: nil}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProbe, cfg.Probe)
	}
}

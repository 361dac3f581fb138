// Package model loads the single model instance a session works with.
package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/voice-synth/internal/core"
)

// ErrRuntimeMissing indicates that no model runtime was supplied.
var ErrRuntimeMissing = errors.New("model runtime is missing")

const (
	msgFmtLoaded    = "model loaded at %.0f Hz"
	msgFmtRelocated = "runtime placed the model on %s instead of %s"
)

// DeviceResolver picks the device a model is loaded onto.
type DeviceResolver interface {
	Resolve(ctx context.Context, preference core.Device) core.Device
}

// Initializer resolves the device and loads the model onto it.
type Initializer struct {
	runtime  core.Runtime
	resolver DeviceResolver
	sink     core.EventSink
}

// NewInitializer creates an Initializer. A nil sink discards events.
func NewInitializer(runtime core.Runtime, resolver DeviceResolver, sink core.EventSink) *Initializer {
	if sink == nil {
		sink = core.NopSink{}
	}

	return &Initializer{
		runtime:  runtime,
		resolver: resolver,
		sink:     sink,
	}
}

// Initialize returns a handle to a model loaded on the resolved device, or on the
// device the runtime reports having used instead. Every failure is an
// *core.InitializationError carrying the resolved device.
func (i *Initializer) Initialize(ctx context.Context, preference core.Device) (*core.ModelHandle, error) {
	if i.runtime == nil || i.resolver == nil {
		return nil, &core.InitializationError{Requested: preference, Device: core.DeviceUnknown, Err: ErrRuntimeMissing}
	}

	resolved := i.resolver.Resolve(ctx, preference)
	startedAt := time.Now()

	started := core.NewEvent(core.StageInitialize, core.StatusStarted)
	started.Requested = preference
	started.Device = resolved
	i.sink.Emit(started)

	handle, err := i.load(ctx, preference, resolved)

	finished := core.NewEvent(core.StageInitialize, core.StatusSucceeded)
	finished.Requested = preference
	finished.Device = resolved
	finished.StartedAt = startedAt

	if err != nil {
		initErr := &core.InitializationError{Requested: preference, Device: resolved, Err: err}

		finished.Status = core.StatusFailed
		finished.Err = initErr
		i.sink.Emit(finished)

		return nil, initErr
	}

	finished.Device = handle.ResolvedDevice()
	finished.Message = fmt.Sprintf(msgFmtLoaded, handle.SampleRate())
	i.sink.Emit(finished)

	return handle, nil
}

func (i *Initializer) load(ctx context.Context, preference, resolved core.Device) (*core.ModelHandle, error) {
	loaded, err := i.runtime.Load(ctx, resolved)
	if err != nil {
		return nil, err
	}

	placed := i.placement(loaded, preference, resolved)

	handle, err := core.NewModelHandle(loaded, preference, placed)
	if err != nil {
		closeErr := loaded.Close()
		if closeErr != nil {
			return nil, errors.Join(err, fmt.Errorf("close rejected model: %w", closeErr))
		}

		return nil, err
	}

	return handle, nil
}

// placement returns the device the model really lives on. A runtime that placed the
// model elsewhere than asked is reported as a device fallback.
func (i *Initializer) placement(loaded core.Model, preference, resolved core.Device) core.Device {
	reporter, ok := loaded.(core.DeviceReporter)
	if !ok {
		return resolved
	}

	placed := reporter.LoadedDevice()
	if placed == resolved || !placed.Valid() {
		return resolved
	}

	event := core.NewEvent(core.StageDevice, core.StatusFallback)
	event.Requested = preference
	event.Device = placed
	event.Message = fmt.Sprintf(msgFmtRelocated, placed, resolved)
	i.sink.Emit(event)

	return placed
}

// Package device decides which execution device a model is loaded onto.
//
// The decision itself is the pure function Decide; Resolver adds the capability
// probe and reports a fallback event when the preferred accelerator cannot be used.
package device

import (
	"context"

	"github.com/book-expert/voice-synth/internal/core"
)

const (
	msgFallbackNoAccelerator = "no accelerator present, falling back to host"
	msgFallbackProbeFailed   = "accelerator probe failed, falling back to host"
)

// Resolver resolves a device preference against the runtime's capabilities.
type Resolver struct {
	probe core.CapabilityProbe
	sink  core.EventSink
}

// NewResolver creates a Resolver. A nil probe reports no accelerator; a nil sink
// discards events.
func NewResolver(probe core.CapabilityProbe, sink core.EventSink) *Resolver {
	if probe == nil {
		probe = StaticProbe{Available: false, Err: nil}
	}

	if sink == nil {
		sink = core.NopSink{}
	}

	return &Resolver{probe: probe, sink: sink}
}

// Decide returns the device to use and whether it differs from the preference
// because the accelerator is absent or could not be queried.
func Decide(preference core.Device, available bool, probeErr error) (core.Device, bool) {
	if preference != core.DeviceAccelerator {
		return preference, false
	}

	if probeErr != nil || !available {
		return core.DeviceHost, true
	}

	return core.DeviceAccelerator, false
}

// Resolve probes the runtime only when an accelerator is requested and emits exactly
// one fallback event when it has to settle for the host.
func (r *Resolver) Resolve(ctx context.Context, preference core.Device) core.Device {
	if preference != core.DeviceAccelerator {
		resolved, _ := Decide(preference, false, nil)

		return resolved
	}

	available, probeErr := r.probe.AcceleratorAvailable(ctx)

	resolved, fellBack := Decide(preference, available, probeErr)
	if fellBack {
		event := core.NewEvent(core.StageDevice, core.StatusFallback)
		event.Requested = preference
		event.Device = resolved
		event.Err = probeErr
		event.Message = msgFallbackNoAccelerator

		if probeErr != nil {
			event.Message = msgFallbackProbeFailed
		}

		r.sink.Emit(event)
	}

	return resolved
}

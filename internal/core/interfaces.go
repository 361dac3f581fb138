// Package core defines the core types, errors and interfaces of the voice synthesis
// pipeline. Every other package depends on core and core depends on nothing in the
// module.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// CapabilityProbe reports whether an accelerator can be used by the model runtime.
// An error means the runtime could not be queried at all.
type CapabilityProbe interface {
	AcceleratorAvailable(ctx context.Context) (bool, error)
}

// Runtime is a model runtime: the process-level environment that loads models and
// owns the host and accelerator memory pools.
type Runtime interface {
	CapabilityProbe

	// Load loads the model onto the given device.
	Load(ctx context.Context, device Device) (Model, error)
	// CollectGarbage triggers the runtime's deferred host memory collector.
	CollectGarbage(ctx context.Context) error
	// EmptyAcceleratorCache releases the accelerator's cached memory pool.
	EmptyAcceleratorCache(ctx context.Context) error
	Close() error
}

// Model is a loaded inference model.
type Model interface {
	SampleRate() float64
	// Generate blocks until the whole waveform is produced. An empty voicePrompt
	// selects the baseline voice.
	Generate(ctx context.Context, text, voicePrompt string, params GenerationParams) ([]float32, error)
	MoveTo(ctx context.Context, device Device) error
	Close() error
}

// DeviceReporter is implemented by models that know which device the runtime
// actually placed them on, which may differ from the device that was asked for.
type DeviceReporter interface {
	LoadedDevice() Device
}

// EventSink receives lifecycle events. Implementations must not block for long and
// must never panic; sinks are informational only.
type EventSink interface {
	Emit(event Event)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}

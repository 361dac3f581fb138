package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"unicode/utf8"

	"github.com/book-expert/voice-synth/internal/core"
)

// Mock tone parameters.
const (
	mockBaseFrequency   = 220.0
	mockPitchRange      = 220
	mockAmplitude       = 0.3
	mockLeadSeconds     = 0.25
	mockSecondsPerRune  = 0.06
	defaultMockRate     = 24000.0
	errFmtMockOperation = "mock %s failed"
)

// MockStats counts the calls a MockRuntime has served.
type MockStats struct {
	Loads              int
	Generations        int
	MovesToHost        int
	MovesToAccelerator int
	Collections        int
	CacheClears        int
	ModelsClosed       int
	Device             core.Device
}

// MockRuntime is an in-process runtime that synthesizes a sine tone. The tone's length
// scales with the text and its pitch is derived from the voice prompt. The
// ...ShouldFail switches make individual operations fail.
type MockRuntime struct {
	mu          sync.Mutex
	sampleRate  float64
	accelerator bool
	stats       MockStats

	ProbeErr             error
	LoadShouldFail       bool
	GenerateShouldFail   bool
	GenerateEmpty        bool
	MoveShouldFail       bool
	CollectShouldFail    bool
	EmptyCacheShouldFail bool
	CloseModelShouldFail bool
}

// NewMockRuntime creates a mock runtime. A non-positive sample rate selects 24 kHz.
func NewMockRuntime(sampleRate float64, accelerator bool) *MockRuntime {
	if sampleRate <= 0 {
		sampleRate = defaultMockRate
	}

	return &MockRuntime{
		sampleRate:  sampleRate,
		accelerator: accelerator,
		stats:       MockStats{Device: core.DeviceUnknown},
	}
}

// Stats returns a snapshot of the call counters.
func (m *MockRuntime) Stats() MockStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stats
}

// AcceleratorAvailable implements core.CapabilityProbe.
func (m *MockRuntime) AcceleratorAvailable(context.Context) (bool, error) {
	if m.ProbeErr != nil {
		return false, m.ProbeErr
	}

	return m.accelerator, nil
}

// Load implements core.Runtime.
func (m *MockRuntime) Load(ctx context.Context, device core.Device) (core.Model, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	if m.LoadShouldFail {
		return nil, fmt.Errorf(errFmtMockOperation, "load")
	}

	err = m.checkDevice(device)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stats.Loads++
	m.stats.Device = device
	m.mu.Unlock()

	return &mockModel{runtime: m, device: device}, nil
}

// CollectGarbage implements core.Runtime.
func (m *MockRuntime) CollectGarbage(context.Context) error {
	if m.CollectShouldFail {
		return fmt.Errorf(errFmtMockOperation, "gc")
	}

	m.mu.Lock()
	m.stats.Collections++
	m.mu.Unlock()

	return nil
}

// EmptyAcceleratorCache implements core.Runtime.
func (m *MockRuntime) EmptyAcceleratorCache(context.Context) error {
	if m.EmptyCacheShouldFail {
		return fmt.Errorf(errFmtMockOperation, "empty_cache")
	}

	m.mu.Lock()
	m.stats.CacheClears++
	m.mu.Unlock()

	return nil
}

// Close implements core.Runtime.
func (m *MockRuntime) Close() error {
	return nil
}

func (m *MockRuntime) checkDevice(device core.Device) error {
	if !device.Valid() {
		return fmt.Errorf("%w: %s", core.ErrInvalidDevice, device)
	}

	if device == core.DeviceAccelerator && !m.accelerator {
		return ErrAcceleratorUnavailable
	}

	return nil
}

type mockModel struct {
	runtime *MockRuntime
	device  core.Device
	closed  bool
}

func (m *mockModel) SampleRate() float64 {
	return m.runtime.sampleRate
}

func (m *mockModel) Generate(
	ctx context.Context,
	text, voicePrompt string,
	_ core.GenerationParams,
) ([]float32, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	if m.closed {
		return nil, ErrModelClosed
	}

	if m.runtime.GenerateShouldFail {
		return nil, fmt.Errorf(errFmtMockOperation, "generate")
	}

	m.runtime.mu.Lock()
	m.runtime.stats.Generations++
	m.runtime.mu.Unlock()

	if m.runtime.GenerateEmpty {
		return []float32{}, nil
	}

	return tone(text, voicePrompt, m.runtime.sampleRate), nil
}

func (m *mockModel) MoveTo(_ context.Context, device core.Device) error {
	if m.closed {
		return ErrModelClosed
	}

	if m.runtime.MoveShouldFail {
		return fmt.Errorf(errFmtMockOperation, "move")
	}

	err := m.runtime.checkDevice(device)
	if err != nil {
		return err
	}

	m.runtime.mu.Lock()
	defer m.runtime.mu.Unlock()

	if device == core.DeviceHost {
		m.runtime.stats.MovesToHost++
	} else {
		m.runtime.stats.MovesToAccelerator++
	}

	m.device = device
	m.runtime.stats.Device = device

	return nil
}

func (m *mockModel) Close() error {
	if m.closed {
		return ErrModelClosed
	}

	m.closed = true

	m.runtime.mu.Lock()
	m.runtime.stats.ModelsClosed++
	m.runtime.mu.Unlock()

	if m.runtime.CloseModelShouldFail {
		return fmt.Errorf(errFmtMockOperation, "unload")
	}

	return nil
}

// tone renders a sine wave whose frequency is keyed on the voice prompt.
func tone(text, voicePrompt string, sampleRate float64) []float32 {
	frequency := mockBaseFrequency

	if voicePrompt != "" {
		hasher := fnv.New32a()
		_, _ = hasher.Write([]byte(voicePrompt))
		frequency += float64(hasher.Sum32() % mockPitchRange)
	}

	seconds := mockLeadSeconds + mockSecondsPerRune*float64(utf8.RuneCountInString(text))
	samples := make([]float32, int(seconds*sampleRate))

	for i := range samples {
		phase := 2 * math.Pi * frequency * float64(i) / sampleRate
		samples[i] = float32(mockAmplitude * math.Sin(phase))
	}

	return samples
}

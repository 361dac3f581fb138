package core

import "time"

// GenerationRequest is a single text-to-speech job. VoicePrompt is optional; when set
// the model clones the voice of the referenced recording.
type GenerationRequest struct {
	Text        string
	VoicePrompt string
	OutputPath  string
}

// GenerationParams are the sampling controls passed to the model with every request.
type GenerationParams struct {
	Exaggeration float64
	CFGWeight    float64
	Temperature  float64
}

// AudioBuffer is a decoded mono waveform with samples in [-1, 1].
type AudioBuffer struct {
	Samples    []float32
	SampleRate float64
}

// Len returns the number of samples.
func (b *AudioBuffer) Len() int {
	if b == nil {
		return 0
	}

	return len(b.Samples)
}

// Duration returns the playback length of the buffer.
func (b *AudioBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(len(b.Samples)) / b.SampleRate * float64(time.Second))
}

// Release drops the sample slice so the collector can reclaim it.
func (b *AudioBuffer) Release() {
	if b == nil {
		return
	}

	b.Samples = nil
}

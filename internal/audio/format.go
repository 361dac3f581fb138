// Package audio persists generated waveforms as WAV artifacts and decodes WAV data
// returned by model runtimes.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/book-expert/voice-synth/internal/core"
)

// Supported PCM bit depths.
const (
	BitDepth16 = 16
	BitDepth24 = 24
	BitDepth32 = 32
)

// Format limits.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
	monoChannels  = 1
)

// Error formats.
const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %v"
	errFmtBitDepthValues  = "%w: bit depth must be 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
)

// ErrInvalidFormat indicates unsupported PCM format settings.
var ErrInvalidFormat = errors.New("invalid audio format")

// Format describes the PCM layout of an artifact.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// Info describes a written artifact.
type Info struct {
	Format

	Frames   int
	Duration time.Duration
}

// Validate checks that the format can be written.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, core.ErrInvalidSampleRate, MaxSampleRate, f.SampleRate)
	}

	err := ValidateBitDepth(f.BitDepth)
	if err != nil {
		return err
	}

	if f.Channels <= 0 || f.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, MaxChannels, f.Channels)
	}

	return nil
}

// ValidateBitDepth checks that bitDepth is one of the supported integer PCM depths.
func ValidateBitDepth(bitDepth int) error {
	switch bitDepth {
	case BitDepth16, BitDepth24, BitDepth32:
		return nil
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidFormat, bitDepth)
	}
}

// CoerceSampleRate converts a model's sample rate to the integer written into the WAV
// header. Fractional rates are truncated toward zero.
func CoerceSampleRate(sampleRate float64) (int, error) {
	if math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return 0, fmt.Errorf(errFmtSampleRateRange, core.ErrInvalidSampleRate, MaxSampleRate, sampleRate)
	}

	rate := int(sampleRate)
	if rate <= 0 || rate > MaxSampleRate {
		return 0, fmt.Errorf(errFmtSampleRateRange, core.ErrInvalidSampleRate, MaxSampleRate, sampleRate)
	}

	return rate, nil
}

func fullScale(bitDepth int) float64 {
	return float64(int64(1)<<(bitDepth-1)) - 1
}

func floatToPCM(sample float32, bitDepth int) int {
	value := float64(sample)

	switch {
	case math.IsNaN(value):
		value = 0
	case value > 1:
		value = 1
	case value < -1:
		value = -1
	}

	return int(math.Round(value * fullScale(bitDepth)))
}

func pcmToFloat(value, bitDepth int) float32 {
	return float32(float64(value) / (fullScale(bitDepth) + 1))
}

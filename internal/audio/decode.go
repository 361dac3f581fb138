package audio

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/wav"
)

// ErrInvalidWAV indicates input that is not a readable WAV stream.
var ErrInvalidWAV = errors.New("not a valid wav file")

// Decoded is a WAV payload downmixed to mono float samples.
type Decoded struct {
	Info

	Samples []float32
}

// DecodeWAV reads a complete integer PCM WAV stream. Multi-channel audio is averaged
// down to mono.
func DecodeWAV(reader io.ReadSeeker) (*Decoded, error) {
	decoder := wav.NewDecoder(reader)
	if !decoder.IsValidFile() {
		return nil, ErrInvalidWAV
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm data: %w", err)
	}

	format := Format{
		SampleRate: int(decoder.SampleRate),
		BitDepth:   int(decoder.BitDepth),
		Channels:   int(decoder.NumChans),
	}

	err = format.Validate()
	if err != nil {
		return nil, err
	}

	frames := len(buffer.Data) / format.Channels
	samples := make([]float32, frames)

	for frame := range frames {
		var sum float32

		for channel := range format.Channels {
			sum += pcmToFloat(buffer.Data[frame*format.Channels+channel], format.BitDepth)
		}

		samples[frame] = sum / float32(format.Channels)
	}

	return &Decoded{
		Info: Info{
			Format:   format,
			Frames:   frames,
			Duration: time.Duration(float64(frames) / float64(format.SampleRate) * float64(time.Second)),
		},
		Samples: samples,
	}, nil
}

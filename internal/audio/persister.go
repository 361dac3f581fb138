package audio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/voice-synth/internal/core"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	tempFilePattern = ".voice-synth-*.wav"
	filePermissions = 0o600
	wavFormatPCM    = 1
)

// Persister writes audio buffers as mono integer PCM WAV files.
type Persister struct {
	bitDepth int
	sink     core.EventSink
}

// NewPersister creates a Persister writing bitDepth-bit samples.
func NewPersister(bitDepth int, sink core.EventSink) (*Persister, error) {
	err := ValidateBitDepth(bitDepth)
	if err != nil {
		return nil, err
	}

	if sink == nil {
		sink = core.NopSink{}
	}

	return &Persister{bitDepth: bitDepth, sink: sink}, nil
}

// Persist writes buffer to path at sampleRate, which must be the producing model's
// rate. The artifact appears at path only when the write completes.
func (p *Persister) Persist(buffer *core.AudioBuffer, sampleRate float64, path string) error {
	started := time.Now()

	startEvent := core.NewEvent(core.StagePersist, core.StatusStarted)
	startEvent.Path = path
	p.sink.Emit(startEvent)

	err := p.persist(buffer, sampleRate, path)

	event := core.NewEvent(core.StagePersist, core.StatusSucceeded)
	event.Path = path
	event.StartedAt = started

	if err != nil {
		event.Status = core.StatusFailed
		event.Err = err
		event.Message = "artifact not written"
		p.sink.Emit(event)

		return &core.PersistenceError{Path: path, Err: err}
	}

	p.sink.Emit(event)

	return nil
}

func (p *Persister) persist(buffer *core.AudioBuffer, sampleRate float64, path string) error {
	if path == "" {
		return core.ErrOutputPathEmpty
	}

	if buffer.Len() == 0 {
		return core.ErrEmptyAudio
	}

	rate, err := CoerceSampleRate(sampleRate)
	if err != nil {
		return err
	}

	bufferRate, err := CoerceSampleRate(buffer.SampleRate)
	if err != nil {
		return err
	}

	if bufferRate != rate {
		return fmt.Errorf("%w: buffer %d Hz, model %d Hz", core.ErrSampleRateMismatch, bufferRate, rate)
	}

	format := Format{SampleRate: rate, BitDepth: p.bitDepth, Channels: monoChannels}

	err = format.Validate()
	if err != nil {
		return err
	}

	return writeAtomically(path, buffer.Samples, format)
}

func writeAtomically(path string, samples []float32, format Format) (err error) {
	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}

	tempName := tempFile.Name()

	defer func() {
		if err != nil {
			_ = os.Remove(tempName)
		}
	}()

	writeErr := EncodeWAV(tempFile, samples, format)
	closeErr := tempFile.Close()

	if writeErr != nil {
		return writeErr
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	err = os.Chmod(tempName, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tempName, err)
	}

	err = os.Rename(tempName, path)
	if err != nil {
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}

	return nil
}

// EncodeWAV writes samples as integer PCM WAV in the given format.
func EncodeWAV(output io.WriteSeeker, samples []float32, format Format) error {
	data := make([]int, len(samples))
	for i, sample := range samples {
		data[i] = floatToPCM(sample, format.BitDepth)
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           data,
		SourceBitDepth: format.BitDepth,
	}

	encoder := wav.NewEncoder(output, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)

	err := encoder.Write(buffer)
	if err != nil {
		return fmt.Errorf("write wav: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}

	return nil
}

// Inspect reopens a written artifact and reports its format.
func Inspect(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open %s: %w", path, err)
	}

	defer func() { _ = file.Close() }()

	decoded, err := DecodeWAV(file)
	if err != nil {
		return Info{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return decoded.Info, nil
}

package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDevice indicates an unrecognized device name.
	ErrInvalidDevice = errors.New("invalid device")
	// ErrHandleMissing indicates that no model handle was supplied.
	ErrHandleMissing = errors.New("model handle is missing")
	// ErrHandleReleased indicates that the model handle was already disposed.
	ErrHandleReleased = errors.New("model handle has been released")
	// ErrTextEmpty indicates that there is no text left to synthesize.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoicePromptNotFound indicates that the voice prompt file does not exist.
	ErrVoicePromptNotFound = errors.New("voice prompt not found")
	// ErrEmptyAudio indicates that the model returned no samples.
	ErrEmptyAudio = errors.New("model returned empty audio")
	// ErrInvalidSampleRate indicates a sample rate outside the supported range.
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	// ErrSampleRateMismatch indicates an attempt to persist audio at a rate other than
	// the one it was produced at.
	ErrSampleRateMismatch = errors.New("sample rate does not match the producing model")
	// ErrOutputPathEmpty indicates that no output path was supplied.
	ErrOutputPathEmpty = errors.New("output path cannot be empty")
)

// InitializationError is returned when the model cannot be loaded. It is fatal to the
// whole run.
type InitializationError struct {
	Requested Device
	Device    Device
	Err       error
}

func (e *InitializationError) Error() string {
	if e.Requested != e.Device {
		return fmt.Sprintf("initialize model on %s (requested %s): %v", e.Device, e.Requested, e.Err)
	}

	return fmt.Sprintf("initialize model on %s: %v", e.Device, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// ModelUnavailableError is returned when generation is attempted without a valid
// model handle.
type ModelUnavailableError struct {
	Operation string
	Err       error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("%s: model unavailable: %v", e.Operation, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// GenerationError is returned when a single generation fails. The caller may continue
// with the next request.
type GenerationError struct {
	Device      Device
	VoicePrompt string
	Err         error
}

func (e *GenerationError) Error() string {
	if e.VoicePrompt != "" {
		return fmt.Sprintf("generate on %s with voice prompt %s: %v", e.Device, e.VoicePrompt, e.Err)
	}

	return fmt.Sprintf("generate on %s: %v", e.Device, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceError is returned when an audio artifact cannot be written.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist audio to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsFatal reports whether err must terminate the run.
func IsFatal(err error) bool {
	var (
		initErr        *InitializationError
		unavailableErr *ModelUnavailableError
	)

	return errors.As(err, &initErr) || errors.As(err, &unavailableErr)
}

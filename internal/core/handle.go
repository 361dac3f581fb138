package core

import (
	"errors"
	"fmt"
)

// ModelHandle wraps the single loaded model of a session. It records the device the
// model was resolved to and its native sample rate. A handle is released once, after
// which every query fails.
type ModelHandle struct {
	model      Model
	requested  Device
	device     Device
	sampleRate float64
	released   bool
}

// NewModelHandle wraps a loaded model. The device must be concrete and the model
// must report a positive sample rate.
func NewModelHandle(model Model, requested, device Device) (*ModelHandle, error) {
	if model == nil {
		return nil, ErrHandleMissing
	}

	if !device.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDevice, device)
	}

	sampleRate := model.SampleRate()
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSampleRate, sampleRate)
	}

	return &ModelHandle{
		model:      model,
		requested:  requested,
		device:     device,
		sampleRate: sampleRate,
	}, nil
}

// Device returns the device the model lives on.
func (h *ModelHandle) Device() (Device, error) {
	err := h.check()
	if err != nil {
		return DeviceUnknown, err
	}

	return h.device, nil
}

// ResolvedDevice returns the device the handle was created for, even after release.
func (h *ModelHandle) ResolvedDevice() Device {
	if h == nil {
		return DeviceUnknown
	}

	return h.device
}

// RequestedDevice returns the caller's original preference.
func (h *ModelHandle) RequestedDevice() Device {
	if h == nil {
		return DeviceUnknown
	}

	return h.requested
}

// SampleRate returns the model's native sample rate.
func (h *ModelHandle) SampleRate() float64 {
	if h == nil {
		return 0
	}

	return h.sampleRate
}

// Model returns the wrapped model.
func (h *ModelHandle) Model() (Model, error) {
	err := h.check()
	if err != nil {
		return nil, err
	}

	return h.model, nil
}

// Released reports whether Release has run.
func (h *ModelHandle) Released() bool {
	return h == nil || h.released
}

// Release drops the model reference and closes it. Subsequent calls return
// ErrHandleReleased.
func (h *ModelHandle) Release() error {
	err := h.check()
	if err != nil {
		return err
	}

	model := h.model
	h.model = nil
	h.released = true

	closeErr := model.Close()
	if closeErr != nil {
		return fmt.Errorf("close model: %w", closeErr)
	}

	return nil
}

func (h *ModelHandle) check() error {
	if h == nil {
		return ErrHandleMissing
	}

	if h.released {
		return ErrHandleReleased
	}

	return nil
}

// IsHandleError reports whether err is one of the handle state errors.
func IsHandleError(err error) bool {
	return errors.Is(err, ErrHandleMissing) || errors.Is(err, ErrHandleReleased)
}

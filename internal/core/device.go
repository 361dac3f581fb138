package core

import (
	"fmt"
	"strings"
)

// Device is the execution device of a model.
type Device int

const (
	// DeviceUnknown is used only when a device query fails.
	DeviceUnknown Device = iota
	// DeviceHost is the host CPU.
	DeviceHost
	// DeviceAccelerator is a GPU or similar accelerator with its own memory pool.
	DeviceAccelerator
)

// Wire names used by the model runtimes.
const (
	wireAccelerator = "cuda"
	wireHost        = "cpu"
)

// String returns the human-readable device name.
func (d Device) String() string {
	switch d {
	case DeviceHost:
		return "host"
	case DeviceAccelerator:
		return "accelerator"
	case DeviceUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("device(%d)", int(d))
	}
}

// WireName returns the name understood by model runtimes ("cuda" or "cpu").
func (d Device) WireName() string {
	if d == DeviceAccelerator {
		return wireAccelerator
	}

	return wireHost
}

// Valid reports whether d is a concrete execution device.
func (d Device) Valid() bool {
	return d == DeviceHost || d == DeviceAccelerator
}

// ParseDevice parses a configured or wire device name.
func ParseDevice(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "accelerator", "gpu", wireAccelerator:
		return DeviceAccelerator, nil
	case "host", wireHost:
		return DeviceHost, nil
	default:
		return DeviceUnknown, fmt.Errorf("%w: %q", ErrInvalidDevice, name)
	}
}

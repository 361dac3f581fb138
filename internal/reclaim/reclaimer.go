// Package reclaim releases host and accelerator memory after each generation and at
// shutdown. Reclamation is best-effort: failures become warnings in the Report and
// lifecycle events, never errors.
package reclaim

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/book-expert/voice-synth/internal/core"
)

const (
	msgRuntimeMissing      = "no model runtime to collect"
	msgFmtRuntimeCollect   = "model runtime collector failed: %v"
	msgFmtDeviceQuery      = "device query failed, treating device as unknown: %v"
	msgFmtCacheClear       = "accelerator cache clear failed: %v"
	msgFmtCacheSkipped     = "accelerator cache clear skipped on %s device"
	msgFmtMoveToHost       = "move to host failed, releasing on accelerator: %v"
	msgFmtReleaseFailed    = "model release failed: %v"
	msgReleasedAlready     = "model handle already released"
	reportFieldSeparator   = ", "
	reportFmtDevice        = "device=%s"
	reportBufferReleased   = "buffer released"
	reportHostCollected    = "host collected"
	reportRuntimeCollected = "runtime collected"
	reportCacheCleared     = "cache cleared"
	reportCacheSkipped     = "cache skipped"
	reportMovedToHost      = "moved to host"
	reportHandleReleased   = "handle released"
	reportFmtWarningCount  = "%d warning(s)"
)

// Report describes what one reclamation cycle did.
type Report struct {
	Stage            core.Stage
	Device           core.Device
	BufferReleased   bool
	HostCollected    bool
	RuntimeCollected bool
	CacheCleared     bool
	CacheSkipped     bool
	MovedToHost      bool
	HandleReleased   bool
	Warnings         []string
}

// String summarizes the report on one line.
func (r Report) String() string {
	parts := []string{fmt.Sprintf(reportFmtDevice, r.Device)}

	flags := []struct {
		set   bool
		label string
	}{
		{r.MovedToHost, reportMovedToHost},
		{r.HandleReleased, reportHandleReleased},
		{r.BufferReleased, reportBufferReleased},
		{r.HostCollected, reportHostCollected},
		{r.RuntimeCollected, reportRuntimeCollected},
		{r.CacheCleared, reportCacheCleared},
		{r.CacheSkipped, reportCacheSkipped},
	}

	for _, flag := range flags {
		if flag.set {
			parts = append(parts, flag.label)
		}
	}

	if len(r.Warnings) > 0 {
		parts = append(parts, fmt.Sprintf(reportFmtWarningCount, len(r.Warnings)))
	}

	return strings.Join(parts, reportFieldSeparator)
}

// GoCollector runs this process's garbage collector and returns freed memory to the
// operating system.
func GoCollector() {
	runtime.GC()
	debug.FreeOSMemory()
}

// Reclaimer runs reclamation cycles against a model runtime.
type Reclaimer struct {
	runtime       core.Runtime
	hostCollector func()
	sink          core.EventSink
}

// NewReclaimer creates a Reclaimer. A nil hostCollector selects GoCollector; a nil
// sink discards events.
func NewReclaimer(modelRuntime core.Runtime, hostCollector func(), sink core.EventSink) *Reclaimer {
	if hostCollector == nil {
		hostCollector = GoCollector
	}

	if sink == nil {
		sink = core.NopSink{}
	}

	return &Reclaimer{
		runtime:       modelRuntime,
		hostCollector: hostCollector,
		sink:          sink,
	}
}

// Reclaim releases the buffer, runs the host collectors and clears the accelerator
// cache when the handle lives on the accelerator.
func (r *Reclaimer) Reclaim(ctx context.Context, handle *core.ModelHandle, buffer *core.AudioBuffer) Report {
	cycle := r.begin(core.StageReclaim, handle)

	device, err := handle.Device()
	if err != nil {
		cycle.report.Device = core.DeviceUnknown
		cycle.warn(fmt.Sprintf(msgFmtDeviceQuery, err), err)
	}

	r.collect(ctx, cycle, buffer, device, err == nil)

	return cycle.finish()
}

// Teardown disposes of the model. An accelerator model is first moved to the host,
// then the handle is released and a reclamation cycle runs against the device the
// handle was resolved to. A second teardown only runs the collectors.
func (r *Reclaimer) Teardown(ctx context.Context, handle *core.ModelHandle) Report {
	cycle := r.begin(core.StageTeardown, handle)

	device, err := handle.Device()
	if err != nil {
		message := fmt.Sprintf(msgFmtDeviceQuery, err)
		if core.IsHandleError(err) && handle != nil {
			message = msgReleasedAlready
		}

		cycle.report.Device = core.DeviceUnknown
		cycle.warn(message, err)
		r.collect(ctx, cycle, nil, core.DeviceUnknown, false)

		return cycle.finish()
	}

	if device == core.DeviceAccelerator {
		r.moveToHost(ctx, cycle, handle)
	}

	releaseErr := handle.Release()
	if releaseErr != nil {
		cycle.warn(fmt.Sprintf(msgFmtReleaseFailed, releaseErr), releaseErr)
	}

	cycle.report.HandleReleased = handle.Released()

	r.collect(ctx, cycle, nil, device, true)

	return cycle.finish()
}

func (r *Reclaimer) moveToHost(ctx context.Context, cycle *cycleRun, handle *core.ModelHandle) {
	loaded, err := handle.Model()
	if err == nil {
		err = loaded.MoveTo(ctx, core.DeviceHost)
	}

	if err != nil {
		cycle.warn(fmt.Sprintf(msgFmtMoveToHost, err), err)

		return
	}

	cycle.report.MovedToHost = true
}

// collect runs steps one to four of a cycle. Without a known device the cache step is
// skipped outright.
func (r *Reclaimer) collect(
	ctx context.Context,
	cycle *cycleRun,
	buffer *core.AudioBuffer,
	device core.Device,
	deviceKnown bool,
) {
	if buffer != nil {
		buffer.Release()
		cycle.report.BufferReleased = true
	}

	r.hostCollector()
	cycle.report.HostCollected = true

	if r.runtime == nil {
		cycle.warn(msgRuntimeMissing, nil)

		return
	}

	err := r.runtime.CollectGarbage(ctx)
	if err != nil {
		cycle.warn(fmt.Sprintf(msgFmtRuntimeCollect, err), err)
	} else {
		cycle.report.RuntimeCollected = true
	}

	if !deviceKnown {
		cycle.report.Device = core.DeviceUnknown
		cycle.report.CacheSkipped = true
		cycle.emit(core.StatusSkipped, fmt.Sprintf(msgFmtCacheSkipped, core.DeviceUnknown), nil)

		return
	}

	cycle.report.Device = device

	if device != core.DeviceAccelerator {
		cycle.report.CacheSkipped = true
		cycle.emit(core.StatusSkipped, fmt.Sprintf(msgFmtCacheSkipped, device), nil)

		return
	}

	err = r.runtime.EmptyAcceleratorCache(ctx)
	if err != nil {
		cycle.warn(fmt.Sprintf(msgFmtCacheClear, err), err)

		return
	}

	cycle.report.CacheCleared = true
}

// cycleRun accumulates the report and events of one reclamation run.
type cycleRun struct {
	sink      core.EventSink
	startedAt time.Time
	requested core.Device
	report    Report
}

func (r *Reclaimer) begin(stage core.Stage, handle *core.ModelHandle) *cycleRun {
	current := &cycleRun{
		sink:      r.sink,
		startedAt: time.Now(),
		requested: handle.RequestedDevice(),
		report: Report{
			Stage:  stage,
			Device: handle.ResolvedDevice(),
		},
	}

	current.emit(core.StatusStarted, "", nil)

	return current
}

func (c *cycleRun) warn(message string, err error) {
	c.report.Warnings = append(c.report.Warnings, message)
	c.emit(core.StatusWarning, message, err)
}

func (c *cycleRun) emit(status core.Status, message string, err error) {
	event := core.NewEvent(c.report.Stage, status)
	event.Requested = c.requested
	event.Device = c.report.Device
	event.Message = message
	event.Err = err
	c.sink.Emit(event)
}

func (c *cycleRun) finish() Report {
	event := core.NewEvent(c.report.Stage, core.StatusSucceeded)
	event.Requested = c.requested
	event.Device = c.report.Device
	event.Message = c.report.String()
	event.StartedAt = c.startedAt
	c.sink.Emit(event)

	return c.report
}

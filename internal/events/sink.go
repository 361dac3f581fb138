// Package events provides the lifecycle event sinks: the log file, a NATS subject,
// OpenTelemetry metrics and traces, a fan-out and an in-memory recorder.
package events

import (
	"sync"

	"github.com/book-expert/voice-synth/internal/core"
)

// Multi fans every event out to each non-nil sink in order.
type Multi []core.EventSink

// Emit implements core.EventSink.
func (m Multi) Emit(event core.Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(event)
		}
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []core.Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit implements core.EventSink.
func (r *Recorder) Emit(event core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]core.Event, len(r.events))
	copy(out, r.events)

	return out
}

// Filter returns the recorded events matching stage and status. An empty status
// matches every status.
func (r *Recorder) Filter(stage core.Stage, status core.Status) []core.Event {
	var matched []core.Event

	for _, event := range r.Events() {
		if event.Stage != stage {
			continue
		}

		if status != "" && event.Status != status {
			continue
		}

		matched = append(matched, event)
	}

	return matched
}

// Count returns the number of events matching stage and status.
func (r *Recorder) Count(stage core.Stage, status core.Status) int {
	return len(r.Filter(stage, status))
}

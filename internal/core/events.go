package core

import (
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline step an event belongs to.
type Stage string

// Pipeline stages.
const (
	StageDevice     Stage = "device"
	StageInitialize Stage = "initialize"
	StageGenerate   Stage = "generate"
	StagePersist    Stage = "persist"
	StageMirror     Stage = "mirror"
	StageReclaim    Stage = "reclaim"
	StageTeardown   Stage = "teardown"
)

// Status is the outcome carried by an event.
type Status string

// Event statuses.
const (
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusFallback  Status = "fallback"
	StatusSkipped   Status = "skipped"
	StatusWarning   Status = "warning"
)

// Event is a structured lifecycle notification.
type Event struct {
	ID        string
	Stage     Stage
	Status    Status
	Requested Device
	Device    Device
	Path      string
	Message   string
	Err       error
	StartedAt time.Time
	Time      time.Time
}

// NewEvent creates an event stamped with a fresh id and the current time.
func NewEvent(stage Stage, status Status) Event {
	return Event{
		ID:     uuid.NewString(),
		Stage:  stage,
		Status: status,
		Time:   time.Now(),
	}
}

// Terminal reports whether the event closes a started/finished pair.
func (e Event) Terminal() bool {
	return e.Status == StatusSucceeded || e.Status == StatusFailed
}

// Duration returns the time between StartedAt and Time for terminal events.
func (e Event) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.Time.Before(e.StartedAt) {
		return 0
	}

	return e.Time.Sub(e.StartedAt)
}

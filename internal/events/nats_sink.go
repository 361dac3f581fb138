package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/core"
	"github.com/nats-io/nats.go"
)

// ErrSubjectEmpty indicates that no NATS subject was configured for events.
var ErrSubjectEmpty = errors.New("events subject cannot be empty")

// LifecycleMessage is the JSON payload published for every lifecycle event.
type LifecycleMessage struct {
	Header     events.EventHeader `json:"header"`
	Stage      string             `json:"stage"`
	Status     string             `json:"status"`
	Requested  string             `json:"requested_device,omitempty"`
	Device     string             `json:"device,omitempty"`
	Path       string             `json:"path,omitempty"`
	Message    string             `json:"message,omitempty"`
	Error      string             `json:"error,omitempty"`
	DurationMS int64              `json:"duration_ms,omitempty"`
}

// NATSSink publishes lifecycle events to a NATS subject for external presenters.
type NATSSink struct {
	natsConnection *nats.Conn
	subject        string
	runID          string
	log            *logger.Logger
}

// NewNATSSink creates a NATSSink. runID becomes the workflow id of every message.
func NewNATSSink(natsConnection *nats.Conn, subject, runID string, log *logger.Logger) (*NATSSink, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	return &NATSSink{
		natsConnection: natsConnection,
		subject:        subject,
		runID:          runID,
		log:            log,
	}, nil
}

// Emit implements core.EventSink. Publish failures are logged and dropped.
func (s *NATSSink) Emit(event core.Event) {
	data, err := json.Marshal(s.toMessage(event))
	if err != nil {
		s.log.Warn("Failed to marshal lifecycle event %s: %v", event.ID, err)

		return
	}

	err = s.natsConnection.Publish(s.subject, data)
	if err != nil {
		s.log.Warn("Failed to publish lifecycle event to %s: %v", s.subject, err)
	}
}

func (s *NATSSink) toMessage(event core.Event) LifecycleMessage {
	msg := LifecycleMessage{
		Header: events.EventHeader{
			Timestamp:  event.Time,
			WorkflowID: s.runID,
			EventID:    event.ID,
			UserID:     "",
			TenantID:   "",
		},
		Stage:      string(event.Stage),
		Status:     string(event.Status),
		Requested:  "",
		Device:     "",
		Path:       event.Path,
		Message:    event.Message,
		Error:      "",
		DurationMS: event.Duration().Milliseconds(),
	}

	if event.Requested != core.DeviceUnknown {
		msg.Requested = event.Requested.String()
	}

	if event.Device != core.DeviceUnknown {
		msg.Device = event.Device.String()
	}

	if event.Err != nil {
		msg.Error = event.Err.Error()
	}

	return msg
}

// String describes the sink for startup logs.
func (s *NATSSink) String() string {
	return fmt.Sprintf("nats(%s)", s.subject)
}

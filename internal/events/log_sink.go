package events

import (
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-synth/internal/core"
)

const logFmtEvent = "[%s/%s] %s"

// LogSink writes events to the service log file.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

// Emit implements core.EventSink.
func (s *LogSink) Emit(event core.Event) {
	details := describe(event)

	switch event.Status {
	case core.StatusFailed:
		s.log.Error(logFmtEvent, event.Stage, event.Status, details)
	case core.StatusFallback, core.StatusWarning:
		s.log.Warn(logFmtEvent, event.Stage, event.Status, details)
	default:
		s.log.Info(logFmtEvent, event.Stage, event.Status, details)
	}
}

func describe(event core.Event) string {
	var parts []string

	if event.Message != "" {
		parts = append(parts, event.Message)
	}

	if event.Requested != core.DeviceUnknown && event.Requested != event.Device {
		parts = append(parts, "requested="+event.Requested.String())
	}

	if event.Device != core.DeviceUnknown || event.Stage == core.StageReclaim {
		parts = append(parts, "device="+event.Device.String())
	}

	if event.Path != "" {
		parts = append(parts, "path="+event.Path)
	}

	if duration := event.Duration(); duration > 0 {
		parts = append(parts, "took="+duration.String())
	}

	if event.Err != nil {
		parts = append(parts, "error="+event.Err.Error())
	}

	return strings.Join(parts, " ")
}

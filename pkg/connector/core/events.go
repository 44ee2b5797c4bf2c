package core

import (
	"time"
)

// Level is the severity of a job log entry
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// EventKind separates log entries from error entries
type EventKind string

const (
	EventLog   EventKind = "log"
	EventError EventKind = "error"
)

// Event is one append-only entry emitted by an adapter or an engine during
// a job run. The executor owning the job merges events into the job record.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// EventSink receives job events. Implementations must be safe for
// concurrent use since sub-fetch workers report through the same sink.
type EventSink interface {
	Log(level Level, message string)
	ReportError(message string, details map[string]interface{})
}

// NopSink discards all events. Used when an adapter is built without a job,
// for example to test a connection before a pipeline exists.
type NopSink struct{}

func (NopSink) Log(Level, string)                           {}
func (NopSink) ReportError(string, map[string]interface{}) {}

// SinkOrNop returns s, or NopSink when s is nil
func SinkOrNop(s EventSink) EventSink {
	if s == nil {
		return NopSink{}
	}
	return s
}

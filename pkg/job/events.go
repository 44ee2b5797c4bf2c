package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"go.uber.org/zap"
)

const defaultEventBuffer = 256

// Recorder is the event sink handed to adapters and engines during a run.
// Events go through a channel drained by one goroutine, which is the only
// writer of the job's logs and errors.
type Recorder struct {
	store  Store
	jobID  string
	logger *zap.Logger

	events chan core.Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	countMu  sync.Mutex
	errCount int
}

// NewRecorder starts the drain goroutine. Close must be called to flush.
func NewRecorder(store Store, jobID string, logger *zap.Logger) *Recorder {
	r := &Recorder{
		store:  store,
		jobID:  jobID,
		logger: logger,
		events: make(chan core.Event, defaultEventBuffer),
		done:   make(chan struct{}),
	}
	go r.drain()
	return r
}

// Log implements core.EventSink
func (r *Recorder) Log(level core.Level, message string) {
	r.emit(core.Event{Kind: core.EventLog, Level: level, Message: message})
}

// Logf formats and logs a message
func (r *Recorder) Logf(level core.Level, format string, args ...interface{}) {
	r.Log(level, fmt.Sprintf(format, args...))
}

// ReportError implements core.EventSink
func (r *Recorder) ReportError(message string, details map[string]interface{}) {
	r.countMu.Lock()
	r.errCount++
	r.countMu.Unlock()
	r.emit(core.Event{Kind: core.EventError, Level: core.LevelError, Message: message, Details: details})
}

// RecordFailure appends err with its type and structured details
func (r *Recorder) RecordFailure(err error) {
	details := errors.Details(err)
	details["error_type"] = string(errors.TypeOf(err))
	r.ReportError(err.Error(), details)
}

// ErrorsReported returns how many errors went through this recorder
func (r *Recorder) ErrorsReported() int {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	return r.errCount
}

func (r *Recorder) emit(ev core.Event) {
	ev.Timestamp = time.Now().UTC()

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("event after recorder closed", zap.String("message", ev.Message))
		return
	}
	r.events <- ev
}

func (r *Recorder) drain() {
	defer close(r.done)

	// the run context may already be cancelled; entries must still land
	ctx := context.Background()
	for ev := range r.events {
		var err error
		switch ev.Kind {
		case core.EventError:
			entry := ErrorEntry{Timestamp: ev.Timestamp, Message: ev.Message, Details: ev.Details}
			if t, ok := ev.Details["error_type"].(string); ok {
				entry.Type = t
			}
			err = r.store.AppendError(ctx, r.jobID, entry)
		default:
			err = r.store.AppendLog(ctx, r.jobID, LogEntry{
				Timestamp: ev.Timestamp,
				Level:     ev.Level,
				Message:   ev.Message,
				Details:   ev.Details,
			})
		}
		if err != nil {
			r.logger.Error("failed to persist job event",
				zap.String("kind", string(ev.Kind)),
				zap.String("message", ev.Message),
				zap.Error(err))
			continue
		}
		r.logger.Debug(ev.Message, zap.String("kind", string(ev.Kind)), zap.String("level", string(ev.Level)))
	}
}

// Close stops accepting events and waits until every queued one is stored
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	<-r.done
}

var _ core.EventSink = (*Recorder)(nil)

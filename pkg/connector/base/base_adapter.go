// Package base provides the BaseAdapter that every relay adapter embeds.
//
// BaseAdapter carries what all adapters share: the type key and kind, the
// opaque config, the event sink of the owning job, a component logger, and
// the auth-once guard that lets Fetch and Upload authenticate lazily.
//
// # Usage
//
//	type MySource struct {
//	    *base.BaseAdapter
//	    session *clients.Session
//	}
//
//	func NewMySource(cfg core.Config, sink core.EventSink) (core.Source, error) {
//	    return &MySource{
//	        BaseAdapter: base.NewBaseAdapter("my_source", core.AdapterKindSource, cfg, sink),
//	    }, nil
//	}
//
//	func (s *MySource) Fetch(ctx context.Context) (*core.FetchResult, error) {
//	    if err := s.EnsureAuthenticated(ctx, s.Authenticate); err != nil {
//	        return nil, err
//	    }
//	    ...
//	}
package base

import (
	"context"
	"sync"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/logger"
	"go.uber.org/zap"
)

// BaseAdapter provides common functionality for all adapters
type BaseAdapter struct {
	typeKey string
	kind    core.AdapterKind
	config  core.Config
	sink    core.EventSink
	logger  *zap.Logger

	// authFlight serializes login attempts; authMutex only guards the flag,
	// so Authenticate may call MarkAuthenticated while an attempt is running
	authFlight    sync.Mutex
	authMutex     sync.Mutex
	authenticated bool

	closeMutex sync.Mutex
	closed     bool
}

// NewBaseAdapter creates a base adapter. A nil sink discards job events.
func NewBaseAdapter(typeKey string, kind core.AdapterKind, cfg core.Config, sink core.EventSink) *BaseAdapter {
	if cfg == nil {
		cfg = core.Config{}
	}
	return &BaseAdapter{
		typeKey: typeKey,
		kind:    kind,
		config:  cfg,
		sink:    core.SinkOrNop(sink),
		logger: logger.Get().With(
			zap.String("adapter", typeKey),
			zap.String("kind", string(kind)),
		),
	}
}

// Type returns the adapter registry key
func (b *BaseAdapter) Type() string {
	return b.typeKey
}

// Kind returns whether this is a source or a destination
func (b *BaseAdapter) Kind() core.AdapterKind {
	return b.kind
}

// Config returns the raw adapter configuration
func (b *BaseAdapter) Config() core.Config {
	return b.config
}

// Sink returns the job event sink
func (b *BaseAdapter) Sink() core.EventSink {
	return b.sink
}

// GetLogger returns the adapter logger
func (b *BaseAdapter) GetLogger() *zap.Logger {
	return b.logger
}

// Log writes a job log entry and mirrors it to the process logger
func (b *BaseAdapter) Log(level core.Level, message string, fields ...zap.Field) {
	b.sink.Log(level, message)

	switch level {
	case core.LevelDebug:
		b.logger.Debug(message, fields...)
	case core.LevelWarning:
		b.logger.Warn(message, fields...)
	case core.LevelError:
		b.logger.Error(message, fields...)
	default:
		b.logger.Info(message, fields...)
	}
}

// ReportError appends a job error entry and mirrors it to the process logger
func (b *BaseAdapter) ReportError(message string, details map[string]interface{}) {
	b.sink.ReportError(message, details)
	b.logger.Error(message, zap.Any("details", details))
}

// EnsureAuthenticated runs authenticate unless a session already exists.
// Concurrent callers wait for the first attempt; a failed attempt leaves the
// adapter unauthenticated so the next call tries again.
func (b *BaseAdapter) EnsureAuthenticated(ctx context.Context, authenticate func(ctx context.Context) error) error {
	b.authFlight.Lock()
	defer b.authFlight.Unlock()

	if b.IsAuthenticated() {
		return nil
	}
	if err := authenticate(ctx); err != nil {
		return err
	}
	b.MarkAuthenticated()
	return nil
}

// MarkAuthenticated records that a session was established. Adapters call it
// from Authenticate so a later Fetch or Upload does not log in again.
func (b *BaseAdapter) MarkAuthenticated() {
	b.authMutex.Lock()
	b.authenticated = true
	b.authMutex.Unlock()
}

// ResetAuthentication drops the session flag, forcing the next Fetch or
// Upload to authenticate again
func (b *BaseAdapter) ResetAuthentication() {
	b.authMutex.Lock()
	b.authenticated = false
	b.authMutex.Unlock()
}

// IsAuthenticated reports whether a session exists
func (b *BaseAdapter) IsAuthenticated() bool {
	b.authMutex.Lock()
	defer b.authMutex.Unlock()
	return b.authenticated
}

// MarkClosed flags the adapter as closed. It returns false if it already was,
// so Close implementations release resources once.
func (b *BaseAdapter) MarkClosed() bool {
	b.closeMutex.Lock()
	defer b.closeMutex.Unlock()

	if b.closed {
		return false
	}
	b.closed = true
	b.authMutex.Lock()
	b.authenticated = false
	b.authMutex.Unlock()
	b.logger.Debug("adapter closed")
	return true
}

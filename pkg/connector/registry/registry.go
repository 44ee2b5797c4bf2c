package registry

import (
	"sort"
	"sync/atomic"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/logger"
	"go.uber.org/zap"
)

// SourceFactory creates a source adapter from its opaque config. The sink
// is the job handle the adapter reports logs and errors through.
type SourceFactory func(cfg core.Config, sink core.EventSink) (core.Source, error)

// DestinationFactory creates a destination adapter from its opaque config.
type DestinationFactory func(cfg core.Config, sink core.EventSink) (core.Destination, error)

// Registry maps adapter type keys to constructors. It is filled by explicit
// registration during package initialization and is read-only afterwards,
// so lookups take no lock. Registration after Seal fails.
type Registry struct {
	sources      map[string]SourceFactory
	destinations map[string]DestinationFactory
	sealed       atomic.Bool
	logger       *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry()

// NewRegistry creates a new, unsealed adapter registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(map[string]SourceFactory),
		destinations: make(map[string]DestinationFactory),
		logger:       logger.Get().With(zap.String("component", "adapter_registry")),
	}
}

// RegisterSource registers a source adapter factory
func (r *Registry) RegisterSource(typeKey string, factory SourceFactory) error {
	if r.sealed.Load() {
		return errors.Newf(errors.ErrorTypeConfig, "registry is sealed, cannot register source %s", typeKey)
	}
	if _, exists := r.sources[typeKey]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "source adapter %s already registered", typeKey)
	}

	r.sources[typeKey] = factory
	r.logger.Debug("source adapter registered", zap.String("type", typeKey))
	return nil
}

// RegisterDestination registers a destination adapter factory
func (r *Registry) RegisterDestination(typeKey string, factory DestinationFactory) error {
	if r.sealed.Load() {
		return errors.Newf(errors.ErrorTypeConfig, "registry is sealed, cannot register destination %s", typeKey)
	}
	if _, exists := r.destinations[typeKey]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "destination adapter %s already registered", typeKey)
	}

	r.destinations[typeKey] = factory
	r.logger.Debug("destination adapter registered", zap.String("type", typeKey))
	return nil
}

// Seal makes the registry read-only
func (r *Registry) Seal() {
	r.sealed.Store(true)
}

// ResolveSource returns the factory registered for typeKey
func (r *Registry) ResolveSource(typeKey string) (SourceFactory, error) {
	factory, ok := r.sources[typeKey]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeAdapterNotFound, "source adapter '%s' not found", typeKey).
			WithDetail("adapter_type", typeKey).
			WithDetail("kind", string(core.AdapterKindSource))
	}
	return factory, nil
}

// ResolveDestination returns the factory registered for typeKey
func (r *Registry) ResolveDestination(typeKey string) (DestinationFactory, error) {
	factory, ok := r.destinations[typeKey]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeAdapterNotFound, "destination adapter '%s' not found", typeKey).
			WithDetail("adapter_type", typeKey).
			WithDetail("kind", string(core.AdapterKindDestination))
	}
	return factory, nil
}

// LoadSource constructs a source adapter and validates its configuration.
// No network call happens here.
func (r *Registry) LoadSource(typeKey string, cfg core.Config, sink core.EventSink) (core.Source, error) {
	factory, err := r.ResolveSource(typeKey)
	if err != nil {
		return nil, err
	}

	source, err := factory(cfg, core.SinkOrNop(sink))
	if err != nil {
		return nil, asConfigError(err, typeKey)
	}
	if err := source.ValidateConfig(); err != nil {
		return nil, asConfigError(err, typeKey)
	}
	return source, nil
}

// LoadDestination constructs a destination adapter and validates its configuration.
func (r *Registry) LoadDestination(typeKey string, cfg core.Config, sink core.EventSink) (core.Destination, error) {
	factory, err := r.ResolveDestination(typeKey)
	if err != nil {
		return nil, err
	}

	destination, err := factory(cfg, core.SinkOrNop(sink))
	if err != nil {
		return nil, asConfigError(err, typeKey)
	}
	if err := destination.ValidateConfig(); err != nil {
		return nil, asConfigError(err, typeKey)
	}
	return destination, nil
}

// asConfigError keeps configuration errors as they are and wraps anything
// else so construction failures are never retried.
func asConfigError(err error, typeKey string) error {
	if errors.IsType(err, errors.ErrorTypeConfig) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create adapter "+typeKey)
}

// Sources returns the registered source type keys, sorted
func (r *Registry) Sources() []string {
	keys := make([]string, 0, len(r.sources))
	for k := range r.sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Destinations returns the registered destination type keys, sorted
func (r *Registry) Destinations() []string {
	keys := make([]string, 0, len(r.destinations))
	for k := range r.destinations {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Global registry functions

// RegisterSource registers a source adapter in the global registry
func RegisterSource(typeKey string, factory SourceFactory) error {
	return globalRegistry.RegisterSource(typeKey, factory)
}

// RegisterDestination registers a destination adapter in the global registry
func RegisterDestination(typeKey string, factory DestinationFactory) error {
	return globalRegistry.RegisterDestination(typeKey, factory)
}

// LoadSource constructs a source adapter from the global registry
func LoadSource(typeKey string, cfg core.Config, sink core.EventSink) (core.Source, error) {
	return globalRegistry.LoadSource(typeKey, cfg, sink)
}

// LoadDestination constructs a destination adapter from the global registry
func LoadDestination(typeKey string, cfg core.Config, sink core.EventSink) (core.Destination, error) {
	return globalRegistry.LoadDestination(typeKey, cfg, sink)
}

// Sources returns registered sources from the global registry
func Sources() []string {
	return globalRegistry.Sources()
}

// Destinations returns registered destinations from the global registry
func Destinations() []string {
	return globalRegistry.Destinations()
}

// Default returns the global registry instance
func Default() *Registry {
	return globalRegistry
}

// Loader is the registry surface the job executor depends on
type Loader interface {
	LoadSource(typeKey string, cfg core.Config, sink core.EventSink) (core.Source, error)
	LoadDestination(typeKey string, cfg core.Config, sink core.EventSink) (core.Destination, error)
}

var _ Loader = (*Registry)(nil)

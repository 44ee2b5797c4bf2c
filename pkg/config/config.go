// Package config provides the application configuration for relay.
//
// The configuration is organized into logical sections:
//   - Log: Logger level and encoding
//   - Executor: Retry policy and per-call timeouts
//   - Extract: Default page size and sub-fetch workers for sources
//   - Store: Job store driver (memory, postgres)
//   - Queue: Task dispatcher driver (local, kafka)
//   - Metrics: Prometheus endpoint
//   - Tracing: OpenTelemetry exporter
//
// Values come from defaults, then relay.yaml, then RELAY_* environment
// variables, then command line flags bound to the same viper instance.
//
// Example usage:
//
//	v := config.NewViper()
//	cfg, err := config.LoadAppConfig(v, "relay.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.Executor.RetryPolicy()
package config

import (
	"strings"
	"time"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/job"
	"github.com/ajitpratap0/relay/pkg/logger"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/queue"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides, e.g. RELAY_STORE_DSN
const EnvPrefix = "RELAY"

// Store and queue drivers
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	QueueLocal    = "local"
	QueueKafka    = "kafka"
)

// AppConfig is the process-wide configuration of the relay binary
type AppConfig struct {
	Log      LogConfig                   `mapstructure:"log" yaml:"log"`
	Executor ExecutorConfig              `mapstructure:"executor" yaml:"executor"`
	Extract  ExtractConfig               `mapstructure:"extract" yaml:"extract"`
	Store    StoreConfig                 `mapstructure:"store" yaml:"store"`
	Queue    QueueConfig                 `mapstructure:"queue" yaml:"queue"`
	Metrics  MetricsConfig               `mapstructure:"metrics" yaml:"metrics"`
	Tracing  observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	// Pipelines is the pipeline definitions file
	Pipelines string `mapstructure:"pipelines" yaml:"pipelines"`
}

// LogConfig configures the global zap logger
type LogConfig struct {
	// Level sets logging verbosity (debug, info, warn, error)
	Level string `mapstructure:"level" yaml:"level"`
	// Encoding is json or console
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// ExecutorConfig controls job retries
type ExecutorConfig struct {
	// MaxRetries is how many times a transient failure is retried
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// BackoffBase is the first retry delay; each retry doubles it
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	// MaxBackoff caps the retry delay (0 = uncapped)
	MaxBackoff time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	// CallTimeout bounds each single network call made by adapters
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	// CancelPoll is how often a running job checks the store for a
	// cancellation made by another process (0 = never)
	CancelPoll time.Duration `mapstructure:"cancel_poll" yaml:"cancel_poll"`
}

// ExtractConfig holds source defaults applied when a pipeline leaves them out
type ExtractConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
	Workers  int `mapstructure:"workers" yaml:"workers"`
}

// StoreConfig selects the job store
type StoreConfig struct {
	Driver         string        `mapstructure:"driver" yaml:"driver"`
	DSN            string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConns       int32         `mapstructure:"max_conns" yaml:"max_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// QueueConfig selects the task dispatcher
type QueueConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Concurrency bounds how many tasks the local dispatcher runs at once
	Concurrency int               `mapstructure:"concurrency" yaml:"concurrency"`
	Kafka       queue.KafkaConfig `mapstructure:"kafka" yaml:"kafka"`
}

// MetricsConfig configures the Prometheus endpoint of the worker
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewViper returns a viper instance carrying relay defaults and reading
// RELAY_* environment overrides
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers every configuration key with its default. Keys
// without a default are invisible to environment overrides.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)

	retry := job.DefaultRetryPolicy()
	v.SetDefault("executor.max_retries", retry.MaxRetries)
	v.SetDefault("executor.backoff_base", retry.BaseDelay)
	v.SetDefault("executor.max_backoff", retry.MaxDelay)
	v.SetDefault("executor.call_timeout", 30*time.Second)
	v.SetDefault("executor.cancel_poll", time.Duration(0))

	v.SetDefault("extract.page_size", 100)
	v.SetDefault("extract.workers", 5)

	v.SetDefault("store.driver", StoreMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.connect_timeout", 10*time.Second)

	kafka := queue.DefaultKafkaConfig()
	v.SetDefault("queue.driver", QueueLocal)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.kafka.brokers", []string{})
	v.SetDefault("queue.kafka.topic", kafka.Topic)
	v.SetDefault("queue.kafka.group_id", kafka.GroupID)
	v.SetDefault("queue.kafka.client_id", kafka.ClientID)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	tracing := observability.DefaultTracingConfig()
	v.SetDefault("tracing.service_name", tracing.ServiceName)
	v.SetDefault("tracing.service_version", tracing.ServiceVersion)
	v.SetDefault("tracing.environment", tracing.Environment)
	v.SetDefault("tracing.sampling_rate", tracing.SamplingRate)
	v.SetDefault("tracing.exporter", tracing.Exporter)
	v.SetDefault("tracing.batch_timeout", tracing.BatchTimeout)

	v.SetDefault("pipelines", "pipelines.yaml")
}

// LoadAppConfig reads path into v and decodes the result. With an empty
// path relay.yaml is searched in the working directory and $HOME/.relay;
// not finding it is fine. An explicit path that cannot be read is an error.
func LoadAppConfig(v *viper.Viper, path string) (*AppConfig, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.relay")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound || path != "" {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and driver names
func (c *AppConfig) Validate() error {
	switch {
	case c.Executor.MaxRetries < 0:
		return fieldError("executor.max_retries", "cannot be negative")
	case c.Executor.BackoffBase <= 0:
		return fieldError("executor.backoff_base", "must be positive")
	case c.Executor.CallTimeout <= 0:
		return fieldError("executor.call_timeout", "must be positive")
	case c.Extract.PageSize <= 0:
		return fieldError("extract.page_size", "must be positive")
	case c.Extract.Workers <= 0:
		return fieldError("extract.workers", "must be positive")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.DSN == "" {
			return fieldError("store.dsn", "is required for the postgres driver")
		}
	default:
		return fieldError("store.driver", "must be one of memory, postgres")
	}

	switch c.Queue.Driver {
	case QueueLocal:
		if c.Queue.Concurrency <= 0 {
			return fieldError("queue.concurrency", "must be positive")
		}
	case QueueKafka:
		if len(c.Queue.Kafka.Brokers) == 0 {
			return fieldError("queue.kafka.brokers", "is required for the kafka driver")
		}
	default:
		return fieldError("queue.driver", "must be one of local, kafka")
	}
	return nil
}

func fieldError(field, reason string) *errors.Error {
	return errors.Newf(errors.ErrorTypeConfig, "%s %s", field, reason).WithDetail("field", field)
}

// Logger returns the logger configuration
func (l LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:       l.Level,
		Development: l.Development,
		Encoding:    l.Encoding,
	}
}

// RetryPolicy returns the executor retry policy
func (e ExecutorConfig) RetryPolicy() job.RetryPolicy {
	return job.RetryPolicy{
		MaxRetries: e.MaxRetries,
		BaseDelay:  e.BackoffBase,
		MaxDelay:   e.MaxBackoff,
	}
}

// Postgres returns the PostgreSQL store configuration
func (s StoreConfig) Postgres() job.PostgresConfig {
	return job.PostgresConfig{
		DSN:            s.DSN,
		MaxConns:       s.MaxConns,
		ConnectTimeout: s.ConnectTimeout,
	}
}

// ApplyAdapterDefaults fills the page size, worker count and call timeout
// into adapter configs that do not set them. Pipeline values always win.
func (c *AppConfig) ApplyAdapterDefaults(p *job.Pipeline) {
	if p.SourceConfig == nil {
		p.SourceConfig = core.Config{}
	}
	if p.DestinationConfig == nil {
		p.DestinationConfig = core.Config{}
	}
	timeout := int(c.Executor.CallTimeout / time.Second)

	setDefault(p.SourceConfig, "page_size", c.Extract.PageSize)
	setDefault(p.SourceConfig, "workers", c.Extract.Workers)
	setDefault(p.SourceConfig, "timeout_seconds", timeout)
	setDefault(p.DestinationConfig, "timeout_seconds", timeout)
}

func setDefault(cfg core.Config, key string, value interface{}) {
	if v, ok := cfg[key]; !ok || v == nil {
		cfg[key] = value
	}
}

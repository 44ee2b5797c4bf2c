package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppConfig_Defaults(t *testing.T) {
	cfg, err := LoadAppConfig(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 3, cfg.Executor.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Executor.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Executor.CallTimeout)
	assert.Equal(t, 100, cfg.Extract.PageSize)
	assert.Equal(t, 5, cfg.Extract.Workers)
	assert.Equal(t, StoreMemory, cfg.Store.Driver)
	assert.Equal(t, QueueLocal, cfg.Queue.Driver)
	assert.Equal(t, "relay.jobs", cfg.Queue.Kafka.Topic)
	assert.Equal(t, "none", cfg.Tracing.Exporter)

	policy := cfg.Executor.RetryPolicy()
	assert.Equal(t, 120*time.Second, policy.Delay(1))
}

func TestLoadAppConfig_FileAndEnv(t *testing.T) {
	path := writeFile(t, "relay.yaml", `
log:
  level: debug
executor:
  max_retries: 5
  backoff_base: 2s
store:
  driver: postgres
  dsn: postgres://relay@localhost/relay
queue:
  driver: kafka
  kafka:
    brokers: [broker-1:9092]
`)
	t.Setenv("RELAY_EXECUTOR_MAX_RETRIES", "1")
	t.Setenv("RELAY_QUEUE_KAFKA_TOPIC", "relay.test")

	cfg, err := LoadAppConfig(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 1, cfg.Executor.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Executor.BackoffBase)
	assert.Equal(t, "postgres://relay@localhost/relay", cfg.Store.Postgres().DSN)
	assert.Equal(t, []string{"broker-1:9092"}, cfg.Queue.Kafka.Brokers)
	assert.Equal(t, "relay.test", cfg.Queue.Kafka.Topic)
}

func TestLoadAppConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"postgres without dsn", "store:\n  driver: postgres\n", "store.dsn"},
		{"unknown store", "store:\n  driver: sqlite\n", "store.driver"},
		{"kafka without brokers", "queue:\n  driver: kafka\n", "queue.kafka.brokers"},
		{"zero page size", "extract:\n  page_size: 0\n", "extract.page_size"},
		{"negative retries", "executor:\n  max_retries: -1\n", "executor.max_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadAppConfig(NewViper(), writeFile(t, "relay.yaml", tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Equal(t, tt.field, errors.Details(err)["field"])
		})
	}

	_, err := LoadAppConfig(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestApplyAdapterDefaults(t *testing.T) {
	cfg := &AppConfig{
		Executor: ExecutorConfig{CallTimeout: 45 * time.Second},
		Extract:  ExtractConfig{PageSize: 250, Workers: 8},
	}
	p := &job.Pipeline{SourceConfig: core.Config{"page_size": 10}}
	cfg.ApplyAdapterDefaults(p)

	assert.Equal(t, 10, p.SourceConfig["page_size"])
	assert.Equal(t, 8, p.SourceConfig["workers"])
	assert.Equal(t, 45, p.SourceConfig["timeout_seconds"])
	assert.Equal(t, 45, p.DestinationConfig["timeout_seconds"])
}

func TestLoadPipelines(t *testing.T) {
	t.Setenv("ALM_PASSWORD", "s3cret")
	path := writeFile(t, "pipelines.yaml", `
pipelines:
  - id: defects-to-jira
    name: Defects to Jira
    source_type: alm
    source_config:
      base_url: https://alm.example.com
      username: qa
      password: ${ALM_PASSWORD}
      domain: ${ALM_DOMAIN:-DEFAULT}
      project: Relay
      filters:
        status: Open
    destination_type: jira
    destination_config:
      base_url: https://jira.example.com
      project_key: REL
    transform_config:
      fields:
        summary: name
`)

	pipelines, err := LoadPipelines(path)
	require.NoError(t, err)
	require.Len(t, pipelines, 1)

	p := pipelines[0]
	assert.Equal(t, "alm", p.SourceType)
	assert.Equal(t, "s3cret", p.SourceConfig["password"])
	assert.Equal(t, "DEFAULT", p.SourceConfig["domain"])
	assert.Equal(t, map[string]interface{}{"status": "Open"}, p.SourceConfig["filters"])
	assert.Equal(t, "REL", p.DestinationConfig["project_key"])

	found, err := FindPipeline(pipelines, "defects-to-jira")
	require.NoError(t, err)
	assert.Same(t, p, found)
	_, err = FindPipeline(pipelines, "other")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestLoadPipelines_NestedMappingsArePlain(t *testing.T) {
	path := writeFile(t, "pipelines.yaml", `
pipelines:
  - id: file-to-file
    source_type: json
    source_config:
      path: in.jsonl
    destination_type: json
    destination_config:
      path: out.jsonl
      field_mapping:
        title: name
      extra:
        - labels:
            team: qa
`)

	pipelines, err := LoadPipelines(path)
	require.NoError(t, err)
	dest := pipelines[0].DestinationConfig

	mapping, err := base.OptionalStringMap(dest, "field_mapping")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "name"}, mapping)

	extra, ok := dest["extra"].([]interface{})
	require.True(t, ok)
	assert.IsType(t, map[string]interface{}{}, extra[0])
	assert.IsType(t, map[string]interface{}{}, extra[0].(map[string]interface{})["labels"])
}

func TestLoadPipelines_Invalid(t *testing.T) {
	dup := writeFile(t, "dup.yaml", `
pipelines:
  - {id: a, source_type: json, destination_type: json}
  - {id: a, source_type: json, destination_type: json}
`)
	_, err := LoadPipelines(dup)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	missing := writeFile(t, "missing.yaml", `
pipelines:
  - {id: a, source_type: json}
`)
	_, err = LoadPipelines(missing)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Equal(t, 0, errors.Details(err)["index"])
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_VALUE", "${NESTED}")
	assert.Equal(t, "a ${NESTED} b", substituteEnvVars("a ${RELAY_TEST_VALUE} b"))
	assert.Equal(t, "x=fallback", substituteEnvVars("x=${RELAY_TEST_UNSET:-fallback}"))
	assert.Equal(t, "x=", substituteEnvVars("x=${RELAY_TEST_UNSET}"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}

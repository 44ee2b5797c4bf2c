package config

import (
	"os"
	"strings"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/job"
	"gopkg.in/yaml.v3"
)

// PipelineFile is the on-disk layout of pipeline definitions
type PipelineFile struct {
	Pipelines []*job.Pipeline `yaml:"pipelines"`
}

// Load reads a YAML file into out after substituting ${VAR} references
func Load(filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is operator supplied
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read config file").
			WithDetail("path", filePath)
	}

	content := substituteEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(content), out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").
			WithDetail("path", filePath)
	}
	return nil
}

// LoadPipelines reads and validates pipeline definitions. Pipeline ids must
// be unique within the file.
func LoadPipelines(filePath string) ([]*job.Pipeline, error) {
	var file PipelineFile
	if err := Load(filePath, &file); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(file.Pipelines))
	for i, p := range file.Pipelines {
		if p == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "pipeline %d is empty", i).
				WithDetail("path", filePath)
		}
		if err := p.Validate(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid pipeline definition").
				WithDetail("path", filePath).
				WithDetail("index", i)
		}
		p.SourceConfig = plainConfig(p.SourceConfig)
		p.DestinationConfig = plainConfig(p.DestinationConfig)
		p.TransformConfig = plainConfig(p.TransformConfig)
		if _, dup := seen[p.ID]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "duplicate pipeline id %q", p.ID).
				WithDetail("path", filePath)
		}
		seen[p.ID] = struct{}{}
	}
	return file.Pipelines, nil
}

// plainConfig rewrites nested mappings, which yaml.v3 decodes into the
// named core.Config type, as map[string]interface{} so adapters see the
// same shapes whether a pipeline came from YAML or from the job store
func plainConfig(cfg core.Config) core.Config {
	if cfg == nil {
		return nil
	}
	for k, v := range cfg {
		cfg[k] = plainValue(v)
	}
	return cfg
}

func plainValue(v interface{}) interface{} {
	switch val := v.(type) {
	case core.Config:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = plainValue(item)
		}
		return out
	case map[string]interface{}:
		for k, item := range val {
			val[k] = plainValue(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = plainValue(item)
		}
		return val
	default:
		return v
	}
}

// FindPipeline returns the pipeline with id
func FindPipeline(pipelines []*job.Pipeline, id string) (*job.Pipeline, error) {
	for _, p := range pipelines {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeNotFound, "pipeline %q is not defined", id).
		WithDetail("pipeline_id", id)
}

// substituteEnvVars replaces ${VAR_NAME} with the environment value and
// ${VAR_NAME:-default} with default when VAR_NAME is unset or empty.
// Substituted text is not scanned again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		name := content[start+2 : end]
		def := ""
		if i := strings.Index(name, ":-"); i >= 0 {
			name, def = name[:i], name[i+2:]
		}
		value := os.Getenv(name)
		if value == "" {
			value = def
		}

		b.WriteString(content[:start])
		b.WriteString(value)
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}

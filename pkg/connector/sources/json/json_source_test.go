package json

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	logs   []string
	errors []string
}

func (c *captureSink) Log(_ core.Level, message string) { c.logs = append(c.logs, message) }
func (c *captureSink) ReportError(message string, _ map[string]interface{}) {
	c.errors = append(c.errors, message)
}

func newSource(t *testing.T, cfg core.Config, sink core.EventSink) *JSONSource {
	t.Helper()
	src, err := NewJSONSource(cfg, sink)
	require.NoError(t, err)
	require.NoError(t, src.ValidateConfig())
	return src.(*JSONSource)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestJSONSource_FetchAuthenticatesOnFirstUse(t *testing.T) {
	path := writeFile(t, `{"id": 1}`+"\n")
	src := newSource(t, core.Config{"path": path}, nil)

	type fetched struct {
		result *core.FetchResult
		err    error
	}
	done := make(chan fetched, 1)
	go func() {
		result, err := src.Fetch(context.Background())
		done <- fetched{result, err}
	}()

	select {
	case f := <-done:
		require.NoError(t, f.err)
		assert.Len(t, f.result.Records, 1)
		assert.True(t, src.IsAuthenticated())
	case <-time.After(3 * time.Second):
		t.Fatal("Fetch did not return without a prior Authenticate")
	}
}

func TestJSONSource_Lines(t *testing.T) {
	path := writeFile(t, `{"id": 1, "name": "a"}

{"id": 2, "name": "b"}
not json
{"id": 3, "name": "c", "nested": {"x": true}}
`)
	sink := &captureSink{}
	src := newSource(t, core.Config{"path": path}, sink)

	result, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "3", result.Records[2].ID())
	v, ok := result.Records[2].Lookup("nested.x")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, 4, result.Errors[0].Details["line"])
	assert.Equal(t, []string{"Failed to parse JSON on line 4"}, sink.errors)
}

func TestJSONSource_ArrayWithLimit(t *testing.T) {
	path := writeFile(t, `[{"id": "a"}, {"id": "b"}, {"id": "c"}]`)
	src := newSource(t, core.Config{"path": path, "format": "array", "max_records": 2}, nil)

	result, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "b", result.Records[1].ID())

	bad := newSource(t, core.Config{"path": writeFile(t, `{"id": 1}`), "format": "array"}, nil)
	_, err = bad.Fetch(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestJSONSource_Config(t *testing.T) {
	tests := []struct {
		name  string
		cfg   core.Config
		field string
	}{
		{"missing path", core.Config{}, "path"},
		{"bad format", core.Config{"path": "x", "format": "csv"}, "format"},
		{"negative limit", core.Config{"path": "x", "max_records": -1}, "max_records"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewJSONSource(tt.cfg, nil)
			require.NoError(t, err)
			err = src.ValidateConfig()
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Equal(t, tt.field, errors.Details(err)["field"])
		})
	}
}

func TestJSONSource_TestConnection(t *testing.T) {
	ok := newSource(t, core.Config{"path": writeFile(t, "")}, nil)
	assert.True(t, ok.TestConnection(context.Background()).OK())

	missing := newSource(t, core.Config{"path": filepath.Join(t.TempDir(), "nope.json")}, nil)
	res := missing.TestConnection(context.Background())
	assert.Equal(t, core.ConnectionStatusError, res.Status)
	assert.NotEmpty(t, res.Message)

	_, err := missing.Fetch(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

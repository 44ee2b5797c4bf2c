package json

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	jsoncodec "github.com/ajitpratap0/relay/pkg/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDestination(t *testing.T, cfg core.Config) *JSONDestination {
	t.Helper()
	dest, err := NewJSONDestination(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, dest.ValidateConfig())
	t.Cleanup(func() { _ = dest.Close(context.Background()) })
	return dest.(*JSONDestination)
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var m map[string]interface{}
		require.NoError(t, jsoncodec.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestJSONDestination_AppendsWithLineNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	dest := newDestination(t, core.Config{
		"path":          path,
		"field_mapping": map[string]interface{}{"title": "name", "owner": "fields.owner"},
	})

	records := []core.Record{
		{"id": "1", "name": "first", "fields": map[string]interface{}{"owner": "qa"}},
		{"id": "2", "name": "second"},
	}
	result, err := dest.Upload(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, "1", result.Created[0].DestinationID)
	assert.Equal(t, "2", result.Created[1].DestinationID)
	assert.Equal(t, "2", result.Created[1].SourceID)

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, map[string]interface{}{"title": "first", "owner": "qa"}, lines[0])
	assert.Equal(t, map[string]interface{}{"title": "second"}, lines[1])
}

func TestJSONDestination_ContinuesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"id\":\"a\"}\n{\"id\":\"b\"}"), 0o600))

	dest := newDestination(t, core.Config{"path": path})
	result, err := dest.Upload(context.Background(), []core.Record{{"id": "c"}})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Equal(t, "3", result.Created[0].DestinationID)

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "c", lines[2]["id"])
}

func TestJSONDestination_Config(t *testing.T) {
	dest, err := NewJSONDestination(core.Config{}, nil)
	require.NoError(t, err)
	err = dest.ValidateConfig()
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	noDirs := newDestination(t, core.Config{
		"path":        filepath.Join(t.TempDir(), "missing", "out.jsonl"),
		"create_dirs": false,
	})
	assert.False(t, noDirs.TestConnection(context.Background()).OK())
	_, err = noDirs.Upload(context.Background(), []core.Record{{"id": 1}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
}

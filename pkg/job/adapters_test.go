package job_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/ajitpratap0/relay/pkg/connector/destinations/json"
	_ "github.com/ajitpratap0/relay/pkg/connector/sources/json"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_JSONToJSONThroughRegistry(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.jsonl")
	output := filepath.Join(dir, "out", "issues.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(
		`{"id":"1","name":"Crash on login"}`+"\n"+
			`{"id":"2","name":"Typo in footer"}`+"\n"), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := job.NewMemoryStore()
	require.NoError(t, store.SavePipeline(ctx, &job.Pipeline{
		ID:              "defects-to-file",
		Name:            "Defects to file",
		SourceType:      "json",
		SourceConfig:    core.Config{"path": input},
		DestinationType: "json",
		DestinationConfig: core.Config{
			"path":          output,
			"field_mapping": core.Config{"title": "name"},
		},
	}))

	exec, err := job.NewExecutor(job.Options{Store: store, Retry: job.NoRetryPolicy()})
	require.NoError(t, err)

	out, err := exec.Execute(ctx, "defects-to-file", "")
	require.NoError(t, err)
	require.NoError(t, out.Err)
	assert.Equal(t, job.StatusCompleted, out.Status)

	j, err := store.GetJob(ctx, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, j.SourceRecordCount)
	assert.Equal(t, 2, j.DestinationRecordCount)
	assert.Zero(t, j.ErrorCount)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"title":"Crash on login"`)
	assert.Contains(t, lines[1], `"title":"Typo in footer"`)
}

package almtree

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ajitpratap0/relay/pkg/compression"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/connector/shared/alm/almtest"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLabConfig(server *almtest.Server, extra core.Config) core.Config {
	cfg := core.Config{
		"base_url":   server.URL,
		"username":   almtest.Username,
		"password":   almtest.Password,
		"domain":     "DEFAULT",
		"project":    "Relay",
		"rate_limit": 1000,
		"path":       "Release 1/Sprint 1",
	}
	for k, v := range extra {
		cfg[k] = v
	}
	return cfg
}

func newTestLab(t *testing.T, cfg core.Config) *TestLabSource {
	t.Helper()
	src, err := NewTestLabSource(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, src.ValidateConfig())
	t.Cleanup(func() { _ = src.Close(context.Background()) })
	return src.(*TestLabSource)
}

// seedTestLab builds Root > Release 1 > Sprint 1 with two test sets
func seedTestLab(server *almtest.Server) {
	server.Add("test-set-folders",
		almtest.Entity{Parent: "0", Fields: core.Record{"id": "1", "name": "Release 1"}},
		almtest.Entity{Parent: "1", Fields: core.Record{"id": "2", "name": "Sprint 1"}},
		almtest.Entity{Parent: "1", Fields: core.Record{"id": "3", "name": "Sprint 2"}},
	)
	server.Add("test-sets",
		almtest.Entity{Parent: "2", Fields: core.Record{"id": "10", "name": "Smoke"}},
		almtest.Entity{Parent: "2", Fields: core.Record{"id": "11", "name": "Regression"}},
		almtest.Entity{Parent: "3", Fields: core.Record{"id": "12", "name": "Elsewhere"}},
	)
	server.Add("test-instances",
		almtest.Entity{Parent: "10", Fields: core.Record{"id": "100", "name": "Login", "status": "Passed"}},
		almtest.Entity{Parent: "10", Fields: core.Record{"id": "101", "name": "Logout", "status": "Failed"}},
		almtest.Entity{Parent: "11", Fields: core.Record{"id": "110", "name": "Checkout", "status": "No Run"}},
		almtest.Entity{Parent: "12", Fields: core.Record{"id": "120", "name": "Other", "status": "Passed"}},
	)
	server.SetAudits("100", core.Record{"id": "a1", "action": "UPDATE"})
	server.SetAttachment("101", "screenshot.png", []byte("png"))
	server.SetRunSteps("100", "7",
		core.Record{"name": "Open page", "status": "Passed"},
		core.Record{"name": "Submit", "status": "Passed"},
	)
}

func TestTestLabSource_Fetch(t *testing.T) {
	server := almtest.NewServer(t)
	seedTestLab(server)
	dir := t.TempDir()
	src := newTestLab(t, testLabConfig(server, core.Config{
		"export_dir":       dir,
		"export_name":      "sprint1",
		"compress_history": true,
		"page_size":        1,
	}))

	result, err := src.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 3)
	assert.Equal(t, "100", result.Records[0].ID())
	assert.Equal(t, "110", result.Records[2].ID())
	assert.Equal(t, "Smoke", result.Records[0]["test_set"])
	assert.Equal(t, "Regression", result.Records[2]["test_set"])
	assert.Equal(t, "Release 1/Sprint 1", result.Records[1]["folder_path"])
	assert.Empty(t, result.Errors)

	require.Contains(t, result.Resources, "100")
	assert.Len(t, result.Resources["100"].Steps, 2)
	assert.NotContains(t, result.Resources, "110")

	table, err := os.ReadFile(filepath.Join(dir, "sprint1.csv"))
	require.NoError(t, err)
	header := strings.SplitN(string(table), "\n", 2)[0]
	assert.True(t, strings.HasPrefix(header, "id,name,test_set,folder_path,status"))
	assert.Contains(t, header, "Step 2 Status")

	assert.FileExists(t, filepath.Join(dir, "100", "history.json.gz"))
	assert.FileExists(t, filepath.Join(dir, "101", "attachments", "screenshot.png"))
}

func TestTestLabSource_MissingSegment(t *testing.T) {
	server := almtest.NewServer(t)
	seedTestLab(server)
	src := newTestLab(t, testLabConfig(server, core.Config{
		"export_dir": t.TempDir(),
		"path":       "Release 1/Sprint 9/Nightly",
	}))

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Equal(t, "Sprint 9", errors.Details(err)["segment"])
	assert.Equal(t, 0, server.Requests("test-sets"))
}

func TestTestLabSource_EmptyFolder(t *testing.T) {
	server := almtest.NewServer(t)
	seedTestLab(server)
	server.Add("test-set-folders", almtest.Entity{Parent: "1", Fields: core.Record{"id": "4", "name": "Empty"}})
	dir := t.TempDir()
	src := newTestLab(t, testLabConfig(server, core.Config{
		"export_dir": dir,
		"path":       "/Release 1/Empty/",
	}))

	result, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.NoFileExists(t, filepath.Join(dir, defaultExportName+".csv"))
}

func TestTestLabSource_Config(t *testing.T) {
	server := almtest.NewServer(t)
	tests := []struct {
		name  string
		extra core.Config
		field string
	}{
		{"no export target", core.Config{}, "export_dir"},
		{"both export targets", core.Config{"export_dir": "out", "export_bucket": "b"}, "export_bucket"},
		{"blank path", core.Config{"export_dir": "out", "path": " / "}, "path"},
		{"nested export name", core.Config{"export_dir": "out", "export_name": "a/b"}, "export_name"},
		{"bad compression", core.Config{"export_dir": "out", "compress_history": "brotli"}, "compress_history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewTestLabSource(testLabConfig(server, tt.extra), nil)
			require.NoError(t, err)
			err = src.ValidateConfig()
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Equal(t, tt.field, errors.Details(err)["field"])
		})
	}

	src := newTestLab(t, testLabConfig(server, core.Config{"export_dir": "out", "compress_history": "zstd"}))
	assert.Equal(t, compression.Zstd, src.compression)
	assert.Equal(t, DefaultPriorityFields, src.priorityFields)
}

package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ajitpratap0/relay/pkg/compression"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() ([]core.Record, map[string]*core.SubResources) {
	records := []core.Record{
		{"id": "1", "name": "Login", "status": "Passed", "zeta": "z"},
		{"id": "2", "name": "Logout", "status": "Failed", "alpha": 3.5},
	}
	resources := map[string]*core.SubResources{
		"1": {
			History: []interface{}{map[string]interface{}{"field": "status", "new": "Passed"}},
			Steps: []core.Record{
				{"name": "Open page", "status": "Passed"},
				{"name": "Submit", "status": "Passed"},
			},
			Attachments: []core.Attachment{{Name: "screen.png", Size: 3, Data: []byte("png")}},
		},
		"2": {
			Steps: []core.Record{{"name": "Click logout", "status": "Failed"}},
		},
	}
	return records, resources
}

func TestBuildTable_ColumnOrder(t *testing.T) {
	records, resources := sampleRecords()

	table := BuildTable(records, resources, TableOptions{
		PriorityFields: []string{"id", "name"},
		StepFields:     []string{"name", "status"},
	})

	assert.Equal(t, []string{
		"id", "name",
		"alpha", "status", "zeta",
		"Step 1 Name", "Step 1 Status",
		"Step 2 Name", "Step 2 Status",
	}, table.Header)

	assert.Equal(t, []string{"1", "Login", "", "Passed", "z", "Open page", "Passed", "Submit", "Passed"}, table.Rows[0])
	assert.Equal(t, []string{"2", "Logout", "3.5", "Failed", "", "Click logout", "Failed", "", ""}, table.Rows[1])
}

func TestCell(t *testing.T) {
	assert.Equal(t, "", Cell(nil))
	assert.Equal(t, "true", Cell(true))
	assert.Equal(t, "12", Cell(float64(12)))
	assert.Equal(t, "7", Cell(7))
	assert.Equal(t, `{"a":1}`, Cell(map[string]interface{}{"a": 1}))
}

func TestExporter_FileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	exp, err := NewExporter(sink, Options{
		Name:        "sprint-12",
		Table:       TableOptions{PriorityFields: []string{"id", "name"}},
		Compression: compression.Gzip,
	})
	require.NoError(t, err)

	records, resources := sampleRecords()
	summary, err := exp.Export(context.Background(), records, resources)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, 1, summary.Histories)
	assert.Equal(t, 1, summary.Attachments)

	f, err := os.Open(filepath.Join(dir, "sprint-12.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	gz, err := os.ReadFile(filepath.Join(dir, "1", "history.json.gz"))
	require.NoError(t, err)
	comp, err := compression.NewCompressor(compression.Gzip)
	require.NoError(t, err)
	plain, err := comp.Decompress(gz)
	require.NoError(t, err)
	assert.Contains(t, string(plain), `"new": "Passed"`)

	att, err := os.ReadFile(filepath.Join(dir, "1", "attachments", "screen.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(att))

	_, err = os.Stat(filepath.Join(dir, "2"))
	assert.True(t, os.IsNotExist(err))
}

type fakeUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &manager.UploadOutput{}, nil
}

func TestExporter_S3Sink(t *testing.T) {
	up := &fakeUploader{objects: map[string][]byte{}}
	sink := newS3Sink("qa-exports", "/runs/42/", up)
	assert.Equal(t, "s3://qa-exports/runs/42", sink.Location())

	exp, err := NewExporter(sink, Options{Name: "lab"})
	require.NoError(t, err)

	records, resources := sampleRecords()
	_, err = exp.Export(context.Background(), records, resources)
	require.NoError(t, err)

	assert.Contains(t, up.objects, "qa-exports/runs/42/lab.csv")
	assert.Contains(t, up.objects, "qa-exports/runs/42/1/history.json")
	assert.True(t, bytes.Equal([]byte("png"), up.objects["qa-exports/runs/42/1/attachments/screen.png"]))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a_b", SafeName("a/b"))
	assert.Equal(t, "_", SafeName(".."))
	assert.Equal(t, "report.pdf", SafeName(" report.pdf "))
}

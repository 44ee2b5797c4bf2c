package json

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	jsoncodec "github.com/ajitpratap0/relay/pkg/json"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/upload"
	"go.uber.org/zap"
)

// JSONDestination appends records to a JSON-lines file. The created id of
// a record is its 1-based line number in the file.
type JSONDestination struct {
	*base.BaseAdapter

	filePath   string
	createDirs bool
	mapping    upload.Mapping
	tracer     *observability.AdapterTracer

	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	lines  int
}

// NewJSONDestination creates a JSON-lines file destination
func NewJSONDestination(cfg core.Config, sink core.EventSink) (core.Destination, error) {
	return &JSONDestination{
		BaseAdapter: base.NewBaseAdapter("json", core.AdapterKindDestination, cfg, sink),
		tracer:      observability.NewAdapterTracer("json", string(core.AdapterKindDestination)),
	}, nil
}

// ValidateConfig reads path, create_dirs and field_mapping
func (d *JSONDestination) ValidateConfig() error {
	cfg := d.Config()

	path, err := base.RequireString(cfg, "path")
	if err != nil {
		return err
	}
	createDirs, err := base.OptionalBool(cfg, "create_dirs", true)
	if err != nil {
		return err
	}
	fields, err := base.OptionalStringMap(cfg, "field_mapping")
	if err != nil {
		return err
	}

	d.filePath = path
	d.createDirs = createDirs
	d.mapping = upload.NewMapping(fields)
	return nil
}

// Authenticate opens the file for appending and counts the lines already
// in it
func (d *JSONDestination) Authenticate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		return nil
	}
	if d.createDirs {
		if err := os.MkdirAll(filepath.Dir(d.filePath), 0o750); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to create output directory").
				WithDetail("path", d.filePath)
		}
	}

	file, err := os.OpenFile(d.filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640) //nolint:gosec // G304: path comes from pipeline config
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to open output file").
			WithDetail("path", d.filePath)
	}
	lines, partial, err := countLines(file)
	if err == nil && partial {
		// terminate a trailing partial line so the next record starts fresh
		_, err = file.Write([]byte{'\n'})
	}
	if err != nil {
		_ = file.Close()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read output file").
			WithDetail("path", d.filePath)
	}

	d.file = file
	d.writer = bufio.NewWriterSize(file, 64*1024)
	d.lines = lines
	d.MarkAuthenticated()
	d.GetLogger().Debug("output file opened", zap.String("path", d.filePath), zap.Int("existing_lines", lines))
	return nil
}

// TestConnection checks the output directory exists
func (d *JSONDestination) TestConnection(ctx context.Context) core.ConnectionResult {
	dir := filepath.Dir(d.filePath)
	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return core.ConnectionOK("Output directory is available", map[string]interface{}{"path": d.filePath})
	case os.IsNotExist(err) && d.createDirs:
		return core.ConnectionOK("Output directory will be created", map[string]interface{}{"path": d.filePath})
	case err != nil:
		return core.ConnectionFailed(err)
	default:
		return core.ConnectionFailed(errors.Newf(errors.ErrorTypeFile, "%s is not a directory", dir))
	}
}

// Upload appends one line per record
func (d *JSONDestination) Upload(ctx context.Context, records []core.Record) (*core.UploadResult, error) {
	if err := d.EnsureAuthenticated(ctx, d.Authenticate); err != nil {
		return nil, err
	}

	var result *core.UploadResult
	err := d.tracer.Trace(ctx, "upload", func(ctx context.Context) error {
		var runErr error
		result, runErr = upload.Run(ctx, records, d.mapping, upload.CreatorFunc(d.appendLine), d.Sink())
		if err := d.flush(); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	})
	return result, err
}

func (d *JSONDestination) appendLine(_ context.Context, payload map[string]interface{}) (core.CreatedRef, error) {
	data, err := jsoncodec.Marshal(payload)
	if err != nil {
		return core.CreatedRef{}, errors.Wrap(err, errors.ErrorTypeData, "failed to encode record")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return core.CreatedRef{}, errors.New(errors.ErrorTypeFile, "output file is closed")
	}
	if _, err := d.writer.Write(append(data, '\n')); err != nil {
		return core.CreatedRef{}, errors.Wrap(err, errors.ErrorTypeFile, "failed to write record")
	}
	d.lines++
	return core.CreatedRef{DestinationID: strconv.Itoa(d.lines)}, nil
}

func (d *JSONDestination) flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writer == nil {
		return nil
	}
	if err := d.writer.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush output file").
			WithDetail("path", d.filePath)
	}
	return nil
}

// Close flushes and closes the file
func (d *JSONDestination) Close(ctx context.Context) error {
	if !d.MarkClosed() {
		return nil
	}
	if err := d.flush(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file, d.writer = nil, nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close output file")
	}
	return nil
}

// countLines counts lines, including a trailing line without a newline,
// which is reported as partial
func countLines(r io.Reader) (int, bool, error) {
	buf := make([]byte, 32*1024)
	count := 0
	var last byte = '\n'
	for {
		n, err := r.Read(buf)
		if n > 0 {
			count += bytes.Count(buf[:n], []byte{'\n'})
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, false, err
		}
	}
	if last != '\n' {
		return count + 1, true, nil
	}
	return count, false, nil
}

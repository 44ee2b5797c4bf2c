package json

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	jsoncodec "github.com/ajitpratap0/relay/pkg/json"
	"github.com/ajitpratap0/relay/pkg/observability"
	"go.uber.org/zap"
)

// JSONFormat represents the JSON file format
type JSONFormat string

const (
	// JSONArray represents a file containing a JSON array of objects
	JSONArray JSONFormat = "array"
	// JSONLines represents line-delimited JSON (JSONL/NDJSON)
	JSONLines JSONFormat = "lines"
)

const maxLineSize = 16 * 1024 * 1024

// JSONSource reads records from a local JSON file
type JSONSource struct {
	*base.BaseAdapter

	filePath   string
	format     JSONFormat
	maxRecords int
	tracer     *observability.AdapterTracer
}

// NewJSONSource creates a JSON file source
func NewJSONSource(cfg core.Config, sink core.EventSink) (core.Source, error) {
	return &JSONSource{
		BaseAdapter: base.NewBaseAdapter("json", core.AdapterKindSource, cfg, sink),
		tracer:      observability.NewAdapterTracer("json", string(core.AdapterKindSource)),
	}, nil
}

// ValidateConfig reads path, format and max_records
func (s *JSONSource) ValidateConfig() error {
	cfg := s.Config()

	path, err := base.RequireString(cfg, "path")
	if err != nil {
		return err
	}
	format, err := base.OptionalString(cfg, "format", string(JSONLines))
	if err != nil {
		return err
	}
	if err := base.OneOf("format", format, string(JSONArray), string(JSONLines)); err != nil {
		return err
	}
	maxRecords, err := base.OptionalInt(cfg, "max_records", 0)
	if err != nil {
		return err
	}
	if maxRecords < 0 {
		return base.ConfigError("max_records", "cannot be negative")
	}

	s.filePath = path
	s.format = JSONFormat(format)
	s.maxRecords = maxRecords
	return nil
}

// Authenticate has nothing to establish for a local file
func (s *JSONSource) Authenticate(ctx context.Context) error {
	s.MarkAuthenticated()
	return nil
}

// TestConnection checks the file exists and is a regular file
func (s *JSONSource) TestConnection(ctx context.Context) core.ConnectionResult {
	info, err := os.Stat(s.filePath)
	if err != nil {
		return core.ConnectionFailed(err)
	}
	if info.IsDir() {
		return core.ConnectionFailed(fmt.Errorf("%s is a directory", s.filePath))
	}
	return core.ConnectionOK("File is readable", map[string]interface{}{
		"path": s.filePath,
		"size": info.Size(),
	})
}

// Fetch reads every record in the file. In lines format a malformed line is
// reported and skipped; a malformed array fails the fetch.
func (s *JSONSource) Fetch(ctx context.Context) (*core.FetchResult, error) {
	if err := s.EnsureAuthenticated(ctx, s.Authenticate); err != nil {
		return nil, err
	}

	var result *core.FetchResult
	err := s.tracer.Trace(ctx, "fetch", func(ctx context.Context) error {
		data, err := os.ReadFile(s.filePath) //nolint:gosec // G304: path comes from pipeline config
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to read source file").
				WithDetail("path", s.filePath)
		}

		s.Log(core.LevelInfo, fmt.Sprintf("Reading %s records from %s", s.format, s.filePath))
		if s.format == JSONArray {
			result, err = s.readArray(data)
		} else {
			result, err = s.readLines(ctx, data)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.maxRecords > 0 && len(result.Records) > s.maxRecords {
		result.Records = result.Records[:s.maxRecords]
	}
	s.Log(core.LevelInfo, fmt.Sprintf("Read %d records", len(result.Records)), zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (s *JSONSource) readArray(data []byte) (*core.FetchResult, error) {
	var items []map[string]interface{}
	if err := jsoncodec.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "expected a JSON array of objects").
			WithDetail("path", s.filePath)
	}

	result := &core.FetchResult{Records: make([]core.Record, 0, len(items))}
	for _, item := range items {
		if item != nil {
			result.Records = append(result.Records, core.Record(item))
		}
	}
	return result, nil
}

func (s *JSONSource) readLines(ctx context.Context, data []byte) (*core.FetchResult, error) {
	result := &core.FetchResult{}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var item map[string]interface{}
		if err := jsoncodec.Unmarshal(line, &item); err != nil {
			msg := fmt.Sprintf("Failed to parse JSON on line %d", lineNum)
			details := map[string]interface{}{
				"line":       lineNum,
				"error":      err.Error(),
				"error_type": string(errors.ErrorTypeData),
			}
			s.ReportError(msg, details)
			result.Errors = append(result.Errors, core.ItemError{
				Index:   lineNum - 1,
				Message: msg,
				Details: details,
			})
			continue
		}
		result.Records = append(result.Records, core.Record(item))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to scan source file").
			WithDetail("path", s.filePath)
	}
	return result, nil
}

// Close releases nothing; the file is read in one pass
func (s *JSONSource) Close(ctx context.Context) error {
	s.MarkClosed()
	return nil
}

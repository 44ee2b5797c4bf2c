package export

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/ajitpratap0/relay/pkg/compression"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/json"
)

// Options configures an Exporter
type Options struct {
	// Name is the CSV base name, without extension
	Name  string
	Table TableOptions
	// Compression applies to history documents only
	Compression compression.Algorithm
}

// Summary describes what an export wrote
type Summary struct {
	Location    string
	TableFile   string
	Rows        int
	Histories   int
	Attachments int
	Bytes       int64
}

// Exporter writes the export artifact to a sink
type Exporter struct {
	sink       Sink
	opts       Options
	compressor compression.Compressor
}

// NewExporter creates an exporter
func NewExporter(sink Sink, opts Options) (*Exporter, error) {
	if opts.Name == "" {
		opts.Name = "export"
	}
	comp, err := compression.NewCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}
	return &Exporter{sink: sink, opts: opts, compressor: comp}, nil
}

// Export writes the table, then the auxiliary files of each record.
// Cancellation is checked between records.
func (e *Exporter) Export(ctx context.Context, records []core.Record, resources map[string]*core.SubResources) (*Summary, error) {
	summary := &Summary{Location: e.sink.Location(), TableFile: e.opts.Name + ".csv"}

	table := BuildTable(records, resources, e.opts.Table)
	var buf bytes.Buffer
	if err := table.WriteCSV(&buf); err != nil {
		return summary, errors.Wrap(err, errors.ErrorTypeFile, "failed to encode export table")
	}
	if err := e.put(ctx, summary, summary.TableFile, buf.Bytes()); err != nil {
		return summary, err
	}
	summary.Rows = len(table.Rows)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		res := resources[rec.ID()]
		if res.Empty() {
			continue
		}
		dir := SafeName(rec.ID())

		if res.History != nil {
			data, err := json.MarshalIndent(res.History)
			if err != nil {
				return summary, errors.Wrap(err, errors.ErrorTypeData, "failed to encode history").
					WithDetail("item_id", rec.ID())
			}
			data, err = e.compressor.Compress(data)
			if err != nil {
				return summary, err
			}
			if err := e.put(ctx, summary, path.Join(dir, "history.json"+e.compressor.Extension()), data); err != nil {
				return summary, err
			}
			summary.Histories++
		}

		for _, att := range res.Attachments {
			if err := e.put(ctx, summary, path.Join(dir, "attachments", SafeName(att.Name)), att.Data); err != nil {
				return summary, err
			}
			summary.Attachments++
		}
	}

	return summary, nil
}

func (e *Exporter) put(ctx context.Context, summary *Summary, name string, data []byte) error {
	if err := e.sink.Put(ctx, name, data); err != nil {
		return err
	}
	summary.Bytes += int64(len(data))
	return nil
}

// SafeName makes a record id or attachment name usable as a single path
// element
func SafeName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(strings.TrimSpace(name))
	switch name {
	case "", ".", "..":
		return "_"
	}
	return name
}

// Package transform applies the optional projection configured on a
// pipeline between extraction and upload.
package transform

import (
	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
)

// Projection reshapes records with dotted-path field extraction.
//
// Config keys:
//
//	fields:        map of output field -> dotted source path
//	keep_unmapped: keep source fields that are not mapped (default false)
//	exclude:       top-level fields dropped from the output
type Projection struct {
	Fields       map[string]string
	KeepUnmapped bool
	Exclude      []string
}

// FromConfig builds a projection. An empty config yields nil, which Apply
// treats as pass-through.
func FromConfig(cfg core.Config) (*Projection, error) {
	if len(cfg) == 0 {
		return nil, nil
	}

	fields, err := base.OptionalStringMap(cfg, "fields")
	if err != nil {
		return nil, err
	}
	keep, err := base.OptionalBool(cfg, "keep_unmapped", false)
	if err != nil {
		return nil, err
	}
	exclude, err := base.OptionalStringSlice(cfg, "exclude")
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 && len(exclude) == 0 {
		return nil, nil
	}
	if len(fields) == 0 {
		keep = true
	}
	return &Projection{Fields: fields, KeepUnmapped: keep, Exclude: exclude}, nil
}

// Apply returns projected copies of records. Source records are not modified.
func (p *Projection) Apply(records []core.Record) []core.Record {
	if p == nil {
		return records
	}

	out := make([]core.Record, len(records))
	for i, rec := range records {
		out[i] = p.project(rec)
	}
	return out
}

func (p *Projection) project(rec core.Record) core.Record {
	var projected core.Record
	if p.KeepUnmapped {
		projected = rec.Clone()
	} else {
		projected = make(core.Record, len(p.Fields))
	}

	for target, path := range p.Fields {
		if v, ok := rec.Lookup(path); ok {
			projected[target] = v
		}
	}
	for _, field := range p.Exclude {
		delete(projected, field)
	}

	// Keep the identity so created references still point at the source.
	if _, ok := projected["id"]; !ok {
		if id, ok := rec["id"]; ok {
			projected["id"] = id
		}
	}
	return projected
}

// Package upload delivers extracted records to a destination one create
// call at a time, isolating per-item failures.
package upload

import (
	"sort"

	"github.com/ajitpratap0/relay/pkg/connector/core"
)

// Mapping builds a destination payload from a record. Each destination field
// maps to a dotted path into the record; a path that does not resolve, or
// resolves to nil, leaves the field absent.
type Mapping struct {
	// Fields maps destination field names to source paths
	Fields map[string]string
	// Defaults apply to destination fields that Fields does not mention
	Defaults map[string]string
	// Fixed values are set on every payload and win over mapped fields
	Fixed map[string]interface{}
}

// NewMapping creates a mapping from configured fields
func NewMapping(fields map[string]string) Mapping {
	return Mapping{Fields: fields}
}

// WithDefaults returns a copy of m with default field paths added
func (m Mapping) WithDefaults(defaults map[string]string) Mapping {
	m.Defaults = defaults
	return m
}

// WithFixed returns a copy of m with fixed payload values added
func (m Mapping) WithFixed(fixed map[string]interface{}) Mapping {
	m.Fixed = fixed
	return m
}

// Identity reports whether the mapping copies records unchanged
func (m Mapping) Identity() bool {
	return len(m.Fields) == 0 && len(m.Defaults) == 0
}

// DestinationFields returns the mapped destination field names, sorted
func (m Mapping) DestinationFields() []string {
	seen := make(map[string]struct{}, len(m.Fields)+len(m.Defaults))
	for k := range m.Defaults {
		seen[k] = struct{}{}
	}
	for k := range m.Fields {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build returns the payload for rec. An identity mapping copies the record.
func (m Mapping) Build(rec core.Record) map[string]interface{} {
	payload := make(map[string]interface{})

	if m.Identity() {
		for k, v := range rec {
			payload[k] = v
		}
	} else {
		for _, field := range m.DestinationFields() {
			path, ok := m.Fields[field]
			if !ok {
				path = m.Defaults[field]
			}
			if v, found := rec.Lookup(path); found && v != nil {
				payload[field] = v
			}
		}
	}

	for k, v := range m.Fixed {
		payload[k] = v
	}
	return payload
}

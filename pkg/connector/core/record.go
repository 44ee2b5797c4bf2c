package core

import (
	"fmt"
	"strings"
)

// Record is an opaque structured map produced by extraction. Values may be
// nested maps or slices.
type Record map[string]interface{}

// Lookup resolves a dotted path ("fields.owner.name") into the record.
// A missing segment, a non-map intermediate or an empty path yields
// (nil, false); it is never an error.
func (r Record) Lookup(path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}

	var current interface{} = map[string]interface{}(r)
	for _, part := range strings.Split(path, ".") {
		switch m := current.(type) {
		case map[string]interface{}:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		case Record:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			current = v
		default:
			return nil, false
		}
	}
	return current, true
}

// ID returns the record identity as a string, reading "id" then "key".
func (r Record) ID() string {
	for _, k := range []string{"id", "key"} {
		if v, ok := r[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

// Clone returns a shallow copy of the record
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

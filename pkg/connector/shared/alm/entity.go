package alm

import (
	"github.com/ajitpratap0/relay/pkg/connector/core"
)

// EntityList is the body of an ALM collection response
type EntityList struct {
	Entities     []map[string]interface{} `json:"entities"`
	TotalResults int                      `json:"TotalResults"`
}

// Records flattens every entity
func (l *EntityList) Records() []core.Record {
	out := make([]core.Record, 0, len(l.Entities))
	for _, e := range l.Entities {
		out = append(out, Flatten(e))
	}
	return out
}

// Flatten turns {"Fields":[{"Name":n,"values":[{"value":v}]}],"Type":t}
// into {n: v, ...}. A field with several values maps to a list, one with
// none to nil. Entities that carry no Fields list are returned as they are.
func Flatten(entity map[string]interface{}) core.Record {
	fields, ok := entity["Fields"].([]interface{})
	if !ok {
		return core.Record(entity)
	}

	rec := make(core.Record, len(fields)+1)
	for _, f := range fields {
		field, ok := f.(map[string]interface{})
		if !ok {
			continue
		}
		name, ok := field["Name"].(string)
		if !ok || name == "" {
			continue
		}
		rec[name] = fieldValue(field["values"])
	}
	if t, ok := entity["Type"].(string); ok && t != "" {
		if _, exists := rec["entity_type"]; !exists {
			rec["entity_type"] = t
		}
	}
	return rec
}

func fieldValue(raw interface{}) interface{} {
	values, ok := raw.([]interface{})
	if !ok {
		return nil
	}

	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		m, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		if value, ok := m["value"]; ok {
			out = append(out, value)
		}
	}

	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_Lookup(t *testing.T) {
	rec := Record{
		"id":   "42",
		"name": "Login fails",
		"fields": map[string]interface{}{
			"owner": map[string]interface{}{"name": "qa"},
			"tags":  []interface{}{"a", "b"},
		},
		"nested": Record{"x": 1},
	}

	tests := []struct {
		path  string
		want  interface{}
		found bool
	}{
		{"id", "42", true},
		{"fields.owner.name", "qa", true},
		{"nested.x", 1, true},
		{"fields.owner.email", nil, false},
		{"fields.tags.0", nil, false},
		{"missing", nil, false},
		{"", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := rec.Lookup(tt.path)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_ID(t *testing.T) {
	assert.Equal(t, "7", Record{"id": 7}.ID())
	assert.Equal(t, "PRJ-1", Record{"key": "PRJ-1"}.ID())
	assert.Equal(t, "", Record{"name": "x"}.ID())
}

func TestConnectionFailed(t *testing.T) {
	res := ConnectionFailed(nil)
	assert.False(t, res.OK())
	assert.Equal(t, "unknown error", res.Message)
	assert.True(t, ConnectionOK("fine", nil).OK())
}

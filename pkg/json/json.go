// Package json provides the JSON codec used across Relay, backed by goccy/go-json
package json

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// RawMessage is a raw encoded JSON value.
type RawMessage = gojson.RawMessage

// Marshal encodes v without HTML escaping.
func Marshal(v interface{}) ([]byte, error) {
	return gojson.MarshalNoEscape(v)
}

// MarshalIndent encodes v with indentation, for documents meant to be read.
func MarshalIndent(v interface{}) ([]byte, error) {
	return gojson.MarshalIndent(v, "", "  ")
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// NewEncoder returns an encoder writing to w with HTML escaping disabled.
func NewEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}

// DecodeReader decodes a single JSON document from r into v.
func DecodeReader(r io.Reader, v interface{}) error {
	return NewDecoder(r).Decode(v)
}

// Package json provides a source reading JSON array or JSON-lines files
package json

import (
	"github.com/ajitpratap0/relay/pkg/connector/registry"
)

func init() {
	if err := registry.RegisterSource("json", NewJSONSource); err != nil {
		panic(err)
	}
}

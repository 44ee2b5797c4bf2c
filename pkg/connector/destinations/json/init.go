// Package json provides a destination appending records to a JSON-lines file
package json

import (
	"github.com/ajitpratap0/relay/pkg/connector/registry"
)

func init() {
	if err := registry.RegisterDestination("json", NewJSONDestination); err != nil {
		panic(err)
	}
}

// Package alm provides the flat ALM source. It pages through one entity
// collection of an ALM project and can attach each entity's history and
// attachments as sub-resources.
package alm

import (
	"github.com/ajitpratap0/relay/pkg/connector/registry"
)

func init() {
	if err := registry.RegisterSource("alm", NewALMSource); err != nil {
		panic(err)
	}
}

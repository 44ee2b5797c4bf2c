// Package almtree provides the hierarchical ALM test lab source. It walks a
// test lab folder path, exports the test instances found there together
// with their history, attachments and run steps, and returns the instances
// as records.
package almtree

import (
	"github.com/ajitpratap0/relay/pkg/connector/registry"
)

func init() {
	if err := registry.RegisterSource("alm_testlab", NewTestLabSource); err != nil {
		panic(err)
	}
}

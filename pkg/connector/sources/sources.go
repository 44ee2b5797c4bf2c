// Package sources links every source adapter into the binary. Importing it
// registers alm, alm_testlab and json with the default registry.
package sources

import (
	"github.com/ajitpratap0/relay/pkg/connector/registry"

	// Import all source adapters to trigger init() registration
	_ "github.com/ajitpratap0/relay/pkg/connector/sources/alm"
	_ "github.com/ajitpratap0/relay/pkg/connector/sources/almtree"
	_ "github.com/ajitpratap0/relay/pkg/connector/sources/json"
)

// Available returns the type keys of the registered sources
func Available() []string {
	return registry.Sources()
}

// Package destinations links every destination adapter into the binary.
// Importing it registers jira, mongodb and json with the default registry.
package destinations

import (
	"github.com/ajitpratap0/relay/pkg/connector/registry"

	// Import all destination adapters to trigger init() registration
	_ "github.com/ajitpratap0/relay/pkg/connector/destinations/jira"
	_ "github.com/ajitpratap0/relay/pkg/connector/destinations/json"
	_ "github.com/ajitpratap0/relay/pkg/connector/destinations/mongodb"
)

// Available returns the type keys of the registered destinations
func Available() []string {
	return registry.Destinations()
}

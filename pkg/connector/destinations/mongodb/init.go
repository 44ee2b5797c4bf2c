// Package mongodb provides a destination inserting one document per record
// into a MongoDB collection. The created id is the inserted _id.
package mongodb

import (
	"github.com/ajitpratap0/relay/pkg/connector/registry"
)

func init() {
	if err := registry.RegisterDestination("mongodb", NewMongoDBDestination); err != nil {
		panic(err)
	}
}

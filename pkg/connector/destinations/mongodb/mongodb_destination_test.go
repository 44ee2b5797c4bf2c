package mongodb

import (
	"context"
	"testing"

	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fakeCollection struct {
	docs []bson.M
}

func (f *fakeCollection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	doc := document.(bson.M)
	if doc["title"] == "duplicate" {
		return nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}
	}
	f.docs = append(f.docs, doc)
	return &mongo.InsertOneResult{InsertedID: primitive.NewObjectID()}, nil
}

func newDestination(t *testing.T, cfg core.Config) *MongoDBDestination {
	t.Helper()
	dst, err := NewMongoDBDestination(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, dst.ValidateConfig())
	return dst.(*MongoDBDestination)
}

func TestMongoDBDestination_Upload(t *testing.T) {
	dst := newDestination(t, core.Config{
		"uri":           "mongodb://localhost:27017",
		"database":      "relay",
		"collection":    "defects",
		"field_mapping": map[string]interface{}{"title": "name", "severity": "meta.severity"},
	})
	coll := &fakeCollection{}
	dst.coll = coll
	dst.MarkAuthenticated()

	result, err := dst.Upload(context.Background(), []core.Record{
		{"id": "1", "name": "Crash", "meta": map[string]interface{}{"severity": "High"}},
		{"id": "2", "name": "duplicate"},
		{"id": "3", "name": "Typo"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.ErrorCount)
	require.Len(t, result.Created, 2)
	assert.Len(t, result.Created[0].DestinationID, 24)
	assert.Equal(t, "3", result.Created[1].SourceID)
	assert.Equal(t, string(errors.ErrorTypeConflict), result.Errors[0].Details["cause_type"])

	require.Len(t, coll.docs, 2)
	assert.Equal(t, bson.M{"title": "Crash", "severity": "High"}, coll.docs[0])
	assert.Equal(t, bson.M{"title": "Typo"}, coll.docs[1])
}

func TestMongoDBDestination_IdentityMapping(t *testing.T) {
	dst := newDestination(t, core.Config{"uri": "mongodb://db", "database": "relay", "collection": "raw"})
	coll := &fakeCollection{}
	dst.coll = coll
	dst.MarkAuthenticated()

	result, err := dst.Upload(context.Background(), []core.Record{{"id": "9", "name": "x"}})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, bson.M{"id": "9", "name": "x"}, coll.docs[0])
}

func TestMongoDBDestination_Config(t *testing.T) {
	tests := []struct {
		name  string
		cfg   core.Config
		field string
	}{
		{"missing uri", core.Config{"database": "d", "collection": "c"}, "uri"},
		{"bad scheme", core.Config{"uri": "postgres://x", "database": "d", "collection": "c"}, "uri"},
		{"missing database", core.Config{"uri": "mongodb://x", "collection": "c"}, "database"},
		{"missing collection", core.Config{"uri": "mongodb://x", "database": "d"}, "collection"},
		{"bad timeout", core.Config{"uri": "mongodb://x", "database": "d", "collection": "c", "timeout_seconds": 0}, "timeout_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst, err := NewMongoDBDestination(tt.cfg, nil)
			require.NoError(t, err)
			err = dst.ValidateConfig()
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Equal(t, tt.field, errors.Details(err)["field"])
		})
	}
}

func TestDocumentID(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), documentID(oid))
	assert.Equal(t, "abc", documentID("abc"))
	assert.Equal(t, "42", documentID(int32(42)))
}

func TestClassify(t *testing.T) {
	authErr := classify(mongo.CommandError{Code: authenticationFailedCode, Message: "auth failed"}, "ping")
	assert.True(t, errors.IsType(authErr, errors.ErrorTypeAuthentication))

	dupErr := classify(mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000}}}, "insert")
	assert.True(t, errors.IsType(dupErr, errors.ErrorTypeConflict))

	assert.True(t, errors.IsType(classify(mongo.ErrClientDisconnected, "insert"), errors.ErrorTypeInternal))
	assert.True(t, errors.IsType(classify(assert.AnError, "insert"), errors.ErrorTypeTransport))
}

package mongodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/relay/pkg/connector/base"
	"github.com/ajitpratap0/relay/pkg/connector/core"
	"github.com/ajitpratap0/relay/pkg/errors"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/upload"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// authenticationFailedCode is the server error code for bad credentials
const authenticationFailedCode = 18

// inserter is the part of *mongo.Collection the destination writes through
type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoDBDestination inserts one document per record
type MongoDBDestination struct {
	*base.BaseAdapter

	uri        string
	database   string
	collection string
	timeout    time.Duration
	mapping    upload.Mapping

	client *mongo.Client
	coll   inserter
	tracer *observability.AdapterTracer
}

// NewMongoDBDestination creates a MongoDB destination
func NewMongoDBDestination(cfg core.Config, sink core.EventSink) (core.Destination, error) {
	return &MongoDBDestination{
		BaseAdapter: base.NewBaseAdapter("mongodb", core.AdapterKindDestination, cfg, sink),
		tracer:      observability.NewAdapterTracer("mongodb", string(core.AdapterKindDestination)),
	}, nil
}

// ValidateConfig reads uri, database, collection and field_mapping
func (d *MongoDBDestination) ValidateConfig() error {
	cfg := d.Config()

	uri, err := base.RequireString(cfg, "uri")
	if err != nil {
		return err
	}
	if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
		return base.ConfigError("uri", "must start with mongodb:// or mongodb+srv://")
	}
	database, err := base.RequireString(cfg, "database")
	if err != nil {
		return err
	}
	collection, err := base.RequireString(cfg, "collection")
	if err != nil {
		return err
	}
	fields, err := base.OptionalStringMap(cfg, "field_mapping")
	if err != nil {
		return err
	}
	timeout, err := base.OptionalPositiveInt(cfg, "timeout_seconds", 30)
	if err != nil {
		return err
	}

	d.uri = uri
	d.database = database
	d.collection = collection
	d.timeout = time.Duration(timeout) * time.Second
	d.mapping = upload.NewMapping(fields)
	return nil
}

func (d *MongoDBDestination) connect(ctx context.Context) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(d.uri).
		SetAppName("relay").
		SetConnectTimeout(d.timeout).
		SetServerSelectionTimeout(d.timeout).
		SetTimeout(d.timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, classify(err, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, classify(err, "failed to ping MongoDB")
	}
	return client, nil
}

// Authenticate connects and pings the primary
func (d *MongoDBDestination) Authenticate(ctx context.Context) error {
	client, err := d.connect(ctx)
	if err != nil {
		return err
	}
	d.client = client
	d.coll = client.Database(d.database).Collection(d.collection)
	d.MarkAuthenticated()
	d.Log(core.LevelInfo, "Connected to MongoDB",
		zap.String("database", d.database),
		zap.String("collection", d.collection))
	return nil
}

// TestConnection connects, pings and disconnects
func (d *MongoDBDestination) TestConnection(ctx context.Context) core.ConnectionResult {
	client, err := d.connect(ctx)
	if err != nil {
		return core.ConnectionFailed(err)
	}
	_ = client.Disconnect(context.Background())
	return core.ConnectionOK("Connected to MongoDB", map[string]interface{}{
		"database":   d.database,
		"collection": d.collection,
	})
}

// Upload inserts one document per record
func (d *MongoDBDestination) Upload(ctx context.Context, records []core.Record) (*core.UploadResult, error) {
	if err := d.EnsureAuthenticated(ctx, d.Authenticate); err != nil {
		return nil, err
	}

	var result *core.UploadResult
	err := d.tracer.Trace(ctx, "upload", func(ctx context.Context) error {
		d.Log(core.LevelInfo, fmt.Sprintf("Inserting %d documents into %s.%s", len(records), d.database, d.collection))
		var err error
		result, err = upload.Run(ctx, records, d.mapping, upload.CreatorFunc(d.insert), d.Sink())
		return err
	})
	return result, err
}

func (d *MongoDBDestination) insert(ctx context.Context, payload map[string]interface{}) (core.CreatedRef, error) {
	res, err := d.coll.InsertOne(ctx, bson.M(payload))
	if err != nil {
		return core.CreatedRef{}, classify(err, "failed to insert document")
	}
	return core.CreatedRef{DestinationID: documentID(res.InsertedID)}, nil
}

// documentID renders an inserted _id as a string
func documentID(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// classify maps driver errors onto the relay error taxonomy
func classify(err error, msg string) error {
	errType := errors.ErrorTypeTransport
	var cmdErr mongo.CommandError
	switch {
	case errors.As(err, &cmdErr) && cmdErr.Code == authenticationFailedCode:
		errType = errors.ErrorTypeAuthentication
	case mongo.IsDuplicateKeyError(err):
		errType = errors.ErrorTypeConflict
	case mongo.IsTimeout(err):
		errType = errors.ErrorTypeTimeout
	case errors.Is(err, mongo.ErrClientDisconnected):
		errType = errors.ErrorTypeInternal
	}
	return errors.Wrap(err, errType, msg)
}

// Close disconnects the client
func (d *MongoDBDestination) Close(ctx context.Context) error {
	if !d.MarkClosed() || d.client == nil {
		return nil
	}
	if err := d.client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "failed to disconnect from MongoDB")
	}
	return nil
}

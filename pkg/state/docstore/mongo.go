package docstore

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	defaultStateCollection = "weft_state"
	defaultMongoOpTimeout  = 5 * time.Second
)

// MongoOptions configures the Mongo durable tier.
type MongoOptions struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// MongoStore is the durable tier on MongoDB.
type MongoStore struct {
	client     *mongodriver.Client
	collection *mongodriver.Collection
	timeout    time.Duration
}

type stateDocument struct {
	Key       string                 `bson:"_id"`
	TenantID  string                 `bson:"tenant_id"`
	Value     map[string]interface{} `bson:"value"`
	UpdatedAt time.Time              `bson:"updated_at"`
}

// NewMongoStore wires the collection and ensures indexes.
func NewMongoStore(opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultStateCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultMongoOpTimeout
	}

	s := &MongoStore{
		client:     opts.Client,
		collection: opts.Client.Database(opts.Database).Collection(collection),
		timeout:    timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "updated_at", Value: -1}},
	})
	return err
}

func (s *MongoStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *MongoStore) Put(ctx context.Context, key string, value map[string]interface{}) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": key}
	update := bson.M{"$set": bson.M{
		"tenant_id":  tenantOf(key),
		"value":      value,
		"updated_at": time.Now().UTC(),
	}}
	_, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (s *MongoStore) Get(ctx context.Context, key string) (map[string]interface{}, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc stateDocument
	if err := s.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.Value, nil
}

func (s *MongoStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (s *MongoStore) List(ctx context.Context, prefix string, filter map[string]interface{}, limit int) ([]Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	for field, want := range filter {
		query["value."+field] = want
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	if limit > 0 {
		findOpts = findOpts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, query, findOpts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []Document
	for cursor.Next(ctx) {
		var doc stateDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, Document{Key: doc.Key, Value: doc.Value, UpdatedAt: doc.UpdatedAt})
	}
	return docs, cursor.Err()
}

func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, readpref.Primary())
}

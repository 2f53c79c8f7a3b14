package timestore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const documentKey = "last_checked"

// MongoStore keeps the value in a single upserted document.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects to MongoDB and returns a store over the given
// database and collection.
func NewMongoStore(ctx context.Context, uri string, dbName string, collectionName string) (*MongoStore, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(collectionName),
	}, nil
}

// Disconnect closes the connection to the MongoDB database
func (m *MongoStore) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (m *MongoStore) Get(ctx context.Context) (string, error) {
	var doc struct {
		Value string `bson:"value"`
	}
	err := m.collection.FindOne(ctx, bson.M{"_id": documentKey}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", documentKey, err)
	}
	return doc.Value, nil
}

func (m *MongoStore) Put(ctx context.Context, value string) error {
	filter := bson.M{"_id": documentKey}
	update := bson.M{
		"$set": bson.M{
			"value":      value,
			"updated_at": time.Now(),
		},
	}
	opts := options.Update().SetUpsert(true)
	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to write %s: %w", documentKey, err)
	}
	return nil
}

package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore connects to MongoDB and uses one document per key, keyed by
// _id. This backs the vault for setups where the local filesystem is not the
// durable home of the ciphertext.
func NewMongoStore(ctx context.Context, uri, dbName, collName string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("storage: mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	// Verify connection quickly
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return &MongoStore{client: cli, coll: cli.Database(dbName).Collection(collName)}, nil
}

func (m *MongoStore) Get(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", errors.New("storage: empty key")
	}
	var doc struct {
		Value string `bson:"value"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", ErrNotFound
	}
	return doc.Value, err
}

func (m *MongoStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return errors.New("storage: empty key")
	}
	_, err := m.coll.UpdateByID(
		ctx,
		key,
		bson.M{
			"$set": bson.M{
				"value":     value,
				"updatedAt": time.Now(),
			},
			"$setOnInsert": bson.M{
				"createdAt": time.Now(),
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("storage: empty key")
	}
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

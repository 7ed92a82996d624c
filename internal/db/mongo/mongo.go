// Package mongo implements the entity store on a MongoDB collection.
// Documents look like {_id: key, value: <json string>, version, updated_at};
// conditional writes filter on version so the check and the update are one
// server-side operation.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/config"
	"serotonyl.ru/filegate-bot/internal/store"
)

type document struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d document) record() store.Record {
	return store.Record{
		Key:       d.Key,
		Value:     []byte(d.Value),
		Version:   store.Version(d.Version),
		UpdatedAt: d.UpdatedAt,
	}
}

// KV is the MongoDB entity store.
type KV struct {
	coll *mongo.Collection
}

var _ store.KV = (*KV)(nil)

// Connect opens a client from config and pings the primary.
func Connect(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo unavailable: %w", err)
	}

	log.WithField("database", cfg.MongoDatabase).Info("Connected to MongoDB")
	return client, nil
}

// NewKV uses the given collection for all keys.
func NewKV(coll *mongo.Collection) *KV {
	return &KV{coll: coll}
}

func (k *KV) Get(ctx context.Context, key string) (store.Record, error) {
	var doc document
	err := k.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, classify("get "+key, err)
	}
	return doc.record(), nil
}

func (k *KV) Put(ctx context.Context, key string, value []byte, expected store.Version) (store.Version, error) {
	now := time.Now().UTC()

	if expected == store.Absent {
		_, err := k.coll.InsertOne(ctx, document{Key: key, Value: string(value), Version: 1, UpdatedAt: now})
		if mongo.IsDuplicateKeyError(err) {
			return 0, store.ErrVersionConflict
		}
		if err != nil {
			return 0, classify("put "+key, err)
		}
		return 1, nil
	}

	filter := bson.M{"_id": key}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if expected == store.Any {
		opts.SetUpsert(true)
	} else {
		filter["version"] = int64(expected)
	}
	update := bson.M{
		"$set": bson.M{"value": string(value), "updated_at": now},
		"$inc": bson.M{"version": int64(1)},
	}

	var doc document
	err := k.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, store.ErrVersionConflict
	}
	if expected == store.Any && mongo.IsDuplicateKeyError(err) {
		// Two concurrent upserts of a new key; the loser saw no document.
		return 0, store.ErrVersionConflict
	}
	if err != nil {
		return 0, classify("put "+key, err)
	}
	return store.Version(doc.Version), nil
}

func (k *KV) Delete(ctx context.Context, key string, expected store.Version) error {
	filter := bson.M{"_id": key}
	if expected != store.Any {
		filter["version"] = int64(expected)
	}
	res, err := k.coll.DeleteOne(ctx, filter)
	if err != nil {
		return classify("delete "+key, err)
	}
	if res.DeletedCount > 0 {
		return nil
	}

	n, err := k.coll.CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return classify("delete "+key, err)
	}
	if n > 0 {
		return store.ErrVersionConflict
	}
	return store.ErrNotFound
}

func (k *KV) List(ctx context.Context, prefix string, limit int) ([]store.Record, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := k.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify("list "+prefix, err)
	}
	var docs []document
	if err := cur.All(ctx, &docs); err != nil {
		return nil, classify("list "+prefix, err)
	}

	out := make([]store.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.record())
	}
	return out, nil
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return common.Unavailable(op, err)
	}
	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return common.Unavailable(op, err)
}

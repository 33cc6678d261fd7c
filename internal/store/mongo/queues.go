package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/waclerk/waclerk/internal/store"
)

// MongoQueueStore implements store.QueueStore on queues, the durable archive
// of drained correspondent messages.
type MongoQueueStore struct {
	coll *mongo.Collection
}

func NewMongoQueueStore(db *mongo.Database) *MongoQueueStore {
	return &MongoQueueStore{coll: db.Collection(collQueues)}
}

func (s *MongoQueueStore) Archive(ctx context.Context, msg store.ArchivedMessage) error {
	_, err := s.coll.InsertOne(ctx, msg)
	return mapErr(err)
}

func (s *MongoQueueStore) MaxID(ctx context.Context, botID, correspondentID string) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "id", Value: -1}}).
		SetProjection(bson.M{"id": 1})
	var doc struct {
		ID int64 `bson:"id"`
	}
	err := s.coll.FindOne(ctx,
		bson.M{"bot_id": botID, "correspondent_id": correspondentID},
		opts,
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.ID, nil
}

func (s *MongoQueueStore) ListByBot(ctx context.Context, botID string) ([]store.ArchivedMessage, error) {
	return s.list(ctx, bson.M{"bot_id": botID})
}

func (s *MongoQueueStore) ListByCorrespondent(ctx context.Context, botID, correspondentID string) ([]store.ArchivedMessage, error) {
	return s.list(ctx, bson.M{"bot_id": botID, "correspondent_id": correspondentID})
}

func (s *MongoQueueStore) list(ctx context.Context, filter bson.M) ([]store.ArchivedMessage, error) {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var msgs []store.ArchivedMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *MongoQueueStore) DeleteByBot(ctx context.Context, botID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"bot_id": botID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *MongoQueueStore) DeleteByCorrespondent(ctx context.Context, botID, correspondentID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"bot_id": botID, "correspondent_id": correspondentID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

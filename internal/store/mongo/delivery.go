package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/waclerk/waclerk/internal/store"
)

// MongoDeliveryStore implements store.DeliveryStore on the three
// async_message_delivery_queue_* collections. Segment moves are
// insert-then-delete; a crash between the two leaves the job present in both
// segments, which the consumer resolves by message_id.
type MongoDeliveryStore struct {
	active  *mongo.Collection
	holding *mongo.Collection
	failed  *mongo.Collection
}

func NewMongoDeliveryStore(db *mongo.Database) *MongoDeliveryStore {
	return &MongoDeliveryStore{
		active:  db.Collection(collDeliveryPrefix + store.SegmentActive),
		holding: db.Collection(collDeliveryPrefix + store.SegmentHolding),
		failed:  db.Collection(collDeliveryPrefix + store.SegmentFailed),
	}
}

func (s *MongoDeliveryStore) segment(name string) (*mongo.Collection, error) {
	switch name {
	case store.SegmentActive:
		return s.active, nil
	case store.SegmentHolding:
		return s.holding, nil
	case store.SegmentFailed:
		return s.failed, nil
	default:
		return nil, fmt.Errorf("unknown delivery segment %q", name)
	}
}

func (s *MongoDeliveryStore) Enqueue(ctx context.Context, job store.DeliveryJob) error {
	_, err := s.active.InsertOne(ctx, job)
	return mapErr(err)
}

func (s *MongoDeliveryStore) MoveAllActiveToHolding(ctx context.Context) (int64, error) {
	return s.move(ctx, s.active, s.holding, bson.M{})
}

func (s *MongoDeliveryStore) MoveToActive(ctx context.Context, botID string) (int64, error) {
	return s.move(ctx, s.holding, s.active, botFilter(botID))
}

func (s *MongoDeliveryStore) MoveToHolding(ctx context.Context, botID string) (int64, error) {
	return s.move(ctx, s.active, s.holding, botFilter(botID))
}

func (s *MongoDeliveryStore) SampleActive(ctx context.Context) (*store.DeliveryJob, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: 1}}}},
	}
	cur, err := s.active.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var jobs []store.DeliveryJob
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (s *MongoDeliveryStore) IncrementAttempts(ctx context.Context, messageID string) error {
	res, err := s.active.UpdateOne(ctx,
		bson.M{"message_id": messageID},
		bson.M{"$inc": bson.M{"send_attempts": 1}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoDeliveryStore) DeleteActive(ctx context.Context, messageID string) error {
	res, err := s.active.DeleteOne(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoDeliveryStore) MoveToFailed(ctx context.Context, job store.DeliveryJob) error {
	if _, err := s.failed.InsertOne(ctx, job); err != nil {
		return mapErr(err)
	}
	_, err := s.active.DeleteOne(ctx, bson.M{"message_id": job.MessageID})
	return err
}

func (s *MongoDeliveryStore) List(ctx context.Context, segment, botID string) ([]store.DeliveryJob, error) {
	coll, err := s.segment(segment)
	if err != nil {
		return nil, err
	}
	filter := bson.M{}
	if botID != "" {
		filter = botFilter(botID)
	}
	cur, err := coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var jobs []store.DeliveryJob
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *MongoDeliveryStore) Delete(ctx context.Context, segment, messageID string) (int64, error) {
	coll, err := s.segment(segment)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// move copies matching jobs from src to dst, then removes them from src.
func (s *MongoDeliveryStore) move(ctx context.Context, src, dst *mongo.Collection, filter bson.M) (int64, error) {
	cur, err := src.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	var jobs []store.DeliveryJob
	if err := cur.All(ctx, &jobs); err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	docs := make([]any, len(jobs))
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		docs[i] = j
		ids[i] = j.MessageID
	}
	if _, err := dst.InsertMany(ctx, docs); err != nil {
		return 0, err
	}
	res, err := src.DeleteMany(ctx, bson.M{"message_id": bson.M{"$in": ids}})
	if err != nil {
		return int64(len(jobs)), err
	}
	return res.DeletedCount, nil
}

func botFilter(botID string) bson.M {
	return bson.M{"message_metadata.message_destination.bot_id": botID}
}

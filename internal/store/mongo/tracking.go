package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/waclerk/waclerk/internal/store"
)

// MongoTrackingStore implements store.TrackingStore across tracked_groups,
// tracked_group_periods, and group_tracking_state.
type MongoTrackingStore struct {
	groups  *mongo.Collection
	periods *mongo.Collection
	state   *mongo.Collection
}

func NewMongoTrackingStore(db *mongo.Database) *MongoTrackingStore {
	return &MongoTrackingStore{
		groups:  db.Collection(collGroups),
		periods: db.Collection(collPeriods),
		state:   db.Collection(collTrackingState),
	}
}

func (s *MongoTrackingStore) SaveResult(ctx context.Context, group store.TrackedGroup, period *store.TrackedPeriod, state store.TrackingState) error {
	key := bson.M{"bot_id": group.BotID, "group_id": group.GroupID}
	groupUpdate := bson.M{
		"$set": bson.M{
			"display_name":  group.DisplayName,
			"cron_schedule": group.CronSchedule,
			"updated_at":    time.Now().UTC(),
		},
	}
	if len(group.AlternateIdentifiers) > 0 {
		groupUpdate["$addToSet"] = bson.M{
			"alternate_identifiers": bson.M{"$each": group.AlternateIdentifiers},
		}
	}
	if _, err := s.groups.UpdateOne(ctx, key, groupUpdate, options.Update().SetUpsert(true)); err != nil {
		return mapErr(err)
	}

	if period != nil {
		if period.CreatedAt.IsZero() {
			period.CreatedAt = time.Now().UTC()
		}
		if _, err := s.periods.InsertOne(ctx, period); err != nil {
			return mapErr(err)
		}
	}

	stateKey := bson.M{"bot_id": state.BotID, "group_id": state.GroupID}
	_, err := s.state.UpdateOne(ctx, stateKey,
		bson.M{"$set": bson.M{"last_run_ms": state.LastRunMS}},
		options.Update().SetUpsert(true),
	)
	return mapErr(err)
}

func (s *MongoTrackingStore) GetState(ctx context.Context, botID, groupID string) (*store.TrackingState, error) {
	var st store.TrackingState
	err := s.state.FindOne(ctx, bson.M{"bot_id": botID, "group_id": groupID}).Decode(&st)
	if err != nil {
		return nil, mapErr(err)
	}
	return &st, nil
}

func (s *MongoTrackingStore) RecentPeriods(ctx context.Context, botID, groupID string, n int64) ([]store.TrackedPeriod, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "periodEnd", Value: -1}}).
		SetLimit(n)
	cur, err := s.periods.Find(ctx, bson.M{"bot_id": botID, "group_id": groupID}, opts)
	if err != nil {
		return nil, err
	}
	var out []store.TrackedPeriod
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoTrackingStore) ListPeriods(ctx context.Context, botID, groupID string) ([]store.TrackedPeriod, error) {
	filter := bson.M{"bot_id": botID}
	if groupID != "" {
		filter["group_id"] = groupID
	}
	cur, err := s.periods.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "periodEnd", Value: -1}}))
	if err != nil {
		return nil, err
	}
	var out []store.TrackedPeriod
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoTrackingStore) ListGroups(ctx context.Context, botID string) ([]store.TrackedGroup, error) {
	cur, err := s.groups.Find(ctx, bson.M{"bot_id": botID})
	if err != nil {
		return nil, err
	}
	var out []store.TrackedGroup
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoTrackingStore) DeleteGroup(ctx context.Context, botID, groupID string) (int64, error) {
	key := bson.M{"bot_id": botID, "group_id": groupID}
	var total int64
	for _, coll := range []*mongo.Collection{s.periods, s.state, s.groups} {
		res, err := coll.DeleteMany(ctx, key)
		if err != nil {
			return total, err
		}
		total += res.DeletedCount
	}
	return total, nil
}

func (s *MongoTrackingStore) DeleteBot(ctx context.Context, botID string) (int64, error) {
	key := bson.M{"bot_id": botID}
	var total int64
	for _, coll := range []*mongo.Collection{s.periods, s.state, s.groups} {
		res, err := coll.DeleteMany(ctx, key)
		if err != nil {
			return total, err
		}
		total += res.DeletedCount
	}
	return total, nil
}

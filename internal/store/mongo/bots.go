package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/waclerk/waclerk/internal/botcfg"
	"github.com/waclerk/waclerk/internal/store"
)

// MongoBotStore implements store.BotStore on bot_configurations.
type MongoBotStore struct {
	coll *mongo.Collection
}

func NewMongoBotStore(db *mongo.Database) *MongoBotStore {
	return &MongoBotStore{coll: db.Collection(collBots)}
}

func (s *MongoBotStore) Get(ctx context.Context, botID string) (*store.BotRecord, error) {
	var rec store.BotRecord
	err := s.coll.FindOne(ctx, bson.M{"config_data.bot_id": botID}).Decode(&rec)
	if err != nil {
		return nil, mapErr(err)
	}
	return &rec, nil
}

func (s *MongoBotStore) List(ctx context.Context, botIDs []string) ([]store.BotRecord, error) {
	filter := bson.M{}
	if botIDs != nil {
		filter["config_data.bot_id"] = bson.M{"$in": botIDs}
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var recs []store.BotRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *MongoBotStore) ListByOwner(ctx context.Context, userID string) ([]store.BotRecord, error) {
	cur, err := s.coll.Find(ctx, bson.M{"config_data.user_id": userID})
	if err != nil {
		return nil, err
	}
	var recs []store.BotRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *MongoBotStore) Put(ctx context.Context, cfg botcfg.BotConfig) error {
	now := time.Now().UTC()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"config_data.bot_id": cfg.BotID},
		bson.M{
			"$set":         bson.M{"config_data": cfg, "updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	return mapErr(err)
}

func (s *MongoBotStore) Patch(ctx context.Context, botID string, fields map[string]any) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range fields {
		set["config_data."+k] = v
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"config_data.bot_id": botID}, bson.M{"$set": set})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoBotStore) Delete(ctx context.Context, botID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"config_data.bot_id": botID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoBotStore) SetUserJID(ctx context.Context, botID, jid string) error {
	update := bson.M{"$set": bson.M{"user_jid": jid, "updated_at": time.Now().UTC()}}
	if jid == "" {
		update = bson.M{
			"$unset": bson.M{"user_jid": ""},
			"$set":   bson.M{"updated_at": time.Now().UTC()},
		}
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"config_data.bot_id": botID}, update)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoBotStore) SetActivated(ctx context.Context, botID string, activated bool) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"config_data.bot_id": botID},
		bson.M{"$set": bson.M{"config_data.activated": activated, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

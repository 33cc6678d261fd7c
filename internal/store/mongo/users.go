package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/waclerk/waclerk/internal/store"
)

// MongoUserStore implements store.UserStore on user_auth_credentials.
type MongoUserStore struct {
	coll *mongo.Collection
}

func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{coll: db.Collection(collUsers)}
}

func (s *MongoUserStore) Get(ctx context.Context, userID string) (*store.User, error) {
	var u store.User
	if err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&u); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (s *MongoUserStore) List(ctx context.Context, userIDs []string) ([]store.User, error) {
	filter := bson.M{}
	if userIDs != nil {
		filter["user_id"] = bson.M{"$in": userIDs}
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var users []store.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *MongoUserStore) Create(ctx context.Context, u store.User) error {
	_, err := s.coll.InsertOne(ctx, u)
	return mapErr(err)
}

func (s *MongoUserStore) Update(ctx context.Context, userID string, fields map[string]any) error {
	set := bson.M{"updated_at": time.Now().UTC()}
	for k, v := range fields {
		set[k] = v
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": set})
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) Delete(ctx context.Context, userID string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) AddOwnedBot(ctx context.Context, userID, botID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$addToSet": bson.M{"owned_bots": botID},
			"$set":      bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) RemoveOwnedBot(ctx context.Context, userID, botID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{
			"$pull": bson.M{"owned_bots": botID},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
		},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) IncDollarsUsed(ctx context.Context, userID string, amount float64) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$inc": bson.M{"quota.dollars_used": amount}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) SetQuotaEnabled(ctx context.Context, userID string, enabled bool) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{"quota.enabled": enabled, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) ListQuotaEnabled(ctx context.Context) ([]store.User, error) {
	cur, err := s.coll.Find(ctx, bson.M{"quota.enabled": true})
	if err != nil {
		return nil, err
	}
	var users []store.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *MongoUserStore) ListDueForReset(ctx context.Context, now time.Time) ([]store.User, error) {
	// last_reset + reset_days*86400000ms <= now, evaluated server-side.
	// Owners disabled by an overrun are included so the reset re-enables
	// them; reset_days = 0 opts out of the cycle entirely.
	filter := bson.M{
		"quota.reset_days": bson.M{"$gt": 0},
		"$expr": bson.M{
			"$lte": bson.A{
				bson.M{"$add": bson.A{
					"$quota.last_reset",
					bson.M{"$multiply": bson.A{"$quota.reset_days", int64(86400000)}},
				}},
				now,
			},
		},
	}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var users []store.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *MongoUserStore) ResetQuota(ctx context.Context, userID string, now time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": bson.M{
			"quota.dollars_used": float64(0),
			"quota.last_reset":   now,
			"quota.enabled":      true,
			"updated_at":         now,
		}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoUserStore) CountAdmins(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{"role": store.RoleAdmin})
}

package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/waclerk/waclerk/internal/store"
)

// MongoSessionStore implements store.SessionStore on authenticated_sessions
// plus the stale archive collection.
type MongoSessionStore struct {
	coll  *mongo.Collection
	stale *mongo.Collection
}

func NewMongoSessionStore(db *mongo.Database) *MongoSessionStore {
	return &MongoSessionStore{
		coll:  db.Collection(collSessions),
		stale: db.Collection(collStaleSessions),
	}
}

func (s *MongoSessionStore) Create(ctx context.Context, sess store.Session) error {
	_, err := s.coll.InsertOne(ctx, sess)
	return mapErr(err)
}

func (s *MongoSessionStore) Get(ctx context.Context, sessionID string) (*store.Session, error) {
	var sess store.Session
	if err := s.coll.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&sess); err != nil {
		return nil, mapErr(err)
	}
	return &sess, nil
}

func (s *MongoSessionStore) Touch(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$set": bson.M{"last_accessed": at}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoSessionStore) AddOwnedBot(ctx context.Context, sessionID, botID string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"session_id": sessionID},
		bson.M{"$addToSet": bson.M{"owned_bots": botID}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *MongoSessionStore) Invalidate(ctx context.Context, sessionID, reason string, at time.Time) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	archived := store.StaleSession{Session: *sess, InvalidatedAt: at, Reason: reason}
	if _, err := s.stale.InsertOne(ctx, archived); err != nil {
		return mapErr(err)
	}
	_, err = s.coll.DeleteOne(ctx, bson.M{"session_id": sessionID})
	return err
}

func (s *MongoSessionStore) PurgeStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.stale.DeleteMany(ctx, bson.M{"invalidated_at": bson.M{"$lt": olderThan}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

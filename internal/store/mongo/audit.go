package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/waclerk/waclerk/internal/store"
)

// MongoAuditStore implements store.AuditStore on audit_logs. Retention is
// enforced by the TTL index on timestamp.
type MongoAuditStore struct {
	coll *mongo.Collection
}

func NewMongoAuditStore(db *mongo.Database) *MongoAuditStore {
	return &MongoAuditStore{coll: db.Collection(collAudit)}
}

func (s *MongoAuditStore) Insert(ctx context.Context, ev store.AuditEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.coll.InsertOne(ctx, ev)
	return mapErr(err)
}

// MongoLockoutStore implements store.LockoutStore on account_lockouts.
type MongoLockoutStore struct {
	coll *mongo.Collection
}

func NewMongoLockoutStore(db *mongo.Database) *MongoLockoutStore {
	return &MongoLockoutStore{coll: db.Collection(collLockouts)}
}

func (s *MongoLockoutStore) Get(ctx context.Context, userID string) (*store.Lockout, error) {
	var l store.Lockout
	if err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&l); err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}

func (s *MongoLockoutStore) Upsert(ctx context.Context, l store.Lockout) error {
	_, err := s.coll.ReplaceOne(ctx,
		bson.M{"user_id": l.UserID},
		l,
		options.Replace().SetUpsert(true),
	)
	return mapErr(err)
}

func (s *MongoLockoutStore) Clear(ctx context.Context, userID string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"user_id": userID})
	return err
}

func (s *MongoLockoutStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"locked_until": bson.M{"$lt": now}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

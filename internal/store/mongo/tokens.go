package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/waclerk/waclerk/internal/store"
)

// MongoTokenStore implements store.TokenStore on token_consumption.
type MongoTokenStore struct {
	coll *mongo.Collection
}

func NewMongoTokenStore(db *mongo.Database) *MongoTokenStore {
	return &MongoTokenStore{coll: db.Collection(collTokens)}
}

func (s *MongoTokenStore) Insert(ctx context.Context, ev store.TokenEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.coll.InsertOne(ctx, ev)
	return mapErr(err)
}

// MongoMenuStore implements store.MenuStore on global_configurations.
type MongoMenuStore struct {
	coll *mongo.Collection
}

func NewMongoMenuStore(db *mongo.Database) *MongoMenuStore {
	return &MongoMenuStore{coll: db.Collection(collGlobals)}
}

func (s *MongoMenuStore) TokenMenu(ctx context.Context) (*store.TokenMenu, error) {
	var menu store.TokenMenu
	err := s.coll.FindOne(ctx, bson.M{"_id": "token_menu"}).Decode(&menu)
	if err != nil {
		return nil, mapErr(err)
	}
	return &menu, nil
}

// Package mongo implements the store interfaces on MongoDB. Writes use the
// atomic update operators ($set, $inc, $addToSet, $pull); there are no
// multi-document transactions, and cross-collection moves are reconciled by
// the next lifecycle event.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/waclerk/waclerk/internal/store"
)

// Collection names.
const (
	collBots          = "bot_configurations"
	collQueues        = "queues"
	collUsers         = "user_auth_credentials"
	collSessions      = "authenticated_sessions"
	collStaleSessions = "stale_authenticated_sessions"
	collAudit         = "audit_logs"
	collLockouts      = "account_lockouts"
	collGroups        = "tracked_groups"
	collPeriods       = "tracked_group_periods"
	collTrackingState = "group_tracking_state"
	collTokens        = "token_consumption"
	collGlobals       = "global_configurations"

	collDeliveryPrefix = "async_message_delivery_queue_"
)

const auditTTL = 30 * 24 * time.Hour

// Client wraps the driver connection and the selected database.
type Client struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB and verifies the topology with a ping.
func Connect(ctx context.Context, uri, database string, selectionTimeout time.Duration) (*Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(selectionTimeout)

	cl, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, selectionTimeout)
	defer cancel()
	if err := cl.Ping(pingCtx, nil); err != nil {
		_ = cl.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &Client{client: cl, db: cl.Database(database)}, nil
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Database exposes the selected database (used by the migrate command).
func (c *Client) Database() *mongo.Database { return c.db }

// NewStores builds the full store set on this connection.
func (c *Client) NewStores() *store.Stores {
	return &store.Stores{
		Bots:     NewMongoBotStore(c.db),
		Users:    NewMongoUserStore(c.db),
		Queues:   NewMongoQueueStore(c.db),
		Sessions: NewMongoSessionStore(c.db),
		Audit:    NewMongoAuditStore(c.db),
		Lockouts: NewMongoLockoutStore(c.db),
		Tracking: NewMongoTrackingStore(c.db),
		Delivery: NewMongoDeliveryStore(c.db),
		Tokens:   NewMongoTokenStore(c.db),
		Menu:     NewMongoMenuStore(c.db),
	}
}

// EnsureIndexes creates every index the collections rely on. Safe to call on
// every startup; existing identical indexes are no-ops.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	type spec struct {
		coll   string
		models []mongo.IndexModel
	}
	specs := []spec{
		{collBots, []mongo.IndexModel{
			{Keys: bson.D{{Key: "config_data.bot_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "config_data.user_id", Value: 1}}},
		}},
		{collQueues, []mongo.IndexModel{
			{Keys: bson.D{{Key: "bot_id", Value: 1}, {Key: "correspondent_id", Value: 1}, {Key: "id", Value: 1}}},
		}},
		{collUsers, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{collSessions, []mongo.IndexModel{
			{Keys: bson.D{{Key: "session_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		}},
		{collAudit, []mongo.IndexModel{
			{Keys: bson.D{{Key: "timestamp", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32(auditTTL / time.Second))},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
			{Keys: bson.D{{Key: "event_type", Value: 1}}},
		}},
		{collLockouts, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
			{Keys: bson.D{{Key: "locked_until", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		}},
		{collGroups, []mongo.IndexModel{
			{Keys: bson.D{{Key: "bot_id", Value: 1}, {Key: "group_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{collPeriods, []mongo.IndexModel{
			{Keys: bson.D{{Key: "bot_id", Value: 1}, {Key: "group_id", Value: 1}, {Key: "periodEnd", Value: -1}}},
		}},
		{collTrackingState, []mongo.IndexModel{
			{Keys: bson.D{{Key: "bot_id", Value: 1}, {Key: "group_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{collTokens, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: 1}}},
			{Keys: bson.D{{Key: "bot_id", Value: 1}, {Key: "timestamp", Value: 1}}},
		}},
	}
	for _, seg := range []string{store.SegmentActive, store.SegmentHolding, store.SegmentFailed} {
		specs = append(specs, spec{collDeliveryPrefix + seg, []mongo.IndexModel{
			{Keys: bson.D{{Key: "message_metadata.message_destination.user_id", Value: 1}}},
			{Keys: bson.D{{Key: "message_metadata.message_destination.bot_id", Value: 1}}},
			{Keys: bson.D{{Key: "message_id", Value: 1}}},
		}})
	}

	for _, s := range specs {
		if _, err := c.db.Collection(s.coll).Indexes().CreateMany(ctx, s.models); err != nil {
			return fmt.Errorf("ensure indexes on %s: %w", s.coll, err)
		}
	}
	return nil
}

// mapErr normalizes driver errors into store sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case err == mongo.ErrNoDocuments:
		return store.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return store.ErrConflict
	default:
		return err
	}
}

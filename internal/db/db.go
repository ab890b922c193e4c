// Package db manages MongoDB connections, collections and indexes.
package db

import (
	"context" // For connection timeout/cancellation
	"fmt"     // Error formatting
	"time"    // Duration for timeouts

	"go.mongodb.org/mongo-driver/v2/bson"           // Index keys and filters
	"go.mongodb.org/mongo-driver/v2/mongo"          // MongoDB driver
	"go.mongodb.org/mongo-driver/v2/mongo/options"  // MongoDB options
	"go.mongodb.org/mongo-driver/v2/mongo/readpref" // MongoDB read preference
)

// DefaultDatabase is used when no database name is configured.
const DefaultDatabase = "hittalaget"

// Index names. Stores inspect duplicate key errors for these to tell a
// short id collision apart from a conversation dedup conflict.
const (
	IndexUniqueHandle         = "uniq_handle"
	IndexUniquePair           = "uniq_pair"
	IndexUniqueConversationID = "uniq_conversation_id"
	IndexUniqueActiveInquiry  = "uniq_active_inquiry"
	IndexUniqueAdID           = "uniq_ad_id"
	IndexUniqueTeamID         = "uniq_team_id"
	IndexUniquePlayer         = "uniq_player_sport"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (thread-safe, can be reused)
	client *mongo.Client

	// db is reference to the configured database within MongoDB
	db *mongo.Database
}

// New connects to MongoDB and returns a Client.
func New(ctx context.Context, mongoURI, database string) (*Client, error) {
	// SetConnectTimeout: fail fast if MongoDB is unreachable
	opts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second)

	// This doesn't actually connect yet, just creates the client
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// If ping doesn't complete in 5 seconds, fail
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if database == "" {
		database = DefaultDatabase
	}

	return &Client{
		client: client,
		db:     client.Database(database),
	}, nil
}

// UsersCollection returns the users collection.
func (c *Client) UsersCollection() *mongo.Collection {
	return c.db.Collection("users")
}

// TeamsCollection returns the teams collection.
func (c *Client) TeamsCollection() *mongo.Collection {
	return c.db.Collection("teams")
}

// AdsCollection returns the ads collection.
func (c *Client) AdsCollection() *mongo.Collection {
	return c.db.Collection("ads")
}

// PlayersCollection returns the players collection.
func (c *Client) PlayersCollection() *mongo.Collection {
	return c.db.Collection("players")
}

// DirectConversationsCollection returns the direct_conversations collection.
func (c *Client) DirectConversationsCollection() *mongo.Collection {
	return c.db.Collection("direct_conversations")
}

// AdConversationsCollection returns the ad_conversations collection.
func (c *Client) AdConversationsCollection() *mongo.Collection {
	return c.db.Collection("ad_conversations")
}

// MessagesCollection returns the messages collection.
func (c *Client) MessagesCollection() *mongo.Collection {
	return c.db.Collection("messages")
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// RunInTx runs fn inside a multi-document transaction. The context handed to
// fn carries the session; store calls made with it join the transaction.
// Nested calls reuse the outer transaction. Transactions need a replica set
// or sharded cluster.
func (c *Client) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := c.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	// WithTransaction retries the callback on TransientTransactionError and
	// the commit on UnknownTransactionCommitResult.
	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return nil, fn(ctx)
	})
	return err
}

// CreateIndexes creates the indexes that back the store's uniqueness
// guarantees. Every dedup and id-allocation rule relies on one of these.
func (c *Client) CreateIndexes(ctx context.Context) error {
	unique := func(name string) *options.IndexOptionsBuilder {
		return options.Index().SetUnique(true).SetName(name)
	}

	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{c.UsersCollection(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "handle", Value: 1}}, Options: unique(IndexUniqueHandle)},
		}},
		{c.TeamsCollection(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "team_id", Value: 1}}, Options: unique(IndexUniqueTeamID)},
		}},
		{c.AdsCollection(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "ad_id", Value: 1}}, Options: unique(IndexUniqueAdID)},
		}},
		{c.PlayersCollection(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "owner", Value: 1}, {Key: "sport", Value: 1}}, Options: unique(IndexUniquePlayer)},
		}},
		{c.DirectConversationsCollection(), []mongo.IndexModel{
			// one conversation per unordered pair of handles
			{Keys: bson.D{{Key: "user_lo", Value: 1}, {Key: "user_hi", Value: 1}}, Options: unique(IndexUniquePair)},
			{Keys: bson.D{{Key: "members", Value: 1}}},
		}},
		{c.AdConversationsCollection(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "conversation_id", Value: 1}}, Options: unique(IndexUniqueConversationID)},
			// at most one open conversation per inquirer and ad; closed ones
			// are left out of the index so history can pile up
			{
				Keys:    bson.D{{Key: "inquirer", Value: 1}, {Key: "ad_id", Value: 1}},
				Options: unique(IndexUniqueActiveInquiry).SetPartialFilterExpression(bson.M{"active": true}),
			},
			{Keys: bson.D{{Key: "members", Value: 1}}},
		}},
		{c.MessagesCollection(), []mongo.IndexModel{
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		}},
	}

	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateMany(ctx, ix.models); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", ix.coll.Name(), err)
		}
	}
	return nil
}

// Drop removes every collection; used by integration tests.
func (c *Client) Drop(ctx context.Context) error {
	return c.db.Drop(ctx)
}

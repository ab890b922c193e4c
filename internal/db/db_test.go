package db

import (
	"context"
	"errors"
	"os"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// These tests are integration tests and require a running MongoDB replica set.
// Set MONGODB_URI in the environment before running them.

func connect(t *testing.T) *Client {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	c, err := New(context.Background(), uri, "hittalaget_db_test")
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Drop(context.Background())
		_ = c.Close(context.Background())
	})
	return c
}

func TestNewAndCreateIndexes(t *testing.T) {
	c := connect(t)

	// should be able to create indexes without error, twice
	if err := c.CreateIndexes(context.Background()); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	if err := c.CreateIndexes(context.Background()); err != nil {
		t.Fatalf("CreateIndexes is not idempotent: %v", err)
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	c := connect(t)
	ctx := context.Background()
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	boom := errors.New("boom")
	err := c.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := c.UsersCollection().InsertOne(ctx, bson.M{"handle": "ghost"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	n, err := c.UsersCollection().CountDocuments(ctx, bson.M{"handle": "ghost"})
	if err != nil {
		t.Fatalf("CountDocuments failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("insert inside failed transaction was committed")
	}
}

package data

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/db"
)

// Integration tests run against MONGODB_URI when it is set, otherwise against
// a throwaway replica-set container. Without either they are skipped.

var (
	containerOnce sync.Once
	container     *mongodb.MongoDBContainer
	containerURI  string
	containerErr  error
)

func TestMain(m *testing.M) {
	code := m.Run()
	if container != nil {
		_ = container.Terminate(context.Background())
	}
	os.Exit(code)
}

func mongoURI(t *testing.T) string {
	t.Helper()
	if uri := os.Getenv("MONGODB_URI"); uri != "" {
		return uri
	}
	if testing.Short() {
		t.Skip("MONGODB_URI not set and -short given; skipping integration test")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	containerOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		container, containerErr = mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
		if containerErr != nil {
			return
		}
		containerURI, containerErr = container.ConnectionString(ctx)
		if containerErr == nil && !strings.Contains(containerURI, "directConnection") {
			sep := "/?"
			if strings.Contains(containerURI, "?") {
				sep = "&"
			}
			containerURI += sep + "directConnection=true"
		}
	})
	if containerErr != nil {
		t.Skipf("no MongoDB available: %v", containerErr)
	}
	return containerURI
}

// setupStore returns a Store over a fresh database with indexes in place.
func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	name := "hittalaget_test_" + strings.ToLower(strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	if len(name) > 60 {
		name = name[:60]
	}

	c, err := db.New(ctx, mongoURI(t), name)
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	_ = c.Drop(ctx)
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Drop(context.Background())
		_ = c.Close(context.Background())
	})
	return NewStore(c)
}

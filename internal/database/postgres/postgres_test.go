//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facesnap/internal/clustering"
	"github.com/kozaktomas/facesnap/internal/config"
	"github.com/kozaktomas/facesnap/internal/database"
	"github.com/kozaktomas/facesnap/internal/database/storetest"
	"github.com/kozaktomas/facesnap/internal/embedding"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 10,
		MaxIdleConns: 2,
	}

	pool, err := Initialize(ctx, cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to initialize pool: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

// sharedStore keeps the pool open when a test closes the store.
type sharedStore struct {
	*Store
}

func (sharedStore) Close() error { return nil }

func truncate(t *testing.T, pool *Pool) {
	t.Helper()
	if _, err := pool.Exec(context.Background(),
		"TRUNCATE face_records, clusters, events RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("Failed to truncate tables: %v", err)
	}
}

func TestStoreContract(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	storetest.Run(t, func(t *testing.T) database.EncodingStore {
		truncate(t, pool)
		return sharedStore{NewStore(pool)}
	})
}

func TestMigrate_Idempotent(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	applied, err := pool.Migrate(context.Background())
	if err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("Expected no pending migrations, got %v", applied)
	}

	versions, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		t.Fatalf("Failed to list migrations: %v", err)
	}
	if len(versions) == 0 || versions[0] != "001_initial.sql" {
		t.Errorf("Expected 001_initial.sql to be applied, got %v", versions)
	}
}

func TestEngine_ParallelAssignConverges(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	store := NewStore(pool)
	policy := clustering.DefaultPolicy()
	policy.Dimension = 4
	engine, err := clustering.New(store, policy)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	const workers = 12
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := embedding.Vector{0.1, 0.2, 0.3, 0.4 + float64(i)*0.001}
			if _, err := engine.Assign(ctx, "concert", v); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Assign failed: %v", err)
	}

	snap, err := store.ListClusters(ctx, "concert")
	if err != nil {
		t.Fatalf("Failed to list clusters: %v", err)
	}
	if len(snap.Clusters) != 1 {
		t.Fatalf("Expected 1 cluster, got %d", len(snap.Clusters))
	}
	if snap.Clusters[0].MemberCount != workers {
		t.Errorf("Expected member count %d, got %d", workers, snap.Clusters[0].MemberCount)
	}
}

//go:build integration

package main

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/yaml-schema-client/pkg/cache"
	"github.com/Sternrassler/yaml-schema-client/pkg/config"
	"github.com/Sternrassler/yaml-schema-client/pkg/store"
)

func setupTestRedis(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cleanup := func() {
		redisC.Terminate(ctx)
	}

	return host + ":" + port.Port(), cleanup
}

func TestOpenStore_Redis(t *testing.T) {
	addr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	s, closeStore, err := openStore(ctx, config.StorageConfig{Backend: config.BackendRedis, RedisAddr: addr})
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer closeStore()

	manager := cache.NewManager(t.TempDir(), s)
	if !manager.PutSchema(ctx, "https://example.com/s.json", `"e1"`, []byte(testSchema)) {
		t.Fatal("PutSchema() = false, want true")
	}

	// The index must be visible to a second connection.
	redisClient := redis.NewClient(&redis.Options{Addr: addr})
	defer redisClient.Close()

	n, err := redisClient.Exists(ctx, store.DefaultRedisPrefix+cache.IndexKey).Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if n != 1 {
		t.Errorf("index key %q not found in redis", cache.IndexKey)
	}
}

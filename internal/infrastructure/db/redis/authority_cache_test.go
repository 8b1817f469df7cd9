package redis

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedis runs a throwaway Redis and returns a connected client.
// Set IDENTITY_INTEGRATION=1 to run it; a Docker daemon is required.
func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("IDENTITY_INTEGRATION") != "1" {
		t.Skip("set IDENTITY_INTEGRATION=1 to run Redis integration tests")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := Connect(ctx, Config{Addr: net.JoinHostPort(host, port.Port())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestAuthorityCache_RoundTrip(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	cache := NewAuthorityCache(client, time.Minute)

	_, gen, ok, err := cache.Get(ctx, "email:a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, gen)

	stored, err := cache.Set(ctx, "email:a@x.com", 0, []string{"ROLE_USER", "ROLE_ADMIN"})
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = cache.Set(ctx, "external_id:g1", 0, []string{"ROLE_USER"})
	require.NoError(t, err)
	assert.True(t, stored)

	got, _, ok, err := cache.Get(ctx, "email:a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"ROLE_USER", "ROLE_ADMIN"}, got)

	ttl, err := client.TTL(ctx, "authorities:email:a@x.com").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, cache.Invalidate(ctx, "email:a@x.com", "external_id:g1"))
	for _, key := range []string{"email:a@x.com", "external_id:g1"} {
		_, gen, ok, err = cache.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
		assert.Equal(t, int64(1), gen, key)
	}
	require.NoError(t, cache.Invalidate(ctx))
}

func TestAuthorityCache_EmptyListIsAHit(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	cache := NewAuthorityCache(client, 0)

	_, err := cache.Set(ctx, "email:none@x.com", 0, []string{})
	require.NoError(t, err)
	got, _, ok, err := cache.Get(ctx, "email:none@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}

func TestAuthorityCache_CorruptValue(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	cache := NewAuthorityCache(client, time.Minute)

	require.NoError(t, client.Set(ctx, "authorities:email:bad@x.com", "not-json", time.Minute).Err())
	_, _, ok, err := cache.Get(ctx, "email:bad@x.com")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestAuthorityCache_StaleGenerationIsRejected(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	cache := NewAuthorityCache(client, time.Minute)

	_, gen, ok, err := cache.Get(ctx, "email:a@x.com")
	require.NoError(t, err)
	require.False(t, ok)

	// A role change lands between the read and the write.
	require.NoError(t, cache.Invalidate(ctx, "email:a@x.com"))

	stored, err := cache.Set(ctx, "email:a@x.com", gen, []string{"ROLE_USER", "ROLE_ADMIN"})
	require.NoError(t, err)
	assert.False(t, stored)
	_, gen, ok, err = cache.Get(ctx, "email:a@x.com")
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err = cache.Set(ctx, "email:a@x.com", gen, []string{"ROLE_USER"})
	require.NoError(t, err)
	assert.True(t, stored)
	got, _, ok, err := cache.Get(ctx, "email:a@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"ROLE_USER"}, got)

	genTTL, err := client.TTL(ctx, "authorities:gen:email:a@x.com").Result()
	require.NoError(t, err)
	assert.Greater(t, genTTL, time.Minute)
}

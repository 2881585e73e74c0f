package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nexbridge/snowgate/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache + cleanup.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	redisURL := "redis://" + host + ":" + port.Port()
	rc, err := cache.NewRedisCache(redisURL)
	require.NoError(t, err)

	return rc
}

// --- Ping ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	err := rc.Ping(context.Background())
	assert.NoError(t, err)
}

// --- Set / Get roundtrip ---

func TestSetGet_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "test:key", []byte("hello"), 10*time.Second)
	require.NoError(t, err)

	val, found, err := rc.Get(ctx, "test:key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)
}

func TestGet_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	val, found, err := rc.Get(context.Background(), "nonexistent:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestSet_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	err := rc.Set(ctx, "expiry:key", []byte("temp"), 1*time.Second)
	require.NoError(t, err)

	// Immediately should exist
	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.True(t, found)

	// Wait for TTL to expire
	time.Sleep(1500 * time.Millisecond)

	_, found, err = rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

// --- Delete ---

func TestDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "del:key", []byte("bye"), 10*time.Second))

	err := rc.Delete(ctx, "del:key")
	require.NoError(t, err)

	_, found, err := rc.Get(ctx, "del:key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete_NonExistent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)

	err := rc.Delete(context.Background(), "does:not:exist")
	assert.NoError(t, err)
}

// --- IncrWindow ---

func TestIncrWindow_Counts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:test:" + uuid.NewString()[:8]

	for want := int64(1); want <= 3; want++ {
		count, remaining, err := rc.IncrWindow(ctx, key, 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, count)
		assert.Greater(t, remaining, time.Duration(0))
		assert.LessOrEqual(t, remaining, 10*time.Second)
	}
}

func TestIncrWindow_WindowStartsOnFirstHit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:window:" + uuid.NewString()[:8]

	_, remaining, err := rc.IncrWindow(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, remaining)

	time.Sleep(1100 * time.Millisecond)

	// The clock started on the first hit; the second hit must not reset it.
	_, remaining, err = rc.IncrWindow(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Less(t, remaining, 10*time.Second)
}

func TestIncrWindow_Expires(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()
	key := "ratelimit:expiry:" + uuid.NewString()[:8]

	_, _, err := rc.IncrWindow(ctx, key, 1*time.Second)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	// After expiry, should start from 1 again
	count, _, err := rc.IncrWindow(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestIncrWindow_SeparateKeysIndependent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	keyA := "ratelimit:a:" + uuid.NewString()[:8]
	keyB := "ratelimit:b:" + uuid.NewString()[:8]

	for i := 0; i < 3; i++ {
		_, _, err := rc.IncrWindow(ctx, keyA, 10*time.Second)
		require.NoError(t, err)
	}

	count, _, err := rc.IncrWindow(ctx, keyB, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

// --- Cache Key Builders ---

func TestLicenseKey(t *testing.T) {
	key := cache.LicenseKey("SNOW-ENT-ACME-1234")
	assert.Equal(t, "license:SNOW-ENT-ACME-1234", key)
}

func TestMasterLicenseKey(t *testing.T) {
	key := cache.MasterLicenseKey("SNOW-SI-NEXB-0001")
	assert.Equal(t, "license:master:SNOW-SI-NEXB-0001", key)
}

func TestRateLimitKey(t *testing.T) {
	customerID := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	key := cache.RateLimitKey(customerID)
	assert.Equal(t, "ratelimit:11111111-1111-1111-1111-111111111111", key)
}

func TestKeyBuilders_NonColliding(t *testing.T) {
	customerID := uuid.New()

	keys := map[string]bool{
		cache.LicenseKey("SNOW-ENT-ACME-1234"):       true,
		cache.MasterLicenseKey("SNOW-ENT-ACME-1234"): true,
		cache.RateLimitKey(customerID):               true,
	}
	assert.Len(t, keys, 3, "all keys should be unique")
}

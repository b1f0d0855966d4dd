package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	day := time.Date(2026, 3, 15, 23, 0, 0, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, "daily_picks:views:acct:2026-03-15", DailyPickViewKey("acct", day))
	assert.Equal(t, "entitlements:acct", EntitlementChannel("acct"))
}

func TestIncrWithTTL(t *testing.T) {
	client, err := NewClient("redis://localhost:6379/15")
	if err != nil {
		t.Skip("Redis not available for testing")
	}
	defer client.Close()

	ctx := context.Background()
	key := "test:incr-with-ttl"
	client.Del(ctx, key)

	n, err := client.IncrWithTTL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = client.IncrWithTTL(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

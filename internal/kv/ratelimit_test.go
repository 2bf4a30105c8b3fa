package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	store := NewMemoryStore()
	rl := NewRateLimiter(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := rl.CheckAndIncrement(ctx, "dev_1", "heartbeat", 3, time.Minute)
		require.True(t, d.Allowed, "request %d should be allowed", i+1)
	}

	d := rl.CheckAndIncrement(ctx, "dev_1", "heartbeat", 3, time.Minute)
	require.False(t, d.Allowed, "the 4th request within the window must be denied")
}

func TestRateLimiterIsolatesEndpointsAndDevices(t *testing.T) {
	store := NewMemoryStore()
	rl := NewRateLimiter(store)
	ctx := context.Background()

	rl.CheckAndIncrement(ctx, "dev_1", "heartbeat", 1, time.Minute)
	d := rl.CheckAndIncrement(ctx, "dev_1", "command_poll", 1, time.Minute)
	require.True(t, d.Allowed)

	d = rl.CheckAndIncrement(ctx, "dev_2", "heartbeat", 1, time.Minute)
	require.True(t, d.Allowed)
}

package kv

import (
	"context"
	"fmt"
	"time"
)

// Decision is the outcome of a rate-limit check (C3).
type Decision struct {
	Allowed   bool
	Remaining int
	ResetMS   int64
}

// RateLimiter implements the fixed-window counter contract (C3): a window
// begins at the first hit for (device_id, endpoint) and resets once the
// wall clock crosses window_start + window. On storage failure it fails
// open, per spec.md §4.3 ("the replay guard still blocks actual
// duplicates").
type RateLimiter struct {
	store Store
	now   func() time.Time
}

// NewRateLimiter wraps store.
func NewRateLimiter(store Store) *RateLimiter {
	return &RateLimiter{store: store, now: time.Now}
}

// CheckAndIncrement increments the counter for (deviceID, endpoint) and
// reports whether the caller stays within max requests per window.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, deviceID, endpoint string, max int, window time.Duration) Decision {
	key := rateLimitKey(deviceID, endpoint)
	count, err := r.store.IncrWithWindow(ctx, key, window)
	if err != nil {
		// Fail open: the replay guard already blocks literal duplicates,
		// so an unavailable rate-limit store should not stop heartbeats.
		return Decision{Allowed: true, Remaining: max, ResetMS: r.now().Add(window).UnixMilli()}
	}

	ttl, ttlErr := r.store.TTL(ctx, key)
	resetMS := r.now().Add(window).UnixMilli()
	if ttlErr == nil && ttl > 0 {
		resetMS = r.now().Add(ttl).UnixMilli()
	}

	remaining := max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   int(count) <= max,
		Remaining: remaining,
		ResetMS:   resetMS,
	}
}

func rateLimitKey(deviceID, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:%s", deviceID, endpoint)
}

// Defaults per spec.md §4.3.
const (
	HeartbeatMax       = 60
	HeartbeatWindow    = 60 * time.Second
	CommandPollMax     = 30
	CommandPollWindow  = 60 * time.Second
	AuditBatchMax      = 10
	AuditBatchWindow   = 60 * time.Second
)

package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fleetward/control-plane/internal/domain/enrollmenttoken"
)

// TokenCache is the fast-lookup half of the enrollment-token service (C10):
// the relational store remains authoritative for administrator listing,
// this cache is what `validate` consults on the agent-facing hot path
// (spec.md §4.10).
type TokenCache struct {
	store Store
}

// NewTokenCache wraps store.
func NewTokenCache(store Store) *TokenCache {
	return &TokenCache{store: store}
}

func tokenKey(token string) string { return "token:" + token }

// Put stores tok with the given TTL (zero means no expiry, i.e. never
// expires).
func (c *TokenCache) Put(ctx context.Context, tok enrollmenttoken.Token, ttl time.Duration) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	return c.store.Set(ctx, tokenKey(tok.Token), b, ttl)
}

// Get returns the cached token record, or kv.ErrNotFound if absent.
func (c *TokenCache) Get(ctx context.Context, token string) (enrollmenttoken.Token, error) {
	b, err := c.store.Get(ctx, tokenKey(token))
	if err != nil {
		return enrollmenttoken.Token{}, err
	}
	var tok enrollmenttoken.Token
	if err := json.Unmarshal(b, &tok); err != nil {
		return enrollmenttoken.Token{}, fmt.Errorf("decode token: %w", err)
	}
	return tok, nil
}

// MarkUsed updates the cached record in place and shrinks its TTL to the
// remaining time until expiry, per spec.md §4.10.
func (c *TokenCache) MarkUsed(ctx context.Context, token, deviceID string, now time.Time) error {
	tok, err := c.Get(ctx, token)
	if err != nil {
		return err
	}
	tok.Used = true
	tok.UsageCount++
	tok.UsedAt = &now
	tok.UsedByDevice = deviceID

	ttl := time.Duration(0)
	if tok.ExpiresAt != nil {
		remaining := tok.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		ttl = remaining
	}
	return c.Put(ctx, tok, ttl)
}

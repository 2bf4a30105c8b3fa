package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNonceStoreRejectsReplay(t *testing.T) {
	store := NewMemoryStore()
	nonces := NewNonceStore(store, time.Minute)
	ctx := context.Background()

	require.NoError(t, nonces.Validate(ctx, "dev_1", "n1aaaaaaaaaaaaaa"))
	err := nonces.Validate(ctx, "dev_1", "n1aaaaaaaaaaaaaa")
	require.ErrorIs(t, err, ErrReplay)
}

func TestNonceStoreAllowsDifferentDevicesSameNonce(t *testing.T) {
	store := NewMemoryStore()
	nonces := NewNonceStore(store, time.Minute)
	ctx := context.Background()

	require.NoError(t, nonces.Validate(ctx, "dev_1", "shared-nonce-value"))
	require.NoError(t, nonces.Validate(ctx, "dev_2", "shared-nonce-value"))
}

func TestNonceStoreRejectsShortNonce(t *testing.T) {
	store := NewMemoryStore()
	nonces := NewNonceStore(store, time.Minute)
	ctx := context.Background()

	err := nonces.Validate(ctx, "dev_1", "tooshort")
	require.ErrorIs(t, err, ErrNonceTooShort)
}

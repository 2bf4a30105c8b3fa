package kv

import (
	"context"
	"fmt"
	"time"
)

// DefaultReplayWindow is the ceiling for clock skew and the nonce
// reservation lifetime (spec.md §3, §5): 5 minutes.
const DefaultReplayWindow = 5 * time.Minute

// MinNonceLength is the shortest nonce spec.md §4.2/§6 accepts. A nonce
// shorter than this is rejected before the replay check even runs one,
// since a short nonce exhausts the keyspace fast enough to make replay
// collisions likely regardless of the signature over it.
const MinNonceLength = 16

// ErrReplay is returned by NonceStore.Validate when (device_id, nonce) was
// already seen inside the replay window.
var ErrReplay = replayError{}

// ErrNonceTooShort is returned by NonceStore.Validate when the nonce is
// shorter than MinNonceLength.
var ErrNonceTooShort = nonceTooShortError{}

type replayError struct{}

func (replayError) Error() string { return "kv: replay detected" }

type nonceTooShortError struct{}

func (nonceTooShortError) Error() string { return "kv: nonce shorter than minimum length" }

// NonceStore implements the anti-replay contract (C2): single-use nonce
// ledger per device, conditional insert to avoid the check-then-set race
// (spec.md §4.2, §9).
type NonceStore struct {
	store  Store
	window time.Duration
}

// NewNonceStore wraps store with the given replay window. A non-positive
// window falls back to DefaultReplayWindow.
func NewNonceStore(store Store, window time.Duration) *NonceStore {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	return &NonceStore{store: store, window: window}
}

// Validate atomically reserves (deviceID, nonce). It returns ErrReplay if
// the pair was already reserved within the window.
func (n *NonceStore) Validate(ctx context.Context, deviceID, nonce string) error {
	if len(nonce) < MinNonceLength {
		return ErrNonceTooShort
	}
	key := nonceKey(deviceID, nonce)
	ok, err := n.store.SetNX(ctx, key, []byte{1}, n.window)
	if err != nil {
		return fmt.Errorf("nonce store: %w", err)
	}
	if !ok {
		return ErrReplay
	}
	return nil
}

func nonceKey(deviceID, nonce string) string {
	return "nonce:" + deviceID + ":" + nonce
}

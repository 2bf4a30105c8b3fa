package verify

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerifyRequestRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	ts := now.UnixMilli()
	extra := map[string]interface{}{"protocol_version": "1.0"}

	sig, err := Sign(priv, "dev_1", ts, "nonce-aaaaaaaaaaaaaaaa", extra)
	require.NoError(t, err)

	err = VerifyRequest(now, "dev_1", ts, "nonce-aaaaaaaaaaaaaaaa", sig, pub, extra)
	require.NoError(t, err)
}

func TestVerifyRequestBadSignature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	ts := now.UnixMilli()
	extra := map[string]interface{}{"protocol_version": "1.0"}

	sig, err := Sign(priv, "dev_1", ts, "nonce-aaaaaaaaaaaaaaaa", extra)
	require.NoError(t, err)

	// Flip a byte of the signature.
	mutated := []byte(sig)
	mutated[0] ^= 0xFF

	err = VerifyRequest(now, "dev_1", ts, "nonce-aaaaaaaaaaaaaaaa", string(mutated), pub, extra)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRequestMutatedPayload(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	ts := now.UnixMilli()
	extra := map[string]interface{}{"protocol_version": "1.0"}

	sig, err := Sign(priv, "dev_1", ts, "nonce-aaaaaaaaaaaaaaaa", extra)
	require.NoError(t, err)

	mutatedExtra := map[string]interface{}{"protocol_version": "2.0"}
	err = VerifyRequest(now, "dev_1", ts, "nonce-aaaaaaaaaaaaaaaa", sig, pub, mutatedExtra)
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRequestTimestampOutOfRange(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	now := time.Now()
	old := now.Add(-10 * time.Minute)
	ts := old.UnixMilli()
	extra := map[string]interface{}{"protocol_version": "1.0"}

	sig, err := Sign(priv, "dev_1", ts, "nonce-aaaaaaaaaaaaaaaa", extra)
	require.NoError(t, err)

	err = VerifyRequest(now, "dev_1", ts, "nonce-aaaaaaaaaaaaaaaa", sig, pub, extra)
	require.ErrorIs(t, err, ErrTimestampOutOfRange)
}

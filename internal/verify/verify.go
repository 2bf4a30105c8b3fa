// Package verify implements the crypto verifier (C1): Ed25519 signature
// checking over a canonical request payload, with a timestamp window to
// bound clock skew.
//
// Canonical serialization (spec.md §4.1, §9 Open Question, resolved in
// SPEC_FULL.md §7): the signed payload is
// {device_id, timestamp, nonce, ...extra_fields} marshaled with
// encoding/json on a map[string]interface{}. Go's encoding/json sorts map
// keys lexicographically, which gives every caller — server and agent — the
// same bytes for the same logical payload without either side needing to
// track insertion order. This is the wire contract; agents must match it
// bit-for-bit.
package verify

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"
)

// MaxClockSkew bounds |now - timestamp| for a request to be accepted
// (spec.md §4.1: "Rejects if |now - timestamp_ms| > 5 min").
const MaxClockSkew = 5 * time.Minute

// ErrTimestampOutOfRange is returned when the request timestamp falls
// outside MaxClockSkew of the verifier's clock.
var ErrTimestampOutOfRange = timestampError{}

type timestampError struct{}

func (timestampError) Error() string { return "verify: timestamp out of range" }

// ErrBadSignature is returned when the Ed25519 signature does not verify.
var ErrBadSignature = signatureError{}

type signatureError struct{}

func (signatureError) Error() string { return "verify: bad signature" }

// CanonicalPayload builds the deterministic byte representation signed by
// the agent: {device_id, timestamp, nonce, ...extra} with sorted keys.
func CanonicalPayload(deviceID string, timestampMS int64, nonce string, extra map[string]interface{}) ([]byte, error) {
	payload := make(map[string]interface{}, len(extra)+3)
	for k, v := range extra {
		payload[k] = v
	}
	payload["device_id"] = deviceID
	payload["timestamp"] = timestampMS
	payload["nonce"] = nonce

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return b, nil
}

// VerifyRequest checks the timestamp window and Ed25519 signature of a
// request. extra carries any additional signed fields beyond
// device_id/timestamp/nonce (e.g. protocol_version, system_info).
func VerifyRequest(now time.Time, deviceID string, timestampMS int64, nonce, signatureB64 string, publicKey ed25519.PublicKey, extra map[string]interface{}) error {
	ts := time.UnixMilli(timestampMS)
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return ErrTimestampOutOfRange
	}

	sig, err := decodeSignature(signatureB64)
	if err != nil {
		return ErrBadSignature
	}

	payload, err := CanonicalPayload(deviceID, timestampMS, nonce, extra)
	if err != nil {
		return fmt.Errorf("verify request: %w", err)
	}

	if len(publicKey) != ed25519.PublicKeySize {
		return ErrBadSignature
	}
	if !ed25519.Verify(publicKey, payload, sig) {
		return ErrBadSignature
	}
	return nil
}

// Sign produces the base64 signature over the canonical payload, for
// diagnostic/test use (spec.md §4.1).
func Sign(privateKey ed25519.PrivateKey, deviceID string, timestampMS int64, nonce string, extra map[string]interface{}) (string, error) {
	payload, err := CanonicalPayload(deviceID, timestampMS, nonce, extra)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(privateKey, payload)
	return encodeSignature(sig), nil
}

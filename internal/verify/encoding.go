package verify

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"fmt"
)

func decodeSignature(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func encodeSignature(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodePublicKeySPKI decodes a base64 SPKI-wrapped Ed25519 public key down
// to the raw 32-byte key. The wire format stores the raw key base64-encoded
// directly (SPKI wrapping is a transport convention the source system used;
// Ed25519's stdlib support works on the raw 32 bytes), so this is a
// straight base64 decode with a length check.
func DecodePublicKeySPKI(b64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return raw, nil
}

// EncodePublicKeySPKI encodes a raw Ed25519 public key for storage/wire
// transmission.
func EncodePublicKeySPKI(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// EncodePrivateKeyPKCS8 encodes an Ed25519 private key as base64-wrapped
// PKCS#8 DER, the wire encoding spec.md §4.1 names for the one-time key
// handed back on server-generated enrollment. Unlike the public key's
// bare-raw-bytes convention above, the private key never round-trips
// through this package's verifier, so there's no reason to shortcut it.
func EncodePrivateKeyPKCS8(priv ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("marshal pkcs8 private key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

package httpapi

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/kv"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/internal/verify"
)

// agentAuthenticator runs the device-lookup/signature/replay steps shared
// by every signed agent endpoint (spec.md §4.6 steps 2-5, reused here for
// the command-poll, command-ack, and config-pull endpoints that carry the
// same signed envelope but skip the heartbeat's task-reconciliation work).
type agentAuthenticator struct {
	devices     storage.DeviceStore
	rateLimiter *kv.RateLimiter
	nonces      *kv.NonceStore
}

// envelope is the signed top-level fields every agent call besides
// enrollment carries (spec.md §6 "Signed request envelope").
type envelope struct {
	DeviceID  string
	Timestamp int64
	Nonce     string
	Signature string
}

// authenticate runs the rate-limit (when max > 0), device-lookup,
// signature, and replay checks and returns the authenticated device.
func (a *agentAuthenticator) authenticate(ctx context.Context, env envelope, extra map[string]interface{}, endpoint string, max int, window time.Duration) (device.Device, error) {
	if max > 0 {
		decision := a.rateLimiter.CheckAndIncrement(ctx, env.DeviceID, endpoint, max, window)
		if !decision.Allowed {
			return device.Device{}, apierr.RateLimitExceeded(max, window.String(), decision.Remaining, decision.ResetMS)
		}
	}

	dev, err := a.devices.GetDevice(ctx, env.DeviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return device.Device{}, apierr.DeviceNotFound(env.DeviceID)
	}
	if err != nil {
		return device.Device{}, apierr.DatabaseError("get_device", err)
	}

	if err := verify.VerifyRequest(time.Now(), env.DeviceID, env.Timestamp, env.Nonce, env.Signature, ed25519.PublicKey(dev.PublicKey), extra); err != nil {
		return device.Device{}, apierr.InvalidSignature(err)
	}

	if err := a.nonces.Validate(ctx, env.DeviceID, env.Nonce); err != nil {
		if errors.Is(err, kv.ErrReplay) {
			return device.Device{}, apierr.ReplayAttack(env.Nonce)
		}
		if errors.Is(err, kv.ErrNonceTooShort) {
			return device.Device{}, apierr.InvalidRequest(fmt.Sprintf("nonce must be at least %d characters", kv.MinNonceLength))
		}
		return device.Device{}, apierr.Internal("nonce store failure", err)
	}

	return dev, nil
}

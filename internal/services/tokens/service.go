// Package tokens implements the enrollment-token service (C10): issuing,
// validating, and retiring the one-shot tokens the enrollment gate (C5)
// consumes, plus the administrator CRUD surface over the relational
// record (spec.md §4.10).
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/enrollmenttoken"
	"github.com/fleetward/control-plane/internal/kv"
	core "github.com/fleetward/control-plane/internal/services/core"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/pkg/logger"
)

const (
	minExpiresIn = 60
	maxExpiresIn = 31_536_000 // one year, spec.md §4.10
)

// Service issues and validates enrollment tokens against the relational
// store (administrator listing) and the kv.TokenCache (fast agent-facing
// lookup), matching the dual-store ownership split of spec.md §3.
type Service struct {
	store storage.TokenStore
	cache *kv.TokenCache
	log   *logger.Logger
	now   func() time.Time
}

// New wires a token service over store and cache.
func New(store storage.TokenStore, cache *kv.TokenCache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tokens")
	}
	return &Service{store: store, cache: cache, log: log, now: time.Now}
}

// Descriptor advertises this service for system discovery.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "tokens",
		Domain:       "enrollment",
		Layer:        core.LayerService,
		Capabilities: []string{"enrollment-tokens"},
		DependsOn:    []string{"storage", "kv"},
	}
}

// Generate mints a new token. expiresInSeconds of 0 means "never expires";
// -1 is also treated as never-expiring so callers can pass the literal
// "never" sentinel pre-parsed to -1. Any other value must lie within
// minExpiresIn..maxExpiresIn.
func (s *Service) Generate(ctx context.Context, expiresInSeconds int, description, createdBy string, maxUsage int) (enrollmenttoken.Token, error) {
	if expiresInSeconds != 0 && expiresInSeconds != -1 {
		if expiresInSeconds < minExpiresIn || expiresInSeconds > maxExpiresIn {
			return enrollmenttoken.Token{}, apierr.InvalidRequest(fmt.Sprintf("expires_in_s must be between %d and %d, or 0/never", minExpiresIn, maxExpiresIn))
		}
	}
	if maxUsage <= 0 {
		maxUsage = 1
	}

	raw, err := randomToken()
	if err != nil {
		return enrollmenttoken.Token{}, apierr.CryptoError("generate_token", err)
	}

	now := s.now()
	tok := enrollmenttoken.Token{
		Token:       raw,
		Description: description,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		IsActive:    true,
		MaxUsage:    maxUsage,
	}
	var ttl time.Duration
	if expiresInSeconds > 0 {
		expiry := now.Add(time.Duration(expiresInSeconds) * time.Second)
		tok.ExpiresAt = &expiry
		ttl = time.Duration(expiresInSeconds) * time.Second
	}

	created, err := s.store.CreateToken(ctx, tok)
	if err != nil {
		return enrollmenttoken.Token{}, apierr.DatabaseError("create_token", err)
	}
	if err := s.cache.Put(ctx, created, ttl); err != nil {
		s.log.WithField("token", created.Token).WithError(err).Warn("enrollment token cache write failed")
	}
	return created, nil
}

// Validate enforces the rules of spec.md §4.10, including the
// default-token and test-token-* carve-outs (spec.md §9 "reserved
// tokens"). isTestEnv gates the synthetic test-token-* acceptance.
func (s *Service) Validate(ctx context.Context, token string, isTestEnv bool) (enrollmenttoken.Token, error) {
	if token == enrollmenttoken.DefaultToken {
		return enrollmenttoken.Token{Token: enrollmenttoken.DefaultToken, IsActive: true, MaxUsage: -1}, nil
	}
	if isTestEnv && strings.HasPrefix(token, enrollmenttoken.TestTokenPrefix) {
		return enrollmenttoken.Token{Token: token, IsActive: true, MaxUsage: -1}, nil
	}
	if len(token) < enrollmenttoken.MinLength {
		return enrollmenttoken.Token{}, apierr.InvalidToken(errors.New("invalid token format"))
	}

	cached, err := s.cache.Get(ctx, token)
	if errors.Is(err, kv.ErrNotFound) {
		return enrollmenttoken.Token{}, apierr.InvalidToken(errors.New("token not found or expired"))
	}
	if err != nil {
		return enrollmenttoken.Token{}, apierr.DatabaseError("get_token", err)
	}
	if cached.Used && cached.MaxUsage > 0 && cached.UsageCount >= cached.MaxUsage {
		return enrollmenttoken.Token{}, apierr.InvalidToken(errors.New("token already used"))
	}
	if cached.Expired(s.now()) {
		return enrollmenttoken.Token{}, apierr.InvalidToken(errors.New("token expired"))
	}
	return cached, nil
}

// MarkUsed records token as consumed by deviceID. It is a no-op for the
// reserved default token.
func (s *Service) MarkUsed(ctx context.Context, token, deviceID string) error {
	if token == enrollmenttoken.DefaultToken {
		return nil
	}
	now := s.now()
	if _, err := s.store.RecordTokenUse(ctx, token, deviceID, now); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return apierr.DatabaseError("record_token_use", err)
	}
	if err := s.cache.MarkUsed(ctx, token, deviceID, now); err != nil && !errors.Is(err, kv.ErrNotFound) {
		s.log.WithField("token", token).WithError(err).Warn("enrollment token cache mark-used failed")
	}
	return nil
}

// List returns every administrator-visible token record.
func (s *Service) List(ctx context.Context) ([]enrollmenttoken.Token, error) {
	out, err := s.store.ListTokens(ctx)
	if err != nil {
		return nil, apierr.DatabaseError("list_tokens", err)
	}
	return out, nil
}

// Deactivate retires a token so it can no longer be validated.
func (s *Service) Deactivate(ctx context.Context, token string) error {
	if err := s.store.DeactivateToken(ctx, token); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.Wrap(apierr.CodeInvalidToken, "token not found", 404, err)
		}
		return apierr.DatabaseError("deactivate_token", err)
	}
	return nil
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Package auth implements the administrator authentication collaborator:
// a single bcrypt-hashed ADMIN_PASSWORD account plus JWT issuance and
// validation, and the static ADMIN_API_KEY bearer-token fast path
// (spec.md §6 environment configuration, §1 "administrator requests...
// authenticate by bearer token").
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is returned by Authenticate on a bad password and by
// Validate on an unparsable or expired token.
var ErrUnauthorized = errors.New("unauthorized")

// Claims is the JWT payload issued to a successfully authenticated
// administrator.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Validator abstracts token validation so the HTTP layer does not need a
// concrete *Manager, matching the teacher's JWTValidator seam.
type Validator interface {
	Validate(token string) (*Claims, error)
}

// Manager is the control plane's administrator identity: one account,
// ADMIN_PASSWORD bcrypt-hashed at startup, plus JWT_SECRET-backed token
// issuance.
type Manager struct {
	passwordHash []byte
	apiKey       string
	jwtSecret    []byte
	tokenTTL     time.Duration
}

// Config configures a Manager. AdminPassword is hashed in New; it is
// never retained in plaintext beyond the constructor call.
type Config struct {
	AdminPassword string
	AdminAPIKey   string
	JWTSecret     string
	TokenTTL      time.Duration
}

// New builds a Manager, bcrypt-hashing AdminPassword. An empty
// AdminPassword disables password login (API-key-only deployments).
func New(cfg Config) (*Manager, error) {
	m := &Manager{
		apiKey:    strings.TrimSpace(cfg.AdminAPIKey),
		jwtSecret: []byte(strings.TrimSpace(cfg.JWTSecret)),
		tokenTTL:  cfg.TokenTTL,
	}
	if m.tokenTTL <= 0 {
		m.tokenTTL = 24 * time.Hour
	}
	if pw := strings.TrimSpace(cfg.AdminPassword); pw != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		m.passwordHash = hash
	}
	return m, nil
}

// Authenticate checks password against the configured admin account and,
// on success, issues a signed JWT.
func (m *Manager) Authenticate(password string) (string, time.Time, error) {
	if len(m.passwordHash) == 0 {
		return "", time.Time{}, ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword(m.passwordHash, []byte(password)) != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	return m.issue()
}

func (m *Manager) issue() (string, time.Time, error) {
	if len(m.jwtSecret) == 0 {
		return "", time.Time{}, fmt.Errorf("JWT_SECRET not configured")
	}
	exp := time.Now().Add(m.tokenTTL)
	claims := Claims{
		Subject: "admin",
		Role:    "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   "admin",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.jwtSecret)
	return signed, exp, err
}

// Validate parses and validates a JWT issued by Authenticate.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	if len(m.jwtSecret) == 0 {
		return nil, fmt.Errorf("JWT_SECRET not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// ValidAPIKey reports whether token matches the static ADMIN_API_KEY
// bearer token, the zero-config fast path that skips JWT issuance
// entirely.
func (m *Manager) ValidAPIKey(token string) bool {
	return m.apiKey != "" && token == m.apiKey
}

// Package enrollmenttoken holds the enrollment-token record issued and
// tracked by the enrollment-token service (C10).
package enrollmenttoken

import "time"

// DefaultToken is the reserved, always-valid, reusable zero-config token.
const DefaultToken = "default-token"

// TestTokenPrefix marks synthetic tokens that validate only in the test
// environment.
const TestTokenPrefix = "test-token-"

// MinLength is the minimum accepted token length.
const MinLength = 16

// Token is the durable record of one enrollment token.
type Token struct {
	ID           int64
	Token        string
	Description  string
	CreatedBy    string
	CreatedAt    time.Time
	ExpiresAt    *time.Time // nil means never expires
	Used         bool
	UsedAt       *time.Time
	UsedByDevice string
	IsActive     bool
	UsageCount   int
	MaxUsage     int
}

// Expired reports whether the token is past its expiry at the given time.
func (t Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthenticateIssuesValidatableToken(t *testing.T) {
	m, err := New(Config{AdminPassword: "hunter2", JWTSecret: "s3cret", TokenTTL: time.Minute})
	require.NoError(t, err)

	token, exp, err := m.Authenticate("hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.True(t, exp.After(time.Now()))

	claims, err := m.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "admin", claims.Subject)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	m, err := New(Config{AdminPassword: "hunter2", JWTSecret: "s3cret"})
	require.NoError(t, err)

	_, _, err = m.Authenticate("wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticateDisabledWithoutPassword(t *testing.T) {
	m, err := New(Config{JWTSecret: "s3cret"})
	require.NoError(t, err)

	_, _, err = m.Authenticate("anything")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidAPIKey(t *testing.T) {
	m, err := New(Config{AdminAPIKey: "static-key"})
	require.NoError(t, err)

	require.True(t, m.ValidAPIKey("static-key"))
	require.False(t, m.ValidAPIKey("wrong-key"))
	require.False(t, m.ValidAPIKey(""))
}

func TestValidateRejectsForeignToken(t *testing.T) {
	m1, err := New(Config{AdminPassword: "a", JWTSecret: "secret-one"})
	require.NoError(t, err)
	m2, err := New(Config{JWTSecret: "secret-two"})
	require.NoError(t, err)

	token, _, err := m1.Authenticate("a")
	require.NoError(t, err)

	_, err = m2.Validate(token)
	require.Error(t, err)
}

package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetward/control-plane/internal/auth"
	"github.com/fleetward/control-plane/pkg/logger"
)

func TestIsAdminPath(t *testing.T) {
	require.True(t, isAdminPath("/admin/tasks"))
	require.True(t, isAdminPath("/commands"))
	require.True(t, isAdminPath("/devices/dev_1"))
	require.True(t, isAdminPath("/enrollment/tokens"))
	require.False(t, isAdminPath("/admin/login"))
	require.False(t, isAdminPath("/agent/heartbeat"))
}

func newTestManager(t *testing.T) *auth.Manager {
	t.Helper()
	m, err := auth.New(auth.Config{AdminPassword: "pw", AdminAPIKey: "api-key", JWTSecret: "secret"})
	require.NoError(t, err)
	return m
}

func TestWithAuthAllowsAgentPathsUnconditionally(t *testing.T) {
	handler := withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), newTestManager(t))

	req := httptest.NewRequest(http.MethodPost, "/agent/heartbeat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWithAuthRejectsAdminPathWithoutToken(t *testing.T) {
	handler := withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), newTestManager(t))

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWithAuthAcceptsStaticAPIKey(t *testing.T) {
	handler := withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), newTestManager(t))

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	req.Header.Set("Authorization", "Bearer api-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWithAuthAcceptsIssuedJWT(t *testing.T) {
	manager := newTestManager(t)
	token, _, err := manager.Authenticate("pw")
	require.NoError(t, err)

	handler := withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), manager)

	req := httptest.NewRequest(http.MethodGet, "/admin/tasks/t1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWithAuthLetsAdminLoginThrough(t *testing.T) {
	handler := withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), newTestManager(t))

	req := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWithRecoveryConvertsPanicToInternalError(t *testing.T) {
	log := logger.NewDefault("test")
	handler := withRecovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), log)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { handler.ServeHTTP(rec, req) })
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleetward/control-plane/internal/auth"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/storage/memory"
	"github.com/fleetward/control-plane/pkg/logger"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	manager, err := auth.New(auth.Config{AdminPassword: "pw", JWTSecret: "secret"})
	require.NoError(t, err)
	store := memory.New()
	return &Server{
		Devices:     store,
		AuthManager: manager,
		Log:         logger.NewDefault("test"),
		auther:      &agentAuthenticator{devices: store},
	}
}

func TestHandleAdminLoginSuccess(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(adminLoginRequest{Password: "pw"})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleAdminLogin(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["token"])
}

func TestHandleAdminLoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(adminLoginRequest{Password: "nope"})
	req := httptest.NewRequest(http.MethodPost, "/admin/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.handleAdminLogin(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleDeviceListReturnsKnownDevices(t *testing.T) {
	s := newTestServer(t)
	_, err := s.Devices.CreateDevice(context.Background(), device.Device{ID: "dev_1", PublicKey: []byte("key")})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rec := httptest.NewRecorder()

	s.handleDeviceList(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	devices, ok := resp["devices"].([]interface{})
	require.True(t, ok)
	require.Len(t, devices, 1)
}

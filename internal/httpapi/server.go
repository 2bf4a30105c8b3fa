// Package httpapi wires the control plane's agent and administrator HTTP
// surfaces (spec.md §6) over the internal/services business logic.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fleetward/control-plane/internal/audit"
	"github.com/fleetward/control-plane/internal/auth"
	"github.com/fleetward/control-plane/internal/kv"
	"github.com/fleetward/control-plane/internal/services/commands"
	"github.com/fleetward/control-plane/internal/services/configresolver"
	"github.com/fleetward/control-plane/internal/services/enrollment"
	"github.com/fleetward/control-plane/internal/services/heartbeat"
	"github.com/fleetward/control-plane/internal/services/tasks"
	"github.com/fleetward/control-plane/internal/services/tokens"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/pkg/logger"
)

// Server bundles every service the HTTP layer dispatches to.
type Server struct {
	Devices     storage.DeviceStore
	Enrollment  *enrollment.Service
	Heartbeat   *heartbeat.Service
	Tasks       *tasks.Reconciler
	Config      *configresolver.Service
	Tokens      *tokens.Service
	Commands    *commands.Service
	Audit       *audit.Service
	AuthManager *auth.Manager
	RateLimiter *kv.RateLimiter
	Nonces      *kv.NonceStore
	Log         *logger.Logger
	IsTestEnv   bool

	auther *agentAuthenticator
}

// NewRouter builds the complete gorilla/mux router: agent endpoints,
// administrator endpoints, /metrics, and /system/status, wrapped in the
// recovery/logging/metrics/auth middleware chain.
func NewRouter(s *Server) http.Handler {
	s.auther = &agentAuthenticator{devices: s.Devices, rateLimiter: s.RateLimiter, nonces: s.Nonces}

	r := mux.NewRouter()

	r.HandleFunc("/agent/enroll", s.handleEnroll).Methods(http.MethodPost)
	r.HandleFunc("/agent/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/agent/command", s.handleCommandPoll).Methods(http.MethodGet)
	r.HandleFunc("/agent/command/{id}/ack", s.handleCommandAck).Methods(http.MethodPost)
	r.HandleFunc("/agent/audit", s.handleAgentAudit).Methods(http.MethodPost)
	r.HandleFunc("/agent/config", s.handleAgentConfig).Methods(http.MethodPost)

	r.HandleFunc("/commands", s.handleAdminCommandCreate).Methods(http.MethodPost)
	r.HandleFunc("/commands/{id}", s.handleAdminCommandGet).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/commands", s.handleAdminDeviceCommands).Methods(http.MethodGet)

	r.HandleFunc("/admin/tasks", s.handleAdminTaskCreate).Methods(http.MethodPost)
	r.HandleFunc("/admin/tasks/{id}", s.handleAdminTaskGet).Methods(http.MethodGet)
	r.HandleFunc("/admin/tasks/{id}/cancel", s.handleAdminTaskCancel).Methods(http.MethodPost)
	r.HandleFunc("/devices/{id}/tasks", s.handleAdminDeviceTasks).Methods(http.MethodGet)

	r.HandleFunc("/admin/config", s.handleAdminConfigList).Methods(http.MethodGet)
	r.HandleFunc("/admin/config", s.handleAdminConfigUpsert).Methods(http.MethodPost)
	r.HandleFunc("/admin/config/{id}", s.handleAdminConfigGetOrDelete).Methods(http.MethodGet, http.MethodDelete)

	r.HandleFunc("/enrollment/tokens", s.handleTokenCreate).Methods(http.MethodPost)
	r.HandleFunc("/enrollment/tokens", s.handleTokenList).Methods(http.MethodGet)
	r.HandleFunc("/enrollment/tokens/{token}", s.handleTokenDeactivate).Methods(http.MethodDelete)

	r.HandleFunc("/devices", s.handleDeviceList).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", s.handleDeviceGet).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", s.handleDeviceUpdate).Methods(http.MethodPut)

	r.HandleFunc("/admin/login", s.handleAdminLogin).Methods(http.MethodPost)

	r.Handle("/metrics", metricsHandler()).Methods(http.MethodGet)
	r.HandleFunc("/system/status", s.handleSystemStatus).Methods(http.MethodGet)

	var h http.Handler = r
	h = withAuth(h, s.AuthManager)
	h = withMetrics(h)
	h = withLogging(h, s.Log)
	h = withRecovery(h, s.Log)
	return h
}

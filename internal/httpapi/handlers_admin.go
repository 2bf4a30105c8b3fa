package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/command"
	"github.com/fleetward/control-plane/internal/domain/configuration"
	"github.com/fleetward/control-plane/internal/domain/task"
)

// --- command admin ---------------------------------------------------------

type commandCreateRequest struct {
	DeviceID   string          `json:"device_id"`
	Type       string          `json:"type"`
	Priority   string          `json:"priority"`
	Payload    json.RawMessage `json:"payload"`
	ExpiresInS int             `json:"expires_in_s"`
	MaxRetries int             `json:"max_retries"`
}

func (s *Server) handleAdminCommandCreate(w http.ResponseWriter, r *http.Request) {
	var req commandCreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	rec, err := s.Commands.Enqueue(r.Context(), req.DeviceID, command.Type(req.Type), command.Priority(req.Priority), req.Payload, req.ExpiresInS, req.MaxRetries)
	if err != nil {
		writeErr(w, err)
		return
	}
	commandsQueued.WithLabelValues(string(rec.Type)).Inc()
	writeOK(w, http.StatusCreated, map[string]interface{}{"command": rec})
}

func (s *Server) handleAdminCommandGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.Commands.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"command": rec})
}

func (s *Server) handleAdminDeviceCommands(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	recs, err := s.Commands.Poll(r.Context(), deviceID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"commands": recs})
}

// --- task admin --------------------------------------------------------

type taskCreateRequest struct {
	DeviceID string          `json:"device_id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	TimeoutS *int            `json:"timeout_s,omitempty"`
}

func (s *Server) handleAdminTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	t, err := s.Tasks.Create(r.Context(), req.DeviceID, task.Type(req.Type), req.Payload, req.TimeoutS)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]interface{}{"task": t})
}

func (s *Server) handleAdminTaskGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := s.Tasks.Get(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"task": t})
}

func (s *Server) handleAdminTaskCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, err := s.Tasks.Cancel(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"task": t})
}

func (s *Server) handleAdminDeviceTasks(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["id"]
	tasks, err := s.Tasks.ListForDevice(r.Context(), deviceID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

// --- configuration admin ------------------------------------------------

type configUpsertRequest struct {
	Scope     string          `json:"scope"`
	TargetID  string          `json:"target_id"`
	Content   json.RawMessage `json:"content"`
	UpdatedBy string          `json:"updated_by"`
}

func (s *Server) handleAdminConfigUpsert(w http.ResponseWriter, r *http.Request) {
	var req configUpsertRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	cfg, err := s.Config.Upsert(r.Context(), configuration.Scope(req.Scope), req.TargetID, req.Content, req.UpdatedBy)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"configuration": cfg})
}

func (s *Server) handleAdminConfigList(w http.ResponseWriter, r *http.Request) {
	scope := configuration.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = configuration.ScopeGlobal
	}
	cfgs, err := s.Config.List(r.Context(), scope)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"configurations": cfgs})
}

func (s *Server) handleAdminConfigGetOrDelete(w http.ResponseWriter, r *http.Request) {
	targetID := mux.Vars(r)["id"]
	scope := configuration.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = configuration.ScopeDevice
	}

	if r.Method == http.MethodDelete {
		if err := s.Config.Delete(r.Context(), scope, targetID); err != nil {
			writeErr(w, err)
			return
		}
		writeOK(w, http.StatusOK, nil)
		return
	}

	cfg, err := s.Config.Get(r.Context(), scope, targetID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"configuration": cfg})
}

// --- enrollment token admin ----------------------------------------------

type tokenCreateRequest struct {
	ExpiresInS  int    `json:"expires_in_s"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	MaxUsage    int    `json:"max_usage"`
}

func (s *Server) handleTokenCreate(w http.ResponseWriter, r *http.Request) {
	var req tokenCreateRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	tok, err := s.Tokens.Generate(r.Context(), req.ExpiresInS, req.Description, req.CreatedBy, req.MaxUsage)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]interface{}{"token": tok})
}

func (s *Server) handleTokenList(w http.ResponseWriter, r *http.Request) {
	toks, err := s.Tokens.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"tokens": toks})
}

func (s *Server) handleTokenDeactivate(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if err := s.Tokens.Deactivate(r.Context(), token); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

// --- administrator login --------------------------------------------------

type adminLoginRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	token, exp, err := s.AuthManager.Authenticate(req.Password)
	if err != nil {
		writeErr(w, apierr.New(apierr.CodeInvalidToken, "invalid administrator password", http.StatusUnauthorized))
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"token": token, "expires_at": exp.UnixMilli()})
}

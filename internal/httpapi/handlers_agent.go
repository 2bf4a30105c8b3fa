package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/audit"
	"github.com/fleetward/control-plane/internal/domain/command"
	"github.com/fleetward/control-plane/internal/domain/task"
	"github.com/fleetward/control-plane/internal/kv"
	"github.com/fleetward/control-plane/internal/services/enrollment"
	"github.com/fleetward/control-plane/internal/services/heartbeat"
)

// --- POST /agent/enroll -------------------------------------------------

type enrollRequest struct {
	EnrollmentToken string                 `json:"enrollment_token"`
	Platform        string                 `json:"platform"`
	Version         string                 `json:"version"`
	DeviceID        string                 `json:"device_id"`
	PublicKey       string                 `json:"public_key"`
	MACAddress      string                 `json:"mac_address"`
	ClientInfo      map[string]interface{} `json:"client_info"`
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.EnrollmentToken) == "" {
		writeErr(w, apierr.InvalidRequest("enrollment_token is required"))
		return
	}

	result, err := s.Enrollment.Enroll(r.Context(), enrollment.Request{
		EnrollmentToken: req.EnrollmentToken,
		Platform:        req.Platform,
		Version:         req.Version,
		DeviceID:        req.DeviceID,
		PublicKey:       req.PublicKey,
		MACAddress:      req.MACAddress,
		ClientInfo:      req.ClientInfo,
	}, originURL(r))
	if err != nil {
		enrollmentsTotal.WithLabelValues("error").Inc()
		writeErr(w, err)
		return
	}
	enrollmentsTotal.WithLabelValues("ok").Inc()

	body := map[string]interface{}{
		"success":    true,
		"device_id":  result.DeviceID,
		"public_key": result.PublicKey,
		"config":     result.Config,
	}
	if result.PrivateKey != "" {
		body["private_key"] = result.PrivateKey
	}
	if result.ServerPublicKey != "" {
		body["server_public_key"] = result.ServerPublicKey
	}
	if result.ServerURL != "" {
		body["server_url"] = result.ServerURL
	}
	writeOK(w, http.StatusOK, body)
}

func originURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return scheme + "://" + host
}

// --- POST /agent/heartbeat ----------------------------------------------

type systemInfoWire struct {
	Platform    string   `json:"platform"`
	Version     string   `json:"version"`
	Uptime      int64    `json:"uptime"`
	CPUUsage    *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage *float64 `json:"memory_usage,omitempty"`
	DiskUsage   *float64 `json:"disk_usage,omitempty"`
}

type taskReportWire struct {
	TaskID       string `json:"task_id"`
	State        string `json:"state"`
	Progress     *int   `json:"progress,omitempty"`
	OutputChunk  string `json:"output_chunk,omitempty"`
	OutputCursor *int64 `json:"output_cursor,omitempty"`
	Error        string `json:"error,omitempty"`
}

type heartbeatRequest struct {
	DeviceID        string           `json:"device_id"`
	Timestamp       int64            `json:"timestamp"`
	Nonce           string           `json:"nonce"`
	Signature       string           `json:"signature"`
	ProtocolVersion string           `json:"protocol_version"`
	SystemInfo      systemInfoWire   `json:"system_info"`
	Reports         []taskReportWire `json:"reports"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	if req.DeviceID == "" || req.Timestamp == 0 || req.Nonce == "" || req.Signature == "" || req.ProtocolVersion == "" {
		writeErr(w, apierr.InvalidRequest("device_id, timestamp, nonce, signature, and protocol_version are required"))
		return
	}

	reports := make([]task.Report, 0, len(req.Reports))
	for _, rep := range req.Reports {
		reports = append(reports, task.Report{
			TaskID:       rep.TaskID,
			State:        task.State(rep.State),
			Progress:     rep.Progress,
			OutputChunk:  rep.OutputChunk,
			OutputCursor: rep.OutputCursor,
			Error:        rep.Error,
		})
	}

	resp, err := s.Heartbeat.Handle(r.Context(), heartbeat.Request{
		DeviceID:        req.DeviceID,
		TimestampMS:     req.Timestamp,
		Nonce:           req.Nonce,
		Signature:       req.Signature,
		ProtocolVersion: req.ProtocolVersion,
		SystemInfo: heartbeat.SystemInfo{
			Platform:    req.SystemInfo.Platform,
			Version:     req.SystemInfo.Version,
			UptimeMS:    req.SystemInfo.Uptime,
			CPUUsage:    req.SystemInfo.CPUUsage,
			MemoryUsage: req.SystemInfo.MemoryUsage,
			DiskUsage:   req.SystemInfo.DiskUsage,
		},
		Reports: reports,
	})
	if err != nil {
		heartbeatsTotal.WithLabelValues("error").Inc()
		writeErr(w, err)
		return
	}
	heartbeatsTotal.WithLabelValues("ok").Inc()

	body := map[string]interface{}{
		"server_time":    resp.ServerTimeMS,
		"next_heartbeat": resp.NextHeartbeatMS,
	}
	if len(resp.Tasks) > 0 {
		body["tasks"] = resp.Tasks
	}
	if len(resp.Cancels) > 0 {
		body["cancels"] = resp.Cancels
	}
	writeOK(w, http.StatusOK, body)
}

// --- GET /agent/command ---------------------------------------------------

func (s *Server) handleCommandPoll(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	env := envelope{
		DeviceID:  q.Get("device_id"),
		Timestamp: parseInt64(q.Get("timestamp")),
		Nonce:     q.Get("nonce"),
		Signature: q.Get("signature"),
	}
	if env.DeviceID == "" || env.Timestamp == 0 || env.Nonce == "" || env.Signature == "" {
		writeErr(w, apierr.InvalidRequest("device_id, timestamp, nonce, and signature are required"))
		return
	}

	if _, err := s.auther.authenticate(r.Context(), env, nil, "command_poll", kv.CommandPollMax, kv.CommandPollWindow); err != nil {
		writeErr(w, err)
		return
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	recs, err := s.Commands.Poll(r.Context(), env.DeviceID, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"commands": recs})
}

// --- POST /agent/command/:id/ack ------------------------------------------

type commandAckRequest struct {
	DeviceID  string          `json:"device_id"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
	Signature string          `json:"signature"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (s *Server) handleCommandAck(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req commandAckRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	env := envelope{DeviceID: req.DeviceID, Timestamp: req.Timestamp, Nonce: req.Nonce, Signature: req.Signature}
	if env.DeviceID == "" || env.Timestamp == 0 || env.Nonce == "" || env.Signature == "" {
		writeErr(w, apierr.InvalidRequest("device_id, timestamp, nonce, and signature are required"))
		return
	}

	extra := map[string]interface{}{"command_id": id, "status": req.Status}
	if _, err := s.auther.authenticate(r.Context(), env, extra, "command_ack", 0, 0); err != nil {
		writeErr(w, err)
		return
	}

	if req.Status != string(command.StatusCompleted) && req.Status != string(command.StatusFailed) {
		writeErr(w, apierr.InvalidRequest("status must be completed or failed"))
		return
	}

	rec, err := s.Commands.Ack(r.Context(), id, env.DeviceID, command.Status(req.Status), req.Result, req.Error)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"command": rec})
}

// --- POST /agent/audit ----------------------------------------------------

type auditEventWire struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type agentAuditRequest struct {
	DeviceID  string           `json:"device_id"`
	Timestamp int64            `json:"timestamp"`
	Nonce     string           `json:"nonce"`
	Signature string           `json:"signature"`
	Events    []auditEventWire `json:"events"`
}

func (s *Server) handleAgentAudit(w http.ResponseWriter, r *http.Request) {
	var req agentAuditRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	env := envelope{DeviceID: req.DeviceID, Timestamp: req.Timestamp, Nonce: req.Nonce, Signature: req.Signature}
	if env.DeviceID == "" || env.Timestamp == 0 || env.Nonce == "" || env.Signature == "" {
		writeErr(w, apierr.InvalidRequest("device_id, timestamp, nonce, and signature are required"))
		return
	}

	if len(req.Events) > audit.MaxBatchSize {
		writeErr(w, apierr.BatchTooLarge(audit.MaxBatchSize, len(req.Events)))
		return
	}

	if _, err := s.auther.authenticate(r.Context(), env, nil, "audit_batch", kv.AuditBatchMax, kv.AuditBatchWindow); err != nil {
		writeErr(w, err)
		return
	}

	now := time.Now()
	events := make([]audit.Event, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, audit.Event{DeviceID: env.DeviceID, Kind: e.Kind, Payload: e.Payload, Timestamp: now})
	}
	if err := s.Audit.Submit(r.Context(), env.DeviceID, events); err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"accepted": len(events)})
}

// --- POST /agent/config ----------------------------------------------------

type agentConfigRequest struct {
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"`
}

func (s *Server) handleAgentConfig(w http.ResponseWriter, r *http.Request) {
	var req agentConfigRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeErr(w, apierr.InvalidRequest("malformed JSON body"))
		return
	}
	env := envelope{DeviceID: req.DeviceID, Timestamp: req.Timestamp, Nonce: req.Nonce, Signature: req.Signature}
	if env.DeviceID == "" || env.Timestamp == 0 || env.Nonce == "" || env.Signature == "" {
		writeErr(w, apierr.InvalidRequest("device_id, timestamp, nonce, and signature are required"))
		return
	}

	dev, err := s.auther.authenticate(r.Context(), env, nil, "config_pull", 0, 0)
	if err != nil {
		writeErr(w, err)
		return
	}

	resolved, err := s.Config.Resolve(r.Context(), dev.ID, dev.EnrollmentToken)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]interface{}{"config": resolved.Document, "version": resolved.Version})
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Package heartbeat implements the heartbeat engine (C6): authenticated
// liveness, task-report ingestion, and task/cancel dispatch, run through
// the strict pipeline of spec.md §4.6.
package heartbeat

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/domain/task"
	"github.com/fleetward/control-plane/internal/kv"
	core "github.com/fleetward/control-plane/internal/services/core"
	"github.com/fleetward/control-plane/internal/services/tasks"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/internal/verify"
	"github.com/fleetward/control-plane/pkg/logger"
)

const endpointHeartbeat = "heartbeat"

// SystemInfo is the agent-reported system snapshot carried on every
// heartbeat (spec.md §4.6 input).
type SystemInfo struct {
	Platform    string
	Version     string
	UptimeMS    int64
	CPUUsage    *float64
	MemoryUsage *float64
	DiskUsage   *float64
}

// Request is the decoded body of POST /agent/heartbeat.
type Request struct {
	DeviceID        string
	TimestampMS     int64
	Nonce           string
	Signature       string
	ProtocolVersion string
	SystemInfo      SystemInfo
	Reports         []task.Report
}

// Response is returned to the agent on a successful heartbeat.
type Response struct {
	ServerTimeMS     int64
	NextHeartbeatMS  int64
	Tasks            []task.Delivery
	Cancels          []task.CancelDelivery
}

// ConfigIntervalResolver supplies the effective heartbeat interval for a
// device, per spec.md §4.9.
type ConfigIntervalResolver interface {
	HeartbeatIntervalSeconds(ctx context.Context, deviceID, enrollmentToken string, fallback int) (int, error)
}

// Service implements the heartbeat pipeline.
type Service struct {
	devices          storage.DeviceStore
	rateLimiter      *kv.RateLimiter
	nonces           *kv.NonceStore
	reconciler       *tasks.Reconciler
	intervals        ConfigIntervalResolver
	log              *logger.Logger
	now              func() time.Time
	defaultIntervalS int
}

// New wires a heartbeat engine. defaultIntervalS is the HEARTBEAT_INTERVAL
// fallback (spec.md §6 environment configuration).
func New(devices storage.DeviceStore, rateLimiter *kv.RateLimiter, nonces *kv.NonceStore, reconciler *tasks.Reconciler, intervals ConfigIntervalResolver, defaultIntervalS int, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("heartbeat")
	}
	if defaultIntervalS <= 0 {
		defaultIntervalS = 60
	}
	return &Service{
		devices: devices, rateLimiter: rateLimiter, nonces: nonces,
		reconciler: reconciler, intervals: intervals, log: log,
		now: time.Now, defaultIntervalS: defaultIntervalS,
	}
}

// Descriptor advertises this service for system discovery.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "heartbeat",
		Domain:       "agent",
		Layer:        core.LayerService,
		Capabilities: []string{"liveness", "task-dispatch"},
		DependsOn:    []string{"storage", "kv", "tasks", "configresolver"},
	}
}

// Handle runs the pipeline of spec.md §4.6, steps 2-10 (step 1, field
// presence, is the HTTP layer's job before this is called).
func (s *Service) Handle(ctx context.Context, req Request) (Response, error) {
	decision := s.rateLimiter.CheckAndIncrement(ctx, req.DeviceID, endpointHeartbeat, kv.HeartbeatMax, kv.HeartbeatWindow)
	if !decision.Allowed {
		return Response{}, apierr.RateLimitExceeded(kv.HeartbeatMax, kv.HeartbeatWindow.String(), decision.Remaining, decision.ResetMS)
	}

	dev, err := s.devices.GetDevice(ctx, req.DeviceID)
	if errors.Is(err, storage.ErrNotFound) {
		return Response{}, apierr.DeviceNotFound(req.DeviceID)
	}
	if err != nil {
		return Response{}, apierr.DatabaseError("get_device", err)
	}

	extra := map[string]interface{}{
		"protocol_version": req.ProtocolVersion,
		"system_info":      systemInfoMap(req.SystemInfo),
	}
	now := s.now()
	if err := verify.VerifyRequest(now, req.DeviceID, req.TimestampMS, req.Nonce, req.Signature, ed25519.PublicKey(dev.PublicKey), extra); err != nil {
		return Response{}, apierr.InvalidSignature(err)
	}

	if err := s.nonces.Validate(ctx, req.DeviceID, req.Nonce); err != nil {
		if errors.Is(err, kv.ErrReplay) {
			return Response{}, apierr.ReplayAttack(req.Nonce)
		}
		if errors.Is(err, kv.ErrNonceTooShort) {
			return Response{}, apierr.InvalidRequest(fmt.Sprintf("nonce must be at least %d characters", kv.MinNonceLength))
		}
		return Response{}, apierr.Internal("nonce store failure", err)
	}

	version := req.SystemInfo.Version
	onlineStatus := device.StatusOnline
	updated, err := s.devices.UpdateDevice(ctx, req.DeviceID, device.Update{
		LastSeen: &now,
		Status:   &onlineStatus,
		Version:  &version,
	})
	if err != nil {
		return Response{}, apierr.DatabaseError("update_device", err)
	}

	s.reconciler.IngestReports(ctx, req.DeviceID, req.Reports)

	outgoing, err := s.reconciler.SelectOutgoing(ctx, req.DeviceID)
	if err != nil {
		return Response{}, err
	}

	intervalS := s.defaultIntervalS
	if s.intervals != nil {
		if resolved, err := s.intervals.HeartbeatIntervalSeconds(ctx, req.DeviceID, updated.EnrollmentToken, s.defaultIntervalS); err == nil {
			intervalS = resolved
		} else {
			s.log.WithDevice(req.DeviceID).WithField("error", err.Error()).Warn("heartbeat interval resolution failed, using default")
		}
	}

	return Response{
		ServerTimeMS:    now.UnixMilli(),
		NextHeartbeatMS: now.Add(time.Duration(intervalS) * time.Second).UnixMilli(),
		Tasks:           outgoing.Tasks,
		Cancels:         outgoing.Cancels,
	}, nil
}

func systemInfoMap(info SystemInfo) map[string]interface{} {
	m := map[string]interface{}{
		"platform": info.Platform,
		"version":  info.Version,
		"uptime":   info.UptimeMS,
	}
	if info.CPUUsage != nil {
		m["cpu_usage"] = *info.CPUUsage
	}
	if info.MemoryUsage != nil {
		m["memory_usage"] = *info.MemoryUsage
	}
	if info.DiskUsage != nil {
		m["disk_usage"] = *info.DiskUsage
	}
	return m
}

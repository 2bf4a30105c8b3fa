// Package commands implements the administrator-facing command queue
// surface (C8): validation and defaulting over the ephemeral
// kv.CommandQueue described in spec.md §4.8.
package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/command"
	"github.com/fleetward/control-plane/internal/kv"
	core "github.com/fleetward/control-plane/internal/services/core"
	"github.com/fleetward/control-plane/pkg/logger"
)

const (
	defaultExpiresInS = 86400
	defaultMaxRetries = 3
	defaultPollLimit  = 10
)

// Service validates and queues administrator commands, and surfaces the
// agent-facing poll/ack operations.
type Service struct {
	queue *kv.CommandQueue
	log   *logger.Logger
	now   func() time.Time
}

// New wires a command service over queue.
func New(queue *kv.CommandQueue, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("commands")
	}
	return &Service{queue: queue, log: log, now: time.Now}
}

// Descriptor advertises this service for system discovery.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "commands",
		Domain:       "agent",
		Layer:        core.LayerService,
		Capabilities: []string{"command-queue"},
		DependsOn:    []string{"kv"},
	}
}

// Enqueue validates and queues a new command for deviceID (spec.md §4.8:
// POST /commands). A zero priority defaults to normal, a zero expiresInS
// defaults to 24h, and a zero maxRetries defaults to 3.
func (s *Service) Enqueue(ctx context.Context, deviceID string, cmdType command.Type, priority command.Priority, payload []byte, expiresInS, maxRetries int) (command.Record, error) {
	if deviceID == "" {
		return command.Record{}, apierr.InvalidRequest("device_id is required")
	}
	if !command.ValidType(string(cmdType)) {
		return command.Record{}, apierr.InvalidCommandType(string(cmdType))
	}
	if priority == "" {
		priority = command.PriorityNormal
	}
	if !command.ValidPriority(string(priority)) {
		return command.Record{}, apierr.InvalidRequest(fmt.Sprintf("unknown priority %q", priority))
	}
	if expiresInS <= 0 {
		expiresInS = defaultExpiresInS
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	id, err := randomID()
	if err != nil {
		return command.Record{}, apierr.CryptoError("generate_command_id", err)
	}

	now := s.now()
	rec := command.Record{
		ID:         id,
		DeviceID:   deviceID,
		Type:       cmdType,
		Priority:   priority,
		Payload:    payload,
		Status:     command.StatusPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Duration(expiresInS) * time.Second),
		MaxRetries: maxRetries,
	}
	if err := s.queue.Enqueue(ctx, rec); err != nil {
		return command.Record{}, apierr.Internal("enqueue command failed", err)
	}
	return rec, nil
}

// Get returns one command record.
func (s *Service) Get(ctx context.Context, id string) (command.Record, error) {
	rec, err := s.queue.Get(ctx, id)
	if err == kv.ErrCommandNotFound {
		return command.Record{}, apierr.CommandNotFound(id)
	}
	if err != nil {
		return command.Record{}, apierr.Internal("get command failed", err)
	}
	return rec, nil
}

// Poll implements the agent-facing GET /agent/command endpoint, returning
// up to limit pending commands for deviceID (spec.md §4.8). A non-positive
// limit falls back to 10.
func (s *Service) Poll(ctx context.Context, deviceID string, limit int) ([]command.Record, error) {
	if limit <= 0 {
		limit = defaultPollLimit
	}
	recs, err := s.queue.Poll(ctx, deviceID, limit)
	if err != nil {
		return nil, apierr.Internal("poll commands failed", err)
	}
	return recs, nil
}

// Ack implements the agent-facing POST /agent/command/:id/ack endpoint.
func (s *Service) Ack(ctx context.Context, id, deviceID string, status command.Status, result []byte, errMsg string) (command.Record, error) {
	rec, err := s.queue.Ack(ctx, id, deviceID, status, result, errMsg)
	switch err {
	case nil:
		return rec, nil
	case kv.ErrCommandNotFound:
		return command.Record{}, apierr.CommandNotFound(id)
	case kv.ErrForbidden:
		return command.Record{}, apierr.Forbidden("command belongs to another device")
	case kv.ErrNotLive:
		return command.Record{}, apierr.Forbidden(fmt.Sprintf("command %s is no longer live (status=%s)", id, rec.Status))
	default:
		return command.Record{}, apierr.Internal("ack command failed", err)
	}
}

func randomID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate command id: %w", err)
	}
	return "cmd_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

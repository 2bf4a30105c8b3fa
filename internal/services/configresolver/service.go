// Package configresolver implements the config resolver (C9): the
// global → token → device layered deep-merge described in spec.md §4.9,
// plus the administrator CRUD surface over configuration rows.
package configresolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/configuration"
	core "github.com/fleetward/control-plane/internal/services/core"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/pkg/logger"
)

// Resolved is the outcome of resolving one device's effective
// configuration.
type Resolved struct {
	Document map[string]interface{}
	Version  int64 // wall-clock millisecond, spec.md §4.9 step 4
}

// Service merges configuration layers for a device and exposes
// administrator CRUD over individual rows.
type Service struct {
	store storage.ConfigStore
	log   *logger.Logger
	now   func() time.Time
}

// New wires a config resolver over store.
func New(store storage.ConfigStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("configresolver")
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Descriptor advertises this service for system discovery.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "configresolver",
		Domain:       "agent",
		Layer:        core.LayerService,
		Capabilities: []string{"config-merge"},
		DependsOn:    []string{"storage"},
	}
}

// Resolve implements spec.md §4.9: fetch the device's enrollment token
// (defaulting to the reserved default-token), gather the global/token/
// device rows, and deep-merge them in that order.
func (s *Service) Resolve(ctx context.Context, deviceID, enrollmentToken string) (Resolved, error) {
	if enrollmentToken == "" {
		enrollmentToken = "default-token"
	}

	layers := []struct {
		scope    configuration.Scope
		targetID string
	}{
		{configuration.ScopeGlobal, ""},
		{configuration.ScopeToken, enrollmentToken},
		{configuration.ScopeDevice, deviceID},
	}

	merged := map[string]interface{}{}
	for _, layer := range layers {
		cfg, err := s.store.GetConfiguration(ctx, layer.scope, layer.targetID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return Resolved{}, apierr.DatabaseError("get_configuration", err)
		}
		doc, err := decodeDocument(cfg.Content)
		if err != nil {
			return Resolved{}, apierr.Internal("malformed configuration document", err)
		}
		merged = deepMerge(merged, doc)
	}

	return Resolved{Document: merged, Version: s.now().UnixMilli()}, nil
}

// GetGlobal returns only the global layer, for the enrollment gate's
// response (spec.md §4.5 step 6). It satisfies enrollment.ConfigResolver.
func (s *Service) GetGlobal(ctx context.Context) (map[string]interface{}, error) {
	cfg, err := s.store.GetConfiguration(ctx, configuration.ScopeGlobal, "")
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, apierr.DatabaseError("get_configuration", err)
	}
	return decodeDocument(cfg.Content)
}

// HeartbeatIntervalSeconds derives the effective heartbeat interval for a
// device: its resolved "heartbeat.interval" document key if present,
// otherwise fallback (spec.md §4.9: "falls back to HEARTBEAT_INTERVAL env,
// default 60").
func (s *Service) HeartbeatIntervalSeconds(ctx context.Context, deviceID, enrollmentToken string, fallback int) (int, error) {
	resolved, err := s.Resolve(ctx, deviceID, enrollmentToken)
	if err != nil {
		return 0, err
	}
	section, ok := resolved.Document["heartbeat"].(map[string]interface{})
	if !ok {
		return fallback, nil
	}
	switch v := section["interval"].(type) {
	case float64:
		return int(v), nil
	default:
		return fallback, nil
	}
}

// Upsert validates and stores one configuration row (administrator CRUD,
// spec.md §4.9). target_id is forbidden for global scope and required for
// token/device scope; content must be valid JSON.
func (s *Service) Upsert(ctx context.Context, scope configuration.Scope, targetID string, content []byte, updatedBy string) (configuration.Configuration, error) {
	if !configuration.ValidScope(string(scope)) {
		return configuration.Configuration{}, apierr.InvalidRequest(fmt.Sprintf("unknown scope %q", scope))
	}
	if scope == configuration.ScopeGlobal && targetID != "" {
		return configuration.Configuration{}, apierr.InvalidRequest("target_id is forbidden for scope=global")
	}
	if scope != configuration.ScopeGlobal && targetID == "" {
		return configuration.Configuration{}, apierr.InvalidRequest("target_id is required for scope=" + string(scope))
	}
	if !json.Valid(content) {
		return configuration.Configuration{}, apierr.InvalidRequest("content must be valid JSON")
	}

	cfg, err := s.store.UpsertConfiguration(ctx, configuration.Configuration{
		Scope: scope, TargetID: targetID, Content: content, UpdatedBy: updatedBy,
	})
	if err != nil {
		return configuration.Configuration{}, apierr.DatabaseError("upsert_configuration", err)
	}
	return cfg, nil
}

// Get returns one configuration row.
func (s *Service) Get(ctx context.Context, scope configuration.Scope, targetID string) (configuration.Configuration, error) {
	cfg, err := s.store.GetConfiguration(ctx, scope, targetID)
	if errors.Is(err, storage.ErrNotFound) {
		return configuration.Configuration{}, apierr.Wrap(apierr.CodeDatabaseError, "configuration not found", 404, err)
	}
	if err != nil {
		return configuration.Configuration{}, apierr.DatabaseError("get_configuration", err)
	}
	return cfg, nil
}

// List returns every row for scope.
func (s *Service) List(ctx context.Context, scope configuration.Scope) ([]configuration.Configuration, error) {
	out, err := s.store.ListConfigurations(ctx, scope)
	if err != nil {
		return nil, apierr.DatabaseError("list_configurations", err)
	}
	return out, nil
}

// Delete removes one configuration row.
func (s *Service) Delete(ctx context.Context, scope configuration.Scope, targetID string) error {
	if err := s.store.DeleteConfiguration(ctx, scope, targetID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.Wrap(apierr.CodeDatabaseError, "configuration not found", 404, err)
		}
		return apierr.DatabaseError("delete_configuration", err)
	}
	return nil
}

func decodeDocument(content []byte) (map[string]interface{}, error) {
	if len(content) == 0 {
		return map[string]interface{}{}, nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("decode configuration document: %w", err)
	}
	return doc, nil
}

// deepMerge recursively merges override into base per spec.md §4.9 and
// §9 ("Deep merge"): objects merge key-by-key, arrays and scalars
// replace wholesale. base is not mutated; a new map is returned.
func deepMerge(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if existing, ok := out[k]; ok {
			existingObj, existingIsObj := existing.(map[string]interface{})
			overrideObj, overrideIsObj := v.(map[string]interface{})
			if existingIsObj && overrideIsObj {
				out[k] = deepMerge(existingObj, overrideObj)
				continue
			}
		}
		out[k] = v
	}
	return out
}

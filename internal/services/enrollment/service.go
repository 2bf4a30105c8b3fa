// Package enrollment implements the enrollment gate (C5): the one-shot
// handshake that mints or adopts a device identity and issues its key
// material (spec.md §4.5).
package enrollment

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/configuration"
	"github.com/fleetward/control-plane/internal/domain/device"
	core "github.com/fleetward/control-plane/internal/services/core"
	"github.com/fleetward/control-plane/internal/services/tokens"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/internal/verify"
	"github.com/fleetward/control-plane/pkg/logger"
)

// Request is the decoded body of POST /agent/enroll.
type Request struct {
	EnrollmentToken string
	Platform        string
	Version         string
	DeviceID        string
	PublicKey       string // base64, optional
	MACAddress      string
	ClientInfo      map[string]interface{}
}

// Result is returned to the agent on successful enrollment.
type Result struct {
	DeviceID        string
	PublicKey       string // base64
	PrivateKey      string // base64, empty when the caller supplied its own public key
	Config          map[string]interface{}
	ServerPublicKey string
	ServerURL       string
}

// ConfigResolver is the subset of the config resolver (C9) the enrollment
// gate needs: the global configuration row returned to a newly enrolled
// agent (spec.md §4.5 step 6).
type ConfigResolver interface {
	GetGlobal(ctx context.Context) (map[string]interface{}, error)
}

// Service implements the enrollment gate.
type Service struct {
	devices         storage.DeviceStore
	tokens          *tokens.Service
	config          ConfigResolver
	log             *logger.Logger
	isTestEnv       bool
	serverPublicKey string
	serverURL       string
}

// Option configures optional fields on Service.
type Option func(*Service)

// WithServerPublicKey sets the SERVER_PUBLIC_KEY advertised to agents.
func WithServerPublicKey(key string) Option { return func(s *Service) { s.serverPublicKey = key } }

// WithServerURL sets the static SERVER_URL advertised to agents, taking
// precedence over the per-request Host-header fallback (spec.md §4.5).
func WithServerURL(url string) Option { return func(s *Service) { s.serverURL = url } }

// WithTestEnvironment enables the test-token-* carve-out (spec.md §3, §9).
func WithTestEnvironment(enabled bool) Option { return func(s *Service) { s.isTestEnv = enabled } }

// New wires an enrollment gate over the device registry, the token
// service, and the config resolver.
func New(devices storage.DeviceStore, tokenSvc *tokens.Service, config ConfigResolver, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("enrollment")
	}
	s := &Service{devices: devices, tokens: tokenSvc, config: config, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Descriptor advertises this service for system discovery.
func (s *Service) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "enrollment",
		Domain:       "agent",
		Layer:        core.LayerService,
		Capabilities: []string{"device-enrollment"},
		DependsOn:    []string{"storage", "tokens", "configresolver"},
	}
}

// Enroll runs the algorithm of spec.md §4.5.
func (s *Service) Enroll(ctx context.Context, req Request, originURL string) (Result, error) {
	platform := strings.TrimSpace(req.Platform)
	version := strings.TrimSpace(req.Version)
	if platform == "" || version == "" {
		return Result{}, apierr.InvalidRequest("platform and version are required")
	}

	token := strings.TrimSpace(req.EnrollmentToken)
	if token == "" {
		return Result{}, apierr.InvalidRequest("enrollment_token is required")
	}

	if _, err := s.tokens.Validate(ctx, token, s.isTestEnv); err != nil {
		return Result{}, err
	}

	// INVALID_PLATFORM only fires once the token itself checks out (spec.md
	// §4.5: "a known-valid token is paired with a non-enumerated platform").
	if !device.ValidPlatform(platform) {
		return Result{}, apierr.InvalidPlatform(platform)
	}

	existing, adopted, err := s.resolveIdentity(ctx, req)
	if err != nil {
		return Result{}, err
	}

	pubB64, privB64, err := s.resolveKeyMaterial(req.PublicKey)
	if err != nil {
		return Result{}, err
	}
	rawPub, err := verify.DecodePublicKeySPKI(pubB64)
	if err != nil {
		return Result{}, apierr.CryptoError("decode_public_key", err)
	}

	if adopted {
		platformValue := device.Platform(platform)
		result, err := s.devices.UpdateDevice(ctx, existing.ID, device.Update{
			Version:         &version,
			Platform:        &platformValue,
			PublicKey:       rawPub,
			EnrollmentToken: &token,
			Status:          statusPtr(device.StatusOnline),
		})
		if err != nil {
			return Result{}, apierr.DatabaseError("update_device", err)
		}
		existing = result
	} else {
		deviceID := strings.TrimSpace(req.DeviceID)
		if deviceID == "" {
			deviceID = "dev_" + uuid.NewString()
		}
		newDevice := device.Device{
			ID:              deviceID,
			PublicKey:       rawPub,
			Platform:        device.Platform(platform),
			Version:         version,
			EnrollmentToken: token,
			MACAddress:      strings.TrimSpace(req.MACAddress),
			Status:          device.StatusOnline,
		}
		created, err := s.devices.CreateDevice(ctx, newDevice)
		if err != nil {
			return Result{}, apierr.DatabaseError("create_device", err)
		}
		existing = created

		if err := s.tokens.MarkUsed(ctx, token, created.ID); err != nil {
			s.log.WithDevice(created.ID).WithField("error", err.Error()).Warn("failed to mark enrollment token used")
		}
	}

	cfg, err := s.config.GetGlobal(ctx)
	if err != nil {
		s.log.WithDevice(existing.ID).WithField("error", err.Error()).Warn("failed to fetch global config for enrollment response")
		cfg = map[string]interface{}{}
	}

	return Result{
		DeviceID:        existing.ID,
		PublicKey:       pubB64,
		PrivateKey:      privB64,
		Config:          cfg,
		ServerPublicKey: s.serverPublicKey,
		ServerURL:       s.resolveServerURL(originURL),
	}, nil
}

// resolveIdentity implements step 3 of spec.md §4.5: adopt by MAC, else
// look up by device_id, else signal a fresh identity is needed.
func (s *Service) resolveIdentity(ctx context.Context, req Request) (device.Device, bool, error) {
	mac := strings.TrimSpace(req.MACAddress)
	if mac != "" {
		d, err := s.devices.GetDeviceByMAC(ctx, mac)
		if err == nil {
			return d, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return device.Device{}, false, apierr.DatabaseError("get_device_by_mac", err)
		}
	}

	id := strings.TrimSpace(req.DeviceID)
	if id != "" {
		d, err := s.devices.GetDevice(ctx, id)
		if err == nil {
			return d, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return device.Device{}, false, apierr.DatabaseError("get_device", err)
		}
	}

	return device.Device{}, false, nil
}

func (s *Service) resolveKeyMaterial(suppliedPublicKey string) (pubB64, privB64 string, err error) {
	if suppliedPublicKey != "" {
		return suppliedPublicKey, "", nil
	}
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", apierr.CryptoError("generate_keypair", err)
	}
	privPKCS8, err := verify.EncodePrivateKeyPKCS8(priv)
	if err != nil {
		return "", "", apierr.CryptoError("encode_private_key", err)
	}
	return verify.EncodePublicKeySPKI(pub), privPKCS8, nil
}

func (s *Service) resolveServerURL(originURL string) string {
	if s.serverURL != "" {
		return s.serverURL
	}
	return originURL
}

func statusPtr(st device.Status) *device.Status { return &st }

// GlobalConfigResolver adapts a bare ConfigStore into the ConfigResolver
// interface this service depends on, for callers that have not wired the
// full config resolver service.
type GlobalConfigResolver struct {
	Store storage.ConfigStore
}

func (r GlobalConfigResolver) GetGlobal(ctx context.Context) (map[string]interface{}, error) {
	cfg, err := r.Store.GetConfiguration(ctx, configuration.ScopeGlobal, "")
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get global configuration: %w", err)
	}
	var out map[string]interface{}
	if len(cfg.Content) == 0 {
		return map[string]interface{}{}, nil
	}
	if err := json.Unmarshal(cfg.Content, &out); err != nil {
		return nil, fmt.Errorf("decode global configuration: %w", err)
	}
	return out, nil
}

// Package device holds the device (managed machine) record shared by the
// enrollment gate, heartbeat engine, and administrator API.
package device

import "time"

// Platform enumerates the operating systems an agent may report.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMacOS   Platform = "macos"
)

// ValidPlatform reports whether p is one of the enumerated platforms.
func ValidPlatform(p string) bool {
	switch Platform(p) {
	case PlatformWindows, PlatformLinux, PlatformMacOS:
		return true
	default:
		return false
	}
}

// Status enumerates device liveness as observed by the heartbeat engine.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusError   Status = "error"
)

// Device is the server-side record of one agent installation.
type Device struct {
	ID              string
	PublicKey       []byte // Ed25519 SPKI
	Platform        Platform
	Version         string
	EnrollmentToken string // group key; "" means the reserved default token
	MACAddress      string // optional adoption key, "" when absent
	Status          Status
	LastSeen        time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Update captures the partial fields the registry may mutate on a device.
// Nil fields are left unchanged.
type Update struct {
	LastSeen        *time.Time
	Status          *Status
	Version         *string
	PublicKey       []byte
	EnrollmentToken *string
	Platform        *Platform
}

// Package storage defines the relational persistence boundary for the
// control plane: devices, the declarative task ledger, layered
// configuration documents, and enrollment tokens. Ephemeral state
// (nonces, rate-limit counters, the command queue) lives in the kv
// package instead; see SPEC_FULL.md §4.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fleetward/control-plane/internal/domain/configuration"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/domain/enrollmenttoken"
	"github.com/fleetward/control-plane/internal/domain/task"
)

// ErrNotFound is the backend-agnostic not-found sentinel every storage
// implementation wraps its lookup misses in, so callers in internal/services
// can use errors.Is regardless of whether the backing store is Postgres or
// the in-memory fallback.
var ErrNotFound = errors.New("storage: not found")

// DeviceStore persists device registry records.
type DeviceStore interface {
	CreateDevice(ctx context.Context, d device.Device) (device.Device, error)
	GetDevice(ctx context.Context, id string) (device.Device, error)
	GetDeviceByMAC(ctx context.Context, mac string) (device.Device, error)
	UpdateDevice(ctx context.Context, id string, upd device.Update) (device.Device, error)
	ListDevices(ctx context.Context, enrollmentToken string) ([]device.Device, error)
}

// TaskStore persists declarative tasks, their per-device reported state,
// and their append-only output log.
type TaskStore interface {
	CreateTask(ctx context.Context, t task.Task) (task.Task, error)
	GetTask(ctx context.Context, id string) (task.Task, error)
	UpdateTaskDesiredState(ctx context.Context, id string, desired task.DesiredState) (task.Task, error)
	ListTasksForDevice(ctx context.Context, deviceID string, states []task.DesiredState) ([]task.Task, error)
	ListTasks(ctx context.Context, deviceID string) ([]task.Task, error)

	GetTaskState(ctx context.Context, taskID, deviceID string) (task.TaskState, error)
	UpsertTaskState(ctx context.Context, st task.TaskState) (task.TaskState, error)

	AppendTaskLog(ctx context.Context, entry task.LogEntry) (task.LogEntry, error)
	ListTaskLogs(ctx context.Context, taskID string, afterID int64, limit int) ([]task.LogEntry, error)
}

// ConfigStore persists the three layers of configuration documents.
type ConfigStore interface {
	UpsertConfiguration(ctx context.Context, cfg configuration.Configuration) (configuration.Configuration, error)
	GetConfiguration(ctx context.Context, scope configuration.Scope, targetID string) (configuration.Configuration, error)
	ListConfigurations(ctx context.Context, scope configuration.Scope) ([]configuration.Configuration, error)
	DeleteConfiguration(ctx context.Context, scope configuration.Scope, targetID string) error
}

// TokenStore persists enrollment token records.
type TokenStore interface {
	CreateToken(ctx context.Context, t enrollmenttoken.Token) (enrollmenttoken.Token, error)
	GetToken(ctx context.Context, token string) (enrollmenttoken.Token, error)
	ListTokens(ctx context.Context) ([]enrollmenttoken.Token, error)
	RecordTokenUse(ctx context.Context, token, deviceID string, now time.Time) (enrollmenttoken.Token, error)
	DeactivateToken(ctx context.Context, token string) error
}

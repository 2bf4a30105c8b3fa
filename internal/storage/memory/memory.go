// Package memory is a thread-safe in-memory implementation of the storage
// interfaces, used in tests and for local prototyping without PostgreSQL.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetward/control-plane/internal/domain/configuration"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/domain/enrollmenttoken"
	"github.com/fleetward/control-plane/internal/domain/task"
	"github.com/fleetward/control-plane/internal/storage"
)

// Store is an in-memory, mutex-guarded implementation of the control
// plane's storage interfaces.
type Store struct {
	mu sync.RWMutex

	devices        map[string]device.Device
	tasks          map[string]task.Task
	taskStates     map[string]task.TaskState // keyed by taskID+"|"+deviceID
	taskLogs       map[string][]task.LogEntry
	nextLogID      int64
	configurations map[string]configuration.Configuration // keyed by scope+"|"+targetID
	nextConfigID   int64
	tokens         map[string]enrollmenttoken.Token
	nextTokenID    int64
}

var _ storage.DeviceStore = (*Store)(nil)
var _ storage.TaskStore = (*Store)(nil)
var _ storage.ConfigStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		devices:        make(map[string]device.Device),
		tasks:          make(map[string]task.Task),
		taskStates:     make(map[string]task.TaskState),
		taskLogs:       make(map[string][]task.LogEntry),
		configurations: make(map[string]configuration.Configuration),
		tokens:         make(map[string]enrollmenttoken.Token),
	}
}

func taskStateKey(taskID, deviceID string) string { return taskID + "|" + deviceID }
func configKey(scope configuration.Scope, targetID string) string { return string(scope) + "|" + targetID }

// --- DeviceStore ---------------------------------------------------------

func (s *Store) CreateDevice(_ context.Context, d device.Device) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.devices[d.ID]; exists {
		return device.Device{}, fmt.Errorf("device %s already exists", d.ID)
	}

	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = device.StatusOffline
	}
	s.devices[d.ID] = d
	return d, nil
}

func (s *Store) GetDevice(_ context.Context, id string) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return device.Device{}, fmt.Errorf("device %s: %w", id, storage.ErrNotFound)
	}
	return d, nil
}

func (s *Store) GetDeviceByMAC(_ context.Context, mac string) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.devices {
		if d.MACAddress == mac {
			return d, nil
		}
	}
	return device.Device{}, fmt.Errorf("device with mac %s: %w", mac, storage.ErrNotFound)
}

func (s *Store) UpdateDevice(_ context.Context, id string, upd device.Update) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return device.Device{}, fmt.Errorf("device %s: %w", id, storage.ErrNotFound)
	}

	if upd.LastSeen != nil {
		d.LastSeen = *upd.LastSeen
	}
	if upd.Status != nil {
		d.Status = *upd.Status
	}
	if upd.Version != nil {
		d.Version = *upd.Version
	}
	if upd.PublicKey != nil {
		d.PublicKey = upd.PublicKey
	}
	if upd.EnrollmentToken != nil {
		d.EnrollmentToken = *upd.EnrollmentToken
	}
	if upd.Platform != nil {
		d.Platform = *upd.Platform
	}
	d.UpdatedAt = time.Now().UTC()
	s.devices[id] = d
	return d, nil
}

func (s *Store) ListDevices(_ context.Context, enrollmentToken string) ([]device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []device.Device
	for _, d := range s.devices {
		if enrollmentToken == "" || d.EnrollmentToken == enrollmentToken {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- TaskStore -------------------------------------------------------------

func (s *Store) CreateTask(_ context.Context, t task.Task) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return task.Task{}, fmt.Errorf("task %s already exists", t.ID)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Revision == 0 {
		t.Revision = 1
	}
	if t.DesiredState == "" {
		t.DesiredState = task.DesiredPending
	}
	if len(t.Payload) == 0 {
		t.Payload = []byte("{}")
	}
	s.tasks[t.ID] = t

	key := taskStateKey(t.ID, t.DeviceID)
	s.taskStates[key] = task.TaskState{
		TaskID: t.ID, DeviceID: t.DeviceID, State: task.StateReceived, UpdatedAt: now,
	}
	return t, nil
}

func (s *Store) GetTask(_ context.Context, id string) (task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) UpdateTaskDesiredState(_ context.Context, id string, desired task.DesiredState) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}
	t.DesiredState = desired
	t.Revision++
	t.UpdatedAt = time.Now().UTC()
	s.tasks[id] = t
	return t, nil
}

func (s *Store) ListTasksForDevice(ctx context.Context, deviceID string, states []task.DesiredState) ([]task.Task, error) {
	all, err := s.ListTasks(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return all, nil
	}

	wanted := make(map[task.DesiredState]bool, len(states))
	for _, st := range states {
		wanted[st] = true
	}

	var out []task.Task
	for _, t := range all {
		if wanted[t.DesiredState] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) ListTasks(_ context.Context, deviceID string) ([]task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []task.Task
	for _, t := range s.tasks {
		if t.DeviceID == deviceID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetTaskState(_ context.Context, taskID, deviceID string) (task.TaskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.taskStates[taskStateKey(taskID, deviceID)]
	if !ok {
		return task.TaskState{}, fmt.Errorf("task state for %s/%s: %w", taskID, deviceID, storage.ErrNotFound)
	}
	return st, nil
}

func (s *Store) UpsertTaskState(_ context.Context, st task.TaskState) (task.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now().UTC()
	s.taskStates[taskStateKey(st.TaskID, st.DeviceID)] = st
	return st, nil
}

func (s *Store) AppendTaskLog(_ context.Context, entry task.LogEntry) (task.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLogID++
	entry.ID = s.nextLogID
	entry.CreatedAt = time.Now().UTC()
	s.taskLogs[entry.TaskID] = append(s.taskLogs[entry.TaskID], entry)
	return entry, nil
}

func (s *Store) ListTaskLogs(_ context.Context, taskID string, afterID int64, limit int) ([]task.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	var out []task.LogEntry
	for _, entry := range s.taskLogs[taskID] {
		if entry.ID > afterID {
			out = append(out, entry)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// --- ConfigStore -------------------------------------------------------------

func (s *Store) UpsertConfiguration(_ context.Context, cfg configuration.Configuration) (configuration.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := configKey(cfg.Scope, cfg.TargetID)
	now := time.Now().UTC()
	cfg.UpdatedAt = now
	if len(cfg.Content) == 0 {
		cfg.Content = []byte("{}")
	}

	if existing, ok := s.configurations[key]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		s.nextConfigID++
		cfg.ID = s.nextConfigID
		cfg.CreatedAt = now
	}
	s.configurations[key] = cfg
	return cfg, nil
}

func (s *Store) GetConfiguration(_ context.Context, scope configuration.Scope, targetID string) (configuration.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configurations[configKey(scope, targetID)]
	if !ok {
		return configuration.Configuration{}, fmt.Errorf("configuration %s/%s: %w", scope, targetID, storage.ErrNotFound)
	}
	return cfg, nil
}

func (s *Store) ListConfigurations(_ context.Context, scope configuration.Scope) ([]configuration.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []configuration.Configuration
	for _, cfg := range s.configurations {
		if cfg.Scope == scope {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out, nil
}

func (s *Store) DeleteConfiguration(_ context.Context, scope configuration.Scope, targetID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := configKey(scope, targetID)
	if _, ok := s.configurations[key]; !ok {
		return fmt.Errorf("configuration %s/%s: %w", scope, targetID, storage.ErrNotFound)
	}
	delete(s.configurations, key)
	return nil
}

// --- TokenStore --------------------------------------------------------------

func (s *Store) CreateToken(_ context.Context, t enrollmenttoken.Token) (enrollmenttoken.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[t.Token]; exists {
		return enrollmenttoken.Token{}, fmt.Errorf("token already exists")
	}

	s.nextTokenID++
	t.ID = s.nextTokenID
	t.CreatedAt = time.Now().UTC()
	if t.MaxUsage == 0 {
		t.MaxUsage = 1
	}
	t.IsActive = true
	s.tokens[t.Token] = t
	return t, nil
}

func (s *Store) GetToken(_ context.Context, token string) (enrollmenttoken.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[token]
	if !ok {
		return enrollmenttoken.Token{}, fmt.Errorf("token %q: %w", token, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) ListTokens(_ context.Context) ([]enrollmenttoken.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]enrollmenttoken.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) RecordTokenUse(_ context.Context, token, deviceID string, now time.Time) (enrollmenttoken.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return enrollmenttoken.Token{}, fmt.Errorf("token %q: %w", token, storage.ErrNotFound)
	}
	t.UsageCount++
	t.Used = true
	t.UsedAt = &now
	t.UsedByDevice = deviceID
	s.tokens[token] = t
	return t, nil
}

func (s *Store) DeactivateToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[token]
	if !ok {
		return fmt.Errorf("token %q: %w", token, storage.ErrNotFound)
	}
	t.IsActive = false
	s.tokens[token] = t
	return nil
}

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/fleetward/control-plane/internal/domain/configuration"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/domain/enrollmenttoken"
	"github.com/fleetward/control-plane/internal/domain/task"
)

func TestStoreCreateDeviceAndTask(t *testing.T) {
	store := New()
	ctx := context.Background()

	d, err := store.CreateDevice(ctx, device.Device{ID: "dev_1", Platform: device.PlatformLinux, Version: "1.0.0"})
	if err != nil {
		t.Fatalf("create device: %v", err)
	}

	tsk, err := store.CreateTask(ctx, task.Task{ID: "task_1", DeviceID: d.ID, Type: task.TypeCmdExec})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if tsk.DesiredState != task.DesiredPending {
		t.Fatalf("expected new task to default to pending desired state, got %s", tsk.DesiredState)
	}

	st, err := store.GetTaskState(ctx, tsk.ID, d.ID)
	if err != nil {
		t.Fatalf("get task state: %v", err)
	}
	if st.State != task.StateReceived {
		t.Fatalf("expected seeded task state to be received, got %s", st.State)
	}

	list, err := store.ListTasksForDevice(ctx, d.ID, []task.DesiredState{task.DesiredPending})
	if err != nil || len(list) != 1 || list[0].ID != tsk.ID {
		t.Fatalf("expected task to be listed as pending, got %#v err=%v", list, err)
	}
}

func TestStoreConfigurationUpsertIsIdempotentOnKey(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.UpsertConfiguration(ctx, configuration.Configuration{
		Scope: configuration.ScopeGlobal, Content: []byte(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second, err := store.UpsertConfiguration(ctx, configuration.Configuration{
		Scope: configuration.ScopeGlobal, Content: []byte(`{"a":2}`),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected upsert on (scope, target) to reuse the row id, got %d and %d", first.ID, second.ID)
	}

	got, err := store.GetConfiguration(ctx, configuration.ScopeGlobal, "")
	if err != nil {
		t.Fatalf("get configuration: %v", err)
	}
	if string(got.Content) != `{"a":2}` {
		t.Fatalf("expected latest content, got %s", got.Content)
	}
}

func TestStoreTokenUsageTracksDeviceAndCount(t *testing.T) {
	store := New()
	ctx := context.Background()

	tok, err := store.CreateToken(ctx, enrollmenttoken.Token{Token: "test-token-abcdef1234567890"})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	used, err := store.RecordTokenUse(ctx, tok.Token, "dev_1", time.Now().UTC())
	if err != nil {
		t.Fatalf("record token use: %v", err)
	}
	if used.UsageCount != 1 || used.UsedByDevice != "dev_1" {
		t.Fatalf("expected usage count 1 and device dev_1, got %+v", used)
	}

	if err := store.DeactivateToken(ctx, tok.Token); err != nil {
		t.Fatalf("deactivate token: %v", err)
	}
	got, err := store.GetToken(ctx, tok.Token)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got.IsActive {
		t.Fatalf("expected token to be inactive after deactivation")
	}
}

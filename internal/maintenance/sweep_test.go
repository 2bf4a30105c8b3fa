package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetward/control-plane/internal/domain/command"
	"github.com/fleetward/control-plane/internal/domain/device"
	"github.com/fleetward/control-plane/internal/kv"
	"github.com/fleetward/control-plane/internal/storage/memory"
	"github.com/fleetward/control-plane/pkg/logger"
)

func TestSweeperExpiresStaleCommands(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.CreateDevice(ctx, device.Device{ID: "dev_1", PublicKey: []byte("key")})
	require.NoError(t, err)

	queue := kv.NewCommandQueue(kv.NewMemoryStore())
	require.NoError(t, queue.Enqueue(ctx, command.Record{
		ID:        "cmd_1",
		DeviceID:  "dev_1",
		Type:      command.TypeExecute,
		Priority:  command.PriorityNormal,
		Status:    command.StatusPending,
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}))

	sweeper, err := New(store, queue, logger.NewDefault("test"), "@every 1h")
	require.NoError(t, err)

	sweeper.runOnce()

	rec, err := queue.Get(ctx, "cmd_1")
	require.NoError(t, err)
	require.Equal(t, command.StatusExpired, rec.Status)
}

func TestSweeperLeavesLiveCommandsAlone(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.CreateDevice(ctx, device.Device{ID: "dev_1", PublicKey: []byte("key")})
	require.NoError(t, err)

	queue := kv.NewCommandQueue(kv.NewMemoryStore())
	require.NoError(t, queue.Enqueue(ctx, command.Record{
		ID:        "cmd_1",
		DeviceID:  "dev_1",
		Type:      command.TypeExecute,
		Priority:  command.PriorityNormal,
		Status:    command.StatusPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}))

	sweeper, err := New(store, queue, logger.NewDefault("test"), "@every 1h")
	require.NoError(t, err)

	sweeper.runOnce()

	rec, err := queue.Get(ctx, "cmd_1")
	require.NoError(t, err)
	require.Equal(t, command.StatusPending, rec.Status)
}

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetward/control-plane/internal/domain/command"
)

func makeRecord(id, device string, priority command.Priority, created time.Time) command.Record {
	return command.Record{
		ID:        id,
		DeviceID:  device,
		Type:      command.TypeExecute,
		Priority:  priority,
		Status:    command.StatusPending,
		CreatedAt: created,
		ExpiresAt: created.Add(time.Hour),
	}
}

func TestCommandQueuePriorityOrder(t *testing.T) {
	store := NewMemoryStore()
	q := NewCommandQueue(store)
	ctx := context.Background()
	base := time.Now()

	require.NoError(t, q.Enqueue(ctx, makeRecord("c-low", "dev_1", command.PriorityLow, base)))
	require.NoError(t, q.Enqueue(ctx, makeRecord("c-urgent", "dev_1", command.PriorityUrgent, base.Add(time.Second))))
	require.NoError(t, q.Enqueue(ctx, makeRecord("c-normal", "dev_1", command.PriorityNormal, base.Add(2*time.Second))))

	out, err := q.Poll(ctx, "dev_1", 10)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.Equal(t, "c-urgent", out[0].ID)
	require.Equal(t, "c-normal", out[1].ID)
	require.Equal(t, "c-low", out[2].ID)
	for _, rec := range out {
		require.Equal(t, command.StatusDelivered, rec.Status)
	}
}

func TestCommandQueueAckOwnershipEnforced(t *testing.T) {
	store := NewMemoryStore()
	q := NewCommandQueue(store)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, makeRecord("c-1", "dev_1", command.PriorityNormal, time.Now())))
	_, err := q.Poll(ctx, "dev_1", 10)
	require.NoError(t, err)

	_, err = q.Ack(ctx, "c-1", "dev_2", command.StatusCompleted, nil, "")
	require.ErrorIs(t, err, ErrForbidden)

	rec, err := q.Get(ctx, "c-1")
	require.NoError(t, err)
	require.Equal(t, command.StatusDelivered, rec.Status, "a forbidden ack must not mutate status")

	rec, err = q.Ack(ctx, "c-1", "dev_1", command.StatusCompleted, []byte(`{"ok":true}`), "")
	require.NoError(t, err)
	require.Equal(t, command.StatusCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)

	idx, err := q.getIndex(ctx, "dev_1")
	require.NoError(t, err)
	require.NotContains(t, idx.CommandIDs, "c-1")
}

func TestCommandQueueNeverDoubleCompletes(t *testing.T) {
	store := NewMemoryStore()
	q := NewCommandQueue(store)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, makeRecord("c-1", "dev_1", command.PriorityNormal, time.Now())))
	_, err := q.Poll(ctx, "dev_1", 10)
	require.NoError(t, err)
	_, err = q.Ack(ctx, "c-1", "dev_1", command.StatusCompleted, nil, "")
	require.NoError(t, err)

	_, err = q.Ack(ctx, "c-1", "dev_1", command.StatusCompleted, nil, "")
	require.ErrorIs(t, err, ErrNotLive, "acking an already-completed command must fail, not silently double-complete")
}

package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fleetward/control-plane/internal/domain/command"
)

// DefaultCommandTTL caps the lifetime of a command record and of its
// per-device index, both set when the command is enqueued (spec.md §3).
const DefaultCommandTTL = 24 * time.Hour

// CommandQueue implements the command queue contract (C8) on top of a
// plain Store: cmd:{id} holds the record, cmd:index:{device_id} holds the
// list of live ids, per spec.md §4.8.
type CommandQueue struct {
	store Store
	now   func() time.Time
}

// NewCommandQueue wraps store.
func NewCommandQueue(store Store) *CommandQueue {
	return &CommandQueue{store: store, now: time.Now}
}

// ErrCommandNotFound is returned when a command id has no record.
var ErrCommandNotFound = cmdNotFoundError{}

type cmdNotFoundError struct{}

func (cmdNotFoundError) Error() string { return "kv: command not found" }

func recordKey(id string) string { return "cmd:" + id }
func indexKey(deviceID string) string { return "cmd:index:" + deviceID }

// Enqueue stores rec and appends its id to the device index, both with the
// same TTL.
func (q *CommandQueue) Enqueue(ctx context.Context, rec command.Record) error {
	ttl := DefaultCommandTTL
	if !rec.ExpiresAt.IsZero() {
		if d := rec.ExpiresAt.Sub(q.now()); d > 0 && d < ttl {
			ttl = d
		}
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	if err := q.store.Set(ctx, recordKey(rec.ID), b, ttl); err != nil {
		return fmt.Errorf("store command: %w", err)
	}

	idx, err := q.getIndex(ctx, rec.DeviceID)
	if err != nil {
		return err
	}
	idx.CommandIDs = append(idx.CommandIDs, rec.ID)
	idx.UpdatedAt = q.now()
	return q.putIndex(ctx, idx, ttl)
}

// Get returns the record for id.
func (q *CommandQueue) Get(ctx context.Context, id string) (command.Record, error) {
	b, err := q.store.Get(ctx, recordKey(id))
	if err == ErrNotFound {
		return command.Record{}, ErrCommandNotFound
	}
	if err != nil {
		return command.Record{}, err
	}
	var rec command.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return command.Record{}, fmt.Errorf("decode command: %w", err)
	}
	return rec, nil
}

func (q *CommandQueue) put(ctx context.Context, rec command.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	ttl, err := q.store.TTL(ctx, recordKey(rec.ID))
	if err != nil || ttl <= 0 {
		ttl = DefaultCommandTTL
	}
	return q.store.Set(ctx, recordKey(rec.ID), b, ttl)
}

func (q *CommandQueue) getIndex(ctx context.Context, deviceID string) (command.Index, error) {
	b, err := q.store.Get(ctx, indexKey(deviceID))
	if err == ErrNotFound {
		return command.Index{DeviceID: deviceID}, nil
	}
	if err != nil {
		return command.Index{}, err
	}
	var idx command.Index
	if err := json.Unmarshal(b, &idx); err != nil {
		return command.Index{}, fmt.Errorf("decode command index: %w", err)
	}
	return idx, nil
}

func (q *CommandQueue) putIndex(ctx context.Context, idx command.Index, ttl time.Duration) error {
	b, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode command index: %w", err)
	}
	return q.store.Set(ctx, indexKey(idx.DeviceID), b, ttl)
}

func (q *CommandQueue) removeFromIndex(ctx context.Context, deviceID, id string) error {
	idx, err := q.getIndex(ctx, deviceID)
	if err != nil {
		return err
	}
	out := idx.CommandIDs[:0]
	for _, existing := range idx.CommandIDs {
		if existing != id {
			out = append(out, existing)
		}
	}
	idx.CommandIDs = out
	idx.UpdatedAt = q.now()
	ttl, err := q.store.TTL(ctx, indexKey(deviceID))
	if err != nil || ttl <= 0 {
		ttl = DefaultCommandTTL
	}
	return q.putIndex(ctx, idx, ttl)
}

// Poll returns up to limit pending commands for deviceID, priority-ordered
// (urgent < high < normal < low, earlier created_at breaks ties),
// marking each returned command delivered (spec.md §4.8).
//
// A command that reaches delivered is not re-offered on a later poll even
// if the agent never acks it (it stays in the index, filtered out of
// pending, until TTL reaps it; SweepExpired only expires pending
// commands). This
// favors spec.md §4.8's "keep only status=pending" framing over §5's
// at-least-once phrasing: a crashed agent strands its in-flight commands
// until they expire rather than risk a command firing twice on a flaky
// network that delivered fine but dropped the ack. An administrator can
// always re-enqueue; re-polling would need a redelivery deadline this
// queue doesn't track.
func (q *CommandQueue) Poll(ctx context.Context, deviceID string, limit int) ([]command.Record, error) {
	if limit <= 0 {
		limit = 10
	}

	idx, err := q.getIndex(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	now := q.now()
	var live []string
	var pending []command.Record
	for _, id := range idx.CommandIDs {
		rec, err := q.Get(ctx, id)
		if err == ErrCommandNotFound {
			// TTL already reaped the record; drop it from the index too.
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.Status == command.StatusPending && !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			rec.Status = command.StatusExpired
			if err := q.put(ctx, rec); err != nil {
				return nil, err
			}
			continue
		}
		if rec.Status != command.StatusPending {
			if rec.Status == command.StatusExpired || rec.Status == command.StatusCompleted || rec.Status == command.StatusFailed {
				continue
			}
			live = append(live, id)
			continue
		}
		live = append(live, id)
		pending = append(pending, rec)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority.Rank() != pending[j].Priority.Rank() {
			return pending[i].Priority.Rank() < pending[j].Priority.Rank()
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	if len(live) != len(idx.CommandIDs) {
		idx.CommandIDs = live
		idx.UpdatedAt = now
		ttl, err := q.store.TTL(ctx, indexKey(deviceID))
		if err != nil || ttl <= 0 {
			ttl = DefaultCommandTTL
		}
		if err := q.putIndex(ctx, idx, ttl); err != nil {
			return nil, err
		}
	}

	if len(pending) > limit {
		pending = pending[:limit]
	}

	delivered := now
	for i := range pending {
		pending[i].Status = command.StatusDelivered
		pending[i].DeliveredAt = &delivered
		if err := q.put(ctx, pending[i]); err != nil {
			return nil, err
		}
	}

	return pending, nil
}

// ErrForbidden is returned by Ack when the command belongs to another
// device.
var ErrForbidden = forbiddenError{}

// ErrNotLive is returned by Ack when the command has already reached a
// terminal status (expired/completed/failed). This is a domain error, not
// an infrastructure failure: the caller sent a stale ack, state is left
// unmutated, and the service layer maps it to a 4xx rather than 500
// (spec.md §4.8).
var ErrNotLive = notLiveError{}

type forbiddenError struct{}

func (forbiddenError) Error() string { return "kv: command belongs to another device" }

type notLiveError struct{}

func (notLiveError) Error() string { return "kv: command is no longer live" }

// Ack records the agent's acknowledgement of a command and removes it from
// the device index. It refuses to mutate an expired or foreign command.
func (q *CommandQueue) Ack(ctx context.Context, id, deviceID string, status command.Status, result []byte, errMsg string) (command.Record, error) {
	rec, err := q.Get(ctx, id)
	if err != nil {
		return command.Record{}, err
	}
	if rec.DeviceID != deviceID {
		return command.Record{}, ErrForbidden
	}
	if rec.Status == command.StatusExpired || rec.Status == command.StatusCompleted || rec.Status == command.StatusFailed {
		return rec, ErrNotLive
	}

	rec.Status = status
	now := q.now()
	rec.CompletedAt = &now
	rec.Result = result
	rec.Error = errMsg

	if err := q.put(ctx, rec); err != nil {
		return command.Record{}, err
	}
	if err := q.removeFromIndex(ctx, deviceID, id); err != nil {
		return command.Record{}, err
	}
	return rec, nil
}

// SweepExpired marks any pending command whose expires_at has passed as
// expired.
// Used by the background maintenance loop (SPEC_FULL.md §5).
func (q *CommandQueue) SweepExpired(ctx context.Context, deviceID string) (int, error) {
	idx, err := q.getIndex(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	now := q.now()
	swept := 0
	for _, id := range idx.CommandIDs {
		rec, err := q.Get(ctx, id)
		if err == ErrCommandNotFound {
			continue
		}
		if err != nil {
			return swept, err
		}
		if rec.Status == command.StatusPending && !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			rec.Status = command.StatusExpired
			if err := q.put(ctx, rec); err != nil {
				return swept, err
			}
			swept++
		}
	}
	return swept, nil
}

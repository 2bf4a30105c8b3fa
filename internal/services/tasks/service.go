// Package tasks implements the task reconciler (C7): the declarative
// task lifecycle, revision-based cancellation, and agent-reported state
// convergence described in spec.md §4.7 and §9 ("TaskReconciler handle
// created at startup and passed explicitly to each handler" — replacing
// the source's process-wide singleton).
package tasks

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"github.com/fleetward/control-plane/internal/apierr"
	"github.com/fleetward/control-plane/internal/domain/task"
	core "github.com/fleetward/control-plane/internal/services/core"
	"github.com/fleetward/control-plane/internal/storage"
	"github.com/fleetward/control-plane/pkg/logger"
)

// Reconciler is the explicit, non-singleton handle spec.md §9 calls for:
// callers construct one at startup and pass it to every handler that
// needs task state, instead of reaching for a package-level global.
type Reconciler struct {
	store storage.TaskStore
	log   *logger.Logger
}

// New constructs a Reconciler over store.
func New(store storage.TaskStore, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("tasks")
	}
	return &Reconciler{store: store, log: log}
}

// Descriptor advertises this service for system discovery.
func (r *Reconciler) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "tasks",
		Domain:       "agent",
		Layer:        core.LayerService,
		Capabilities: []string{"task-reconciliation"},
		DependsOn:    []string{"storage"},
	}
}

// Create inserts a new task with revision=1, desired_state=pending
// (spec.md §4.7 "Initial").
func (r *Reconciler) Create(ctx context.Context, deviceID string, taskType task.Type, payload []byte, timeoutS *int) (task.Task, error) {
	if deviceID == "" {
		return task.Task{}, apierr.InvalidRequest("device_id is required")
	}
	if taskType != task.TypeConfigUpdate && taskType != task.TypeCmdExec {
		return task.Task{}, apierr.InvalidRequest("unsupported task type")
	}

	t := task.Task{
		ID:           "task-" + uuid.NewString(),
		DeviceID:     deviceID,
		Type:         taskType,
		Payload:      payload,
		Revision:     1,
		DesiredState: task.DesiredPending,
		TimeoutS:     timeoutS,
	}
	created, err := r.store.CreateTask(ctx, t)
	if err != nil {
		return task.Task{}, apierr.DatabaseError("create_task", err)
	}
	return created, nil
}

// Get returns one task by id.
func (r *Reconciler) Get(ctx context.Context, id string) (task.Task, error) {
	t, err := r.store.GetTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return task.Task{}, apierr.TaskNotFound(id)
	}
	if err != nil {
		return task.Task{}, apierr.DatabaseError("get_task", err)
	}
	return t, nil
}

// ListForDevice returns every task for deviceID, newest last.
func (r *Reconciler) ListForDevice(ctx context.Context, deviceID string) ([]task.Task, error) {
	out, err := r.store.ListTasks(ctx, deviceID)
	if err != nil {
		return nil, apierr.DatabaseError("list_tasks", err)
	}
	return out, nil
}

// Cancel sets desired_state=canceled and bumps the revision (spec.md
// §4.7 "admin cancels... bumps revision, desired=canceled").
func (r *Reconciler) Cancel(ctx context.Context, id string) (task.Task, error) {
	updated, err := r.store.UpdateTaskDesiredState(ctx, id, task.DesiredCanceled)
	if errors.Is(err, storage.ErrNotFound) {
		return task.Task{}, apierr.TaskNotFound(id)
	}
	if err != nil {
		return task.Task{}, apierr.DatabaseError("cancel_task", err)
	}
	return updated, nil
}

// Outgoing is the set of tasks and cancellations a heartbeat should
// deliver to one device (spec.md §4.7 "Delivery selection").
type Outgoing struct {
	Tasks   []task.Delivery
	Cancels []task.CancelDelivery
}

// SelectOutgoing computes tasks_to_send and cancels_to_send for
// deviceID: tasks with a non-canceled desired state and no terminal
// reported state, and cancellations not yet confirmed canceled by the
// agent.
func (r *Reconciler) SelectOutgoing(ctx context.Context, deviceID string) (Outgoing, error) {
	all, err := r.store.ListTasks(ctx, deviceID)
	if err != nil {
		return Outgoing{}, apierr.DatabaseError("list_tasks", err)
	}

	var out Outgoing
	for _, t := range all {
		state, err := r.store.GetTaskState(ctx, t.ID, deviceID)
		hasState := err == nil
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return Outgoing{}, apierr.DatabaseError("get_task_state", err)
		}

		if t.DesiredState == task.DesiredCanceled {
			if !hasState || state.State != task.StateCanceled {
				out.Cancels = append(out.Cancels, task.CancelDelivery{
					TaskID: t.ID, Revision: t.Revision, DesiredState: task.DesiredCanceled,
				})
			}
			continue
		}

		if hasState && state.State.Terminal() {
			continue
		}
		out.Tasks = append(out.Tasks, task.Delivery{
			TaskID: t.ID, Revision: t.Revision, Type: t.Type,
			DesiredState: t.DesiredState, Payload: decodePayload(t.Payload),
		})
	}
	return out, nil
}

// IngestReports applies a heartbeat's batch of agent-reported task
// updates (spec.md §4.6 "Report ingestion"). Reports for the same
// task_id are sorted so terminal states always win (spec.md §4.6, §9
// "Open question — terminal-report ordering"); per-report failures are
// logged, not propagated, matching the heartbeat's failure semantics.
func (r *Reconciler) IngestReports(ctx context.Context, deviceID string, reports []task.Report) {
	sort.SliceStable(reports, func(i, j int) bool {
		return reportRank(reports[i].State) < reportRank(reports[j].State)
	})

	for _, rep := range reports {
		if err := r.ingestOne(ctx, deviceID, rep); err != nil {
			r.log.WithTask(rep.TaskID).WithDevice(deviceID).WithField("error", err.Error()).Warn("task report ingestion failed")
		}
	}
}

func (r *Reconciler) ingestOne(ctx context.Context, deviceID string, rep task.Report) error {
	current, err := r.store.GetTaskState(ctx, rep.TaskID, deviceID)
	hasCurrent := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	if hasCurrent && !task.Wins(current.State, rep.State) {
		// Terminal state must never regress (spec.md §4.6, invariant of §3).
		return nil
	}

	next := task.TaskState{
		TaskID:   rep.TaskID,
		DeviceID: deviceID,
		State:    rep.State,
		Progress: current.Progress,
		Error:    rep.Error,
	}
	if rep.Progress != nil {
		next.Progress = *rep.Progress
	}
	next.OutputCursor = current.OutputCursor
	if rep.OutputCursor != nil && *rep.OutputCursor > next.OutputCursor {
		next.OutputCursor = *rep.OutputCursor
	}

	if _, err := r.store.UpsertTaskState(ctx, next); err != nil {
		return err
	}

	if rep.OutputChunk != "" {
		if _, err := r.store.AppendTaskLog(ctx, task.LogEntry{TaskID: rep.TaskID, Content: rep.OutputChunk}); err != nil {
			return err
		}
	}
	return nil
}

// reportRank orders a single heartbeat's report batch for one task_id so
// terminal states are applied last and therefore win (spec.md §4.6).
func reportRank(s task.State) int {
	switch {
	case s.Terminal():
		return 2
	case s == task.StateRunning:
		return 1
	default:
		return 0
	}
}

func decodePayload(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return rawJSON(raw)
}

// rawJSON lets task.Delivery.Payload marshal the stored bytes verbatim
// instead of re-encoding them as a JSON string (spec.md §9 "Dynamic
// payload blobs ... opaque JSON to the server").
type rawJSON []byte

func (r rawJSON) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

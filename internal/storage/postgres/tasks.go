package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fleetward/control-plane/internal/domain/task"
	"github.com/fleetward/control-plane/internal/storage"
)

type taskRow struct {
	ID           string    `db:"id"`
	DeviceID     string    `db:"device_id"`
	Type         string    `db:"type"`
	DesiredState string    `db:"desired_state"`
	Payload      string    `db:"payload"`
	Revision     int       `db:"revision"`
	TimeoutS     sql.NullInt64 `db:"timeout_s"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r taskRow) toDomain() task.Task {
	t := task.Task{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		Type:         task.Type(r.Type),
		Payload:      []byte(r.Payload),
		Revision:     r.Revision,
		DesiredState: task.DesiredState(r.DesiredState),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.TimeoutS.Valid {
		v := int(r.TimeoutS.Int64)
		t.TimeoutS = &v
	}
	return t
}

func (s *Store) CreateTask(ctx context.Context, t task.Task) (task.Task, error) {
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

	var timeoutS sql.NullInt64
	if t.TimeoutS != nil {
		timeoutS = sql.NullInt64{Int64: int64(*t.TimeoutS), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, device_id, type, desired_state, payload, revision, timeout_s, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.DeviceID, string(t.Type), string(t.DesiredState), string(t.Payload), t.Revision, timeoutS, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return task.Task{}, fmt.Errorf("create task: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_states (task_id, device_id, state, progress, output_cursor, updated_at)
		VALUES ($1, $2, $3, 0, 0, $4)
	`, t.ID, t.DeviceID, string(task.StateReceived), t.CreatedAt)
	if err != nil {
		return task.Task{}, fmt.Errorf("seed task state: %w", err)
	}

	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, device_id, type, desired_state, payload, revision, timeout_s, created_at, updated_at
		FROM tasks WHERE id = $1
	`, id)
	if err != nil {
		return task.Task{}, wrapNotFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateTaskDesiredState(ctx context.Context, id string, desired task.DesiredState) (task.Task, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET desired_state = $2, revision = revision + 1, updated_at = $3
		WHERE id = $1
	`, id, string(desired), now)
	if err != nil {
		return task.Task{}, fmt.Errorf("update task desired state: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return task.Task{}, storage.ErrNotFound
	}
	return s.GetTask(ctx, id)
}

func (s *Store) ListTasksForDevice(ctx context.Context, deviceID string, states []task.DesiredState) ([]task.Task, error) {
	if len(states) == 0 {
		return s.ListTasks(ctx, deviceID)
	}

	placeholders := make([]string, len(states))
	args := make([]interface{}, 0, len(states)+1)
	args = append(args, deviceID)
	for i, st := range states {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`
		SELECT id, device_id, type, desired_state, payload, revision, timeout_s, created_at, updated_at
		FROM tasks WHERE device_id = $1 AND desired_state IN (%s)
		ORDER BY created_at
	`, strings.Join(placeholders, ","))

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks for device: %w", err)
	}

	out := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) ListTasks(ctx context.Context, deviceID string) ([]task.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, device_id, type, desired_state, payload, revision, timeout_s, created_at, updated_at
		FROM tasks WHERE device_id = $1 ORDER BY created_at
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	out := make([]task.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

type taskStateRow struct {
	TaskID       string    `db:"task_id"`
	DeviceID     string    `db:"device_id"`
	State        string    `db:"state"`
	Progress     int       `db:"progress"`
	OutputCursor int64     `db:"output_cursor"`
	Error        sql.NullString `db:"error"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r taskStateRow) toDomain() task.TaskState {
	return task.TaskState{
		TaskID:       r.TaskID,
		DeviceID:     r.DeviceID,
		State:        task.State(r.State),
		Progress:     r.Progress,
		OutputCursor: r.OutputCursor,
		Error:        r.Error.String,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *Store) GetTaskState(ctx context.Context, taskID, deviceID string) (task.TaskState, error) {
	var row taskStateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT task_id, device_id, state, progress, output_cursor, error, updated_at
		FROM task_states WHERE task_id = $1 AND device_id = $2
	`, taskID, deviceID)
	if err != nil {
		return task.TaskState{}, wrapNotFound(err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpsertTaskState(ctx context.Context, st task.TaskState) (task.TaskState, error) {
	st.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_states (task_id, device_id, state, progress, output_cursor, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (task_id, device_id) DO UPDATE
		SET state = EXCLUDED.state, progress = EXCLUDED.progress,
		    output_cursor = EXCLUDED.output_cursor, error = EXCLUDED.error,
		    updated_at = EXCLUDED.updated_at
	`, st.TaskID, st.DeviceID, string(st.State), st.Progress, st.OutputCursor, nullString(st.Error), st.UpdatedAt)
	if err != nil {
		return task.TaskState{}, fmt.Errorf("upsert task state: %w", err)
	}
	return st, nil
}

func (s *Store) AppendTaskLog(ctx context.Context, entry task.LogEntry) (task.LogEntry, error) {
	entry.CreatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO task_logs (task_id, content, created_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, entry.TaskID, entry.Content, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return task.LogEntry{}, fmt.Errorf("append task log: %w", err)
	}
	return entry, nil
}

func (s *Store) ListTaskLogs(ctx context.Context, taskID string, afterID int64, limit int) ([]task.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		ID        int64     `db:"id"`
		TaskID    string    `db:"task_id"`
		Content   string    `db:"content"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, task_id, content, created_at FROM task_logs
		WHERE task_id = $1 AND id > $2 ORDER BY id LIMIT $3
	`, taskID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list task logs: %w", err)
	}

	out := make([]task.LogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, task.LogEntry{ID: r.ID, TaskID: r.TaskID, Content: r.Content, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

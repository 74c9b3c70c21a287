package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateTask records a new task for an agent, starting at pending/0%.
func (s *Store) CreateTask(ctx context.Context, agentID, name, description string) (Task, error) {
	t := Task{
		TaskID:      uuid.NewString(),
		AgentID:     agentID,
		Name:        name,
		Description: description,
		Status:      TaskPending,
		StartedAt:   time.Now().UTC(),
		Outputs:     "{}",
		Metrics:     "{}",
	}
	err := s.write(ctx, "create_task", func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (task_id, agent_id, name, description, status, progress, started_at, outputs, metrics)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			t.TaskID, t.AgentID, t.Name, t.Description, t.Status, t.StartedAt, t.Outputs, t.Metrics,
		)
		return err
	})
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

// Task returns one task by ID.
func (s *Store) Task(ctx context.Context, taskID string) (Task, error) {
	var t Task
	err := s.reader().GetContext(ctx, &t, `SELECT * FROM tasks WHERE task_id = ?`, taskID)
	s.logReadErr("task", err)
	return t, err
}

// Tasks lists tasks, optionally filtered by agent and/or status, newest
// first.
func (s *Store) Tasks(ctx context.Context, agentID string, status TaskStatus) ([]Task, error) {
	q := `SELECT * FROM tasks WHERE 1=1`
	args := []any{}
	if agentID != "" {
		q += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY started_at DESC`
	var list []Task
	err := s.reader().SelectContext(ctx, &list, q, args...)
	s.logReadErr("tasks", err)
	return list, err
}

// UpdateTaskProgress sets progress on a non-terminal task. Progress is
// monotonic: a lower value than the stored one is kept out via MAX. A
// pending task reporting progress becomes active. Returns false when the
// task is already terminal.
func (s *Store) UpdateTaskProgress(ctx context.Context, taskID string, progress int) (bool, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	var updated bool
	err := s.write(ctx, "update_task_progress", func(tx *sqlx.Tx) error {
		res, err := tx.Exec(`
			UPDATE tasks
			SET progress = MAX(progress, ?), status = 'active'
			WHERE task_id = ? AND status IN ('pending', 'active')`,
			progress, taskID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = n > 0
		return nil
	})
	return updated, err
}

// CompleteTask transitions a non-terminal task to completed or failed,
// recording outputs and metrics. Completion forces progress to 100 on
// success. Returns false when the task is already terminal.
func (s *Store) CompleteTask(ctx context.Context, taskID string, failed bool, outputs, metrics string) (bool, error) {
	if outputs == "" {
		outputs = "{}"
	}
	if metrics == "" {
		metrics = "{}"
	}
	status := TaskCompleted
	if failed {
		status = TaskFailed
	}
	var updated bool
	err := s.write(ctx, "complete_task", func(tx *sqlx.Tx) error {
		q := `
			UPDATE tasks
			SET status = ?, completed_at = ?, outputs = ?, metrics = ?`
		if !failed {
			q += `, progress = 100`
		}
		q += ` WHERE task_id = ? AND status IN ('pending', 'active')`
		res, err := tx.Exec(q, status, time.Now().UTC(), outputs, metrics, taskID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		updated = n > 0
		return nil
	})
	return updated, err
}

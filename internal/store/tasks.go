package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

type taskRow struct {
	ID                 string         `db:"id"`
	Name               string         `db:"name"`
	Description        sql.NullString `db:"description"`
	Type               string         `db:"task_type"`
	SourceConnectionID string         `db:"source_connection_id"`
	TargetConnectionID sql.NullString `db:"target_connection_id"`
	Config             sql.NullString `db:"config"`
	Schedule           sql.NullString `db:"schedule"`
	Status             string         `db:"status"`
	StartTime          sql.NullString `db:"start_time"`
	EndTime            sql.NullString `db:"end_time"`
	Result             sql.NullString `db:"result"`
	ErrorMessage       sql.NullString `db:"error_message"`
	CreatedAt          string         `db:"created_at"`
	UpdatedAt          string         `db:"updated_at"`
}

const taskColumns = `id, name, description, task_type, source_connection_id, target_connection_id, config, schedule, status, start_time, end_time, result, error_message, created_at, updated_at`

func (r *taskRow) toModel() (*model.Task, error) {
	cfg, err := model.UnmarshalConfig(r.Config.String)
	if err != nil {
		return nil, fmt.Errorf("decoding config of task %s: %w", r.ID, err)
	}
	var result model.Config
	if r.Result.Valid && r.Result.String != "" {
		if result, err = model.UnmarshalConfig(r.Result.String); err != nil {
			return nil, fmt.Errorf("decoding result of task %s: %w", r.ID, err)
		}
	}
	return &model.Task{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description.String,
		Type:               model.TaskType(r.Type),
		SourceConnectionID: r.SourceConnectionID,
		TargetConnectionID: r.TargetConnectionID.String,
		Config:             cfg,
		Schedule:           r.Schedule.String,
		Status:             model.Status(r.Status),
		StartTime:          parseTimePtr(r.StartTime),
		EndTime:            parseTimePtr(r.EndTime),
		Result:             result,
		ErrorMessage:       r.ErrorMessage.String,
		CreatedAt:          parseTime(r.CreatedAt),
		UpdatedAt:          parseTime(r.UpdatedAt),
	}, nil
}

// ListTasks returns every task, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]*model.Task, error) {
	var rows []taskRow
	err := s.read(ctx, "store.list_tasks", func(tx *sqlx.Tx) error {
		rows = rows[:0]
		return tx.SelectContext(ctx, &rows, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*model.Task, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// GetTask loads one task with the same NotFound/Transient split as GetConnection.
func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var row taskRow
	err := s.read(ctx, "store.get_task", func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, tx.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, etlerr.NotFound("store.get_task", "task", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// InsertTask persists a new task definition.
func (s *Store) InsertTask(ctx context.Context, t *model.Task) error {
	cfg, err := t.Config.Marshal()
	if err != nil {
		return fmt.Errorf("encoding task config: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, nullString(t.Description), string(t.Type), t.SourceConnectionID,
		nullString(t.TargetConnectionID), cfg, nullString(t.Schedule), string(t.Status),
		formatTimePtr(t.StartTime), formatTimePtr(t.EndTime), sql.NullString{}, nullString(t.ErrorMessage),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", t.Name, err)
	}
	return nil
}

// UpdateTask rewrites the definition fields of a task. Status and timing are
// left alone.
func (s *Store) UpdateTask(ctx context.Context, t *model.Task) error {
	cfg, err := t.Config.Marshal()
	if err != nil {
		return fmt.Errorf("encoding task config: %w", err)
	}
	found, err := s.exec(ctx, `UPDATE tasks SET name = ?, description = ?, task_type = ?, source_connection_id = ?,
		target_connection_id = ?, config = ?, schedule = ?, updated_at = ? WHERE id = ?`,
		t.Name, nullString(t.Description), string(t.Type), t.SourceConnectionID,
		nullString(t.TargetConnectionID), cfg, nullString(t.Schedule), formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", t.ID, err)
	}
	if !found {
		return etlerr.NotFound("store.update_task", "task", t.ID)
	}
	return nil
}

// DeleteTask removes a task along with its history and checkpoint.
func (s *Store) DeleteTask(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM task_history WHERE task_id = ?`,
		`DELETE FROM task_checkpoints WHERE task_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), id); err != nil {
			return false, fmt.Errorf("deleting task %s: %w", id, err)
		}
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM tasks WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("deleting task %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateTaskStatus sets status and stamps updated_at.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status model.Status) error {
	found, err := s.exec(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`, string(status), s.stamp(), id)
	if err != nil {
		return fmt.Errorf("updating status of task %s: %w", id, err)
	}
	if !found {
		return etlerr.NotFound("store.update_task_status", "task", id)
	}
	return nil
}

// UpdateTaskConfig persists a resolved config map.
func (s *Store) UpdateTaskConfig(ctx context.Context, id string, cfg model.Config) error {
	encoded, err := cfg.Marshal()
	if err != nil {
		return fmt.Errorf("encoding task config: %w", err)
	}
	found, err := s.exec(ctx, `UPDATE tasks SET config = ?, updated_at = ? WHERE id = ?`, encoded, s.stamp(), id)
	if err != nil {
		return fmt.Errorf("updating config of task %s: %w", id, err)
	}
	if !found {
		return etlerr.NotFound("store.update_task_config", "task", id)
	}
	return nil
}

// MarkTaskRunning starts a new attempt: status running, start_time set, end
// time, result and error cleared.
func (s *Store) MarkTaskRunning(ctx context.Context, id string, start time.Time) error {
	found, err := s.exec(ctx, `UPDATE tasks SET status = ?, start_time = ?, end_time = NULL, result = NULL,
		error_message = NULL, updated_at = ? WHERE id = ?`,
		string(model.StatusRunning), formatTime(start), s.stamp(), id)
	if err != nil {
		return fmt.Errorf("marking task %s running: %w", id, err)
	}
	if !found {
		return etlerr.NotFound("store.mark_task_running", "task", id)
	}
	return nil
}

// FinishTask records the end of an attempt. When keepStatus is true the
// current status is preserved (a cancellation recorded while running). A
// stored cancelled status is never overwritten.
func (s *Store) FinishTask(ctx context.Context, id string, status model.Status, end time.Time, result model.Config, errMsg string, keepStatus bool) error {
	var encoded sql.NullString
	if result != nil {
		r, err := result.Marshal()
		if err != nil {
			return fmt.Errorf("encoding task result: %w", err)
		}
		encoded = sql.NullString{String: r, Valid: true}
	}
	var (
		found bool
		err   error
	)
	if keepStatus {
		found, err = s.exec(ctx, `UPDATE tasks SET end_time = ?, result = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			formatTime(end), encoded, nullString(errMsg), s.stamp(), id)
	} else {
		// A cancellation written since the attempt started wins over its outcome.
		found, err = s.exec(ctx, `UPDATE tasks SET status = CASE WHEN status = ? THEN status ELSE ? END,
			end_time = ?, result = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			string(model.StatusCancelled), string(status), formatTime(end), encoded, nullString(errMsg), s.stamp(), id)
	}
	if err != nil {
		return fmt.Errorf("finishing task %s: %w", id, err)
	}
	if !found {
		return etlerr.NotFound("store.finish_task", "task", id)
	}
	return nil
}

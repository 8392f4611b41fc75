package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

type checkpointRow struct {
	TaskID      string `db:"task_id"`
	Offset      int64  `db:"offset_rows"`
	RowsDone    int64  `db:"rows_done"`
	RowsTotal   int64  `db:"rows_total"`
	Fingerprint string `db:"fingerprint"`
	UpdatedAt   string `db:"updated_at"`
}

// GetCheckpoint returns the copy watermark of a task, or nil when none exists.
func (s *Store) GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error) {
	var row checkpointRow
	err := s.read(ctx, "store.get_checkpoint", func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, tx.Rebind(`SELECT task_id, offset_rows, rows_done, rows_total, fingerprint, updated_at
			FROM task_checkpoints WHERE task_id = ?`), taskID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Checkpoint{
		TaskID:      row.TaskID,
		Offset:      row.Offset,
		RowsDone:    row.RowsDone,
		RowsTotal:   row.RowsTotal,
		Fingerprint: row.Fingerprint,
		UpdatedAt:   parseTime(row.UpdatedAt),
	}, nil
}

// SaveCheckpoint replaces the watermark of a task.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_checkpoints WHERE task_id = ?`), cp.TaskID); err != nil {
		return fmt.Errorf("saving checkpoint for task %s: %w", cp.TaskID, err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO task_checkpoints (task_id, offset_rows, rows_done, rows_total, fingerprint, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`), cp.TaskID, cp.Offset, cp.RowsDone, cp.RowsTotal, cp.Fingerprint, s.stamp()); err != nil {
		return fmt.Errorf("saving checkpoint for task %s: %w", cp.TaskID, err)
	}
	return tx.Commit()
}

// ClearCheckpoint drops the watermark after a completed copy.
func (s *Store) ClearCheckpoint(ctx context.Context, taskID string) error {
	if _, err := s.exec(ctx, `DELETE FROM task_checkpoints WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clearing checkpoint for task %s: %w", taskID, err)
	}
	return nil
}

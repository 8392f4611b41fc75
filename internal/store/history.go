package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

type historyRow struct {
	ID            string         `db:"id"`
	TaskID        string         `db:"task_id"`
	Status        string         `db:"status"`
	StartTime     string         `db:"start_time"`
	EndTime       sql.NullString `db:"end_time"`
	RowsProcessed int64          `db:"rows_processed"`
	ErrorMessage  sql.NullString `db:"error_message"`
	CreatedAt     string         `db:"created_at"`
}

// InsertHistory appends one execution record.
func (s *Store) InsertHistory(ctx context.Context, h *model.History) error {
	_, err := s.exec(ctx, `INSERT INTO task_history (id, task_id, status, start_time, end_time, rows_processed, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.TaskID, string(h.Status), formatTime(h.StartTime), formatTimePtr(h.EndTime),
		h.RowsProcessed, nullString(h.ErrorMessage), formatTime(h.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting history for task %s: %w", h.TaskID, err)
	}
	return nil
}

// ListHistory returns the most recent attempts of a task, newest first.
func (s *Store) ListHistory(ctx context.Context, taskID string, limit int) ([]*model.History, error) {
	var rows []historyRow
	err := s.read(ctx, "store.list_history", func(tx *sqlx.Tx) error {
		rows = rows[:0]
		return tx.SelectContext(ctx, &rows, tx.Rebind(`SELECT id, task_id, status, start_time, end_time, rows_processed, error_message, created_at
			FROM task_history WHERE task_id = ? ORDER BY start_time DESC, created_at DESC LIMIT ?`), taskID, limit)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	out := make([]*model.History, 0, len(rows))
	for _, r := range rows {
		out = append(out, &model.History{
			ID:            r.ID,
			TaskID:        r.TaskID,
			Status:        model.Status(r.Status),
			StartTime:     parseTime(r.StartTime),
			EndTime:       parseTimePtr(r.EndTime),
			RowsProcessed: r.RowsProcessed,
			ErrorMessage:  r.ErrorMessage.String,
			CreatedAt:     parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

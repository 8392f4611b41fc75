package transfer

import (
	"context"
	"fmt"
	"strings"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

const kvStatementMessage = "statement execution is not supported for kv-store connections"

// ResolveStatement returns the sql of a custom-statement task. Tasks whose
// name mentions sql fall back to a trivial probe statement.
func ResolveStatement(task *model.Task) (string, error) {
	if sql := strings.TrimSpace(task.Config.String("sql", "")); sql != "" {
		return sql, nil
	}
	if strings.Contains(strings.ToLower(task.Name), "sql") {
		return "SELECT 1", nil
	}
	return "", etlerr.Validation("transfer.statement", "sql is required")
}

// statementQuerier narrows a handle to something that can run statements.
// Key-value handles are rejected by type alone.
func statementQuerier(h driver.Handle) (driver.Querier, error) {
	switch q := h.(type) {
	case driver.KeyValue:
		return nil, etlerr.Unsupported("transfer.statement", kvStatementMessage)
	case driver.Querier:
		return q, nil
	}
	return nil, etlerr.Unsupported("transfer.statement", "connection cannot run statements")
}

// StatementStrategy runs one statement on the source connection. A target
// connection, if any, is not touched.
type StatementStrategy struct{}

func (s *StatementStrategy) Execute(ctx context.Context, job *Job) (*Outcome, error) {
	const op = "transfer.statement"
	opts := job.Options.withDefaults()

	q, err := statementQuerier(job.Source)
	if err != nil {
		return nil, err
	}
	sql, err := ResolveStatement(job.Task)
	if err != nil {
		return nil, err
	}

	res, err := q.Execute(ctx, sql)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, etlerr.New(etlerr.ErrExecution, op, err)
	}

	if !res.ReturnsRows {
		return &Outcome{
			RowsProcessed: res.RowsAffected,
			Result:        model.Config{"rows_affected": res.RowsAffected},
		}, nil
	}
	n := int64(len(res.Rows))
	return &Outcome{
		RowsProcessed: n,
		Result: model.Config{
			"columns":   res.Columns,
			"row_count": n,
			"preview":   preview(res.Rows, opts.PreviewRows),
		},
	}, nil
}

func preview(rows []driver.Row, limit int) []driver.Row {
	if len(rows) > limit {
		rows = rows[:limit]
	}
	if rows == nil {
		return []driver.Row{}
	}
	return rows
}

// StatementTestResult is the outcome of an ad hoc statement run.
type StatementTestResult struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	Columns      []string     `json:"columns,omitempty"`
	Data         []driver.Row `json:"data,omitempty"`
	RowsAffected int64        `json:"rows_affected,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// HandleResolver looks up connections and their live handles.
type HandleResolver interface {
	Get(ctx context.Context, id string) (*model.Connection, error)
	LiveHandle(ctx context.Context, id string) (driver.Handle, error)
}

// TestStatement runs sql against a stored connection. Failures are reported
// in the result; it never returns an error.
func TestStatement(ctx context.Context, conns HandleResolver, connectionID, sql string, previewRows int) StatementTestResult {
	if strings.TrimSpace(sql) == "" {
		return StatementTestResult{Message: "sql is required", Error: "validation error: sql is required"}
	}
	if previewRows <= 0 {
		previewRows = DefaultOptions().PreviewRows
	}

	c, err := conns.Get(ctx, connectionID)
	if err != nil {
		return StatementTestResult{Message: "connection lookup failed", Error: err.Error()}
	}
	if c.Type == model.KVStore {
		return StatementTestResult{Message: kvStatementMessage}
	}
	h, err := conns.LiveHandle(ctx, connectionID)
	if err != nil {
		return StatementTestResult{Message: "connection failed", Error: err.Error()}
	}
	q, err := statementQuerier(h)
	if err != nil {
		return StatementTestResult{Message: kvStatementMessage, Error: err.Error()}
	}

	res, err := q.Execute(ctx, sql)
	if err != nil {
		return StatementTestResult{Message: "statement failed", Error: err.Error()}
	}
	if !res.ReturnsRows {
		return StatementTestResult{
			Success:      true,
			Message:      fmt.Sprintf("statement executed, %d rows affected", res.RowsAffected),
			RowsAffected: res.RowsAffected,
		}
	}
	return StatementTestResult{
		Success: true,
		Message: fmt.Sprintf("statement returned %d rows", len(res.Rows)),
		Columns: res.Columns,
		Data:    preview(res.Rows, previewRows),
	}
}

package postgres

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	etldriver "github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// Handle implements driver.TableSink over a pgx pool.
type Handle struct {
	pool    *pgxpool.Pool
	dialect *Dialect
}

// NewHandle wraps an open pool.
func NewHandle(pool *pgxpool.Pool) *Handle {
	return &Handle{pool: pool, dialect: &Dialect{}}
}

func (h *Handle) Kind() model.ConnType { return model.ColumnarStore }

func (h *Handle) DriverName() string { return "postgres" }

func (h *Handle) Close() error {
	h.pool.Close()
	return nil
}

func (h *Handle) Ping(ctx context.Context) error { return h.pool.Ping(ctx) }

func (h *Handle) QuoteIdent(name string) string { return h.dialect.QuoteIdentifier(name) }

// Query accepts ? placeholders for parity with the row-store flavours.
func (h *Handle) Query(ctx context.Context, q string, args ...any) (*etldriver.ResultSet, error) {
	if len(args) > 0 {
		q = sqlx.Rebind(sqlx.DOLLAR, q)
	}
	rows, err := h.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := fieldNames(rows)
	rs := &etldriver.ResultSet{Columns: cols, Rows: []etldriver.Row{}}
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

// Execute runs stmt and decides from the returned field descriptions whether
// it produced rows, so INSERT ... RETURNING is reported as a result set.
func (h *Handle) Execute(ctx context.Context, stmt string) (*etldriver.StatementResult, error) {
	rows, err := h.pool.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := fieldNames(rows)
	res := &etldriver.StatementResult{ReturnsRows: len(cols) > 0, Columns: cols}
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !res.ReturnsRows {
		res.RowsAffected = rows.CommandTag().RowsAffected()
	}
	return res, nil
}

func (h *Handle) NamespaceExists(ctx context.Context, ns string) (bool, error) {
	var exists bool
	err := h.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)`, ns).Scan(&exists)
	return exists, err
}

func (h *Handle) CreateNamespace(ctx context.Context, ns string) error {
	_, err := h.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+h.dialect.QuoteIdentifier(ns))
	return err
}

func (h *Handle) TableExists(ctx context.Context, ns, table string) (bool, error) {
	var exists bool
	err := h.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, ns, table).Scan(&exists)
	return exists, err
}

func (h *Handle) ExecDDL(ctx context.Context, ddl string) error {
	_, err := h.pool.Exec(ctx, ddl)
	return err
}

// InsertBatch queues one parameterized INSERT per row and sends them in a
// single round trip inside a transaction. Either every row lands or none.
func (h *Handle) InsertBatch(ctx context.Context, ns, table string, cols []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := h.dialect.InsertSQL(ns, table, cols)
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(stmt, r...)
	}

	br := tx.SendBatch(ctx, batch)
	var n int64
	for i := range rows {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("inserting row %d into %s.%s: %w", i, ns, table, err)
		}
		n += tag.RowsAffected()
	}
	if err := br.Close(); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing batch: %w", err)
	}
	return n, nil
}

func fieldNames(rows pgx.Rows) []string {
	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}
	return cols
}

func scanRow(rows pgx.Rows, cols []string) (etldriver.Row, error) {
	vals, err := rows.Values()
	if err != nil {
		return nil, err
	}
	row := make(etldriver.Row, len(cols))
	for i, c := range cols {
		row[c] = normalize(vals[i])
	}
	return row, nil
}

// normalize converts pgtype values into plain Go values that encode to JSON
// the way callers expect.
func normalize(v any) any {
	switch t := v.(type) {
	case [16]byte:
		return uuid.UUID(t).String()
	case pgtype.Numeric:
		if !t.Valid {
			return nil
		}
		if b, err := t.MarshalJSON(); err == nil {
			return string(b)
		}
	case netip.Prefix:
		return t.String()
	case netip.Addr:
		return t.String()
	case driver.Valuer:
		if val, err := t.Value(); err == nil {
			return val
		}
	}
	return v
}

package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// SQLHandle implements RowSource over a sqlx pool for the database/sql flavours.
type SQLHandle struct {
	db      *sqlx.DB
	kind    model.ConnType
	dialect Dialect
}

// NewSQLHandle wraps an open pool.
func NewSQLHandle(db *sqlx.DB, kind model.ConnType, dialect Dialect) *SQLHandle {
	return &SQLHandle{db: db, kind: kind, dialect: dialect}
}

// OpenSQL opens and pings a pool for c using the dialect's DSN.
func OpenSQL(ctx context.Context, dialect Dialect, c *model.Connection, maxConns int) (*sqlx.DB, error) {
	dsn, err := dialect.BuildDSN(c)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(dialect.SQLDriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}

	if maxConns < 1 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(max(maxConns/4, 1))
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

func (h *SQLHandle) Kind() model.ConnType { return h.kind }

func (h *SQLHandle) DriverName() string { return h.dialect.DBType() }

// DB returns the underlying pool.
func (h *SQLHandle) DB() *sqlx.DB { return h.db }

func (h *SQLHandle) Close() error { return h.db.Close() }

func (h *SQLHandle) Ping(ctx context.Context) error { return h.db.PingContext(ctx) }

func (h *SQLHandle) QuoteIdent(name string) string { return h.dialect.QuoteIdentifier(name) }

func (h *SQLHandle) Query(ctx context.Context, q string, args ...any) (*ResultSet, error) {
	if len(args) > 0 {
		q = h.db.Rebind(q)
	}
	rows, err := h.db.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{Columns: cols, Rows: []Row{}}
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = h.dialect.Normalize(types[i].DatabaseTypeName(), vals[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

func (h *SQLHandle) Execute(ctx context.Context, stmt string) (*StatementResult, error) {
	if ReturnsRows(stmt) {
		rs, err := h.Query(ctx, stmt)
		if err != nil {
			return nil, err
		}
		return &StatementResult{ReturnsRows: true, Columns: rs.Columns, Rows: rs.Rows}, nil
	}
	res, err := h.db.ExecContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	return &StatementResult{RowsAffected: n}, nil
}

func (h *SQLHandle) DescribeTable(ctx context.Context, table string) ([]Column, error) {
	cols, err := h.dialect.Describe(ctx, h.db, table)
	if err != nil {
		return nil, fmt.Errorf("describing %s: %w", table, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %s not found or has no columns", table)
	}
	return cols, nil
}

func (h *SQLHandle) Count(ctx context.Context, q string, args ...any) (int64, error) {
	query := "SELECT COUNT(*) AS count FROM (" + q + ") AS t"
	if len(args) > 0 {
		query = h.db.Rebind(query)
	}
	var n int64
	if err := h.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, err
	}
	return n, nil
}

func (h *SQLHandle) PageQuery(q, orderBy string, limit, offset int64) string {
	return h.dialect.PageQuery(q, orderBy, limit, offset)
}

// Package driver provides pluggable store driver abstractions.
// Each store flavour (MySQL, SQL Server, PostgreSQL, Redis) implements the
// Driver interface and hands out live handles for the transfer strategies.
package driver

import (
	"context"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// Defaults contains default values for a driver.
type Defaults struct {
	// Port is the default port (e.g., 5432 for PostgreSQL, 6379 for Redis).
	Port int

	// Namespace is the default schema (e.g., "public" for PostgreSQL, "dbo" for MSSQL).
	Namespace string
}

// Driver represents a pluggable store driver.
//
// To add a new store:
// 1. Create a package under internal/driver/<name>/
// 2. Implement the Driver interface
// 3. Register via init(): driver.Register(&MyDriver{})
type Driver interface {
	// Name returns the primary driver name (e.g., "mysql", "postgres").
	Name() string

	// Aliases returns alternative names for this driver.
	Aliases() []string

	// Kind returns the connection type this driver serves.
	Kind() model.ConnType

	// Defaults returns the default configuration values for this driver.
	Defaults() Defaults

	// Probe opens a short-lived session, checks it and closes it.
	Probe(ctx context.Context, c *model.Connection) error

	// Open returns a long-lived handle for c. Callers own Close.
	Open(ctx context.Context, c *model.Connection) (Handle, error)
}

// Handle is a live, concurrency-safe session against one connection.
type Handle interface {
	Kind() model.ConnType
	DriverName() string
	Close() error
}

// Row is one result row keyed by column name.
type Row map[string]any

// ResultSet is a fully materialized query result.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// StatementResult is the outcome of an arbitrary statement.
type StatementResult struct {
	ReturnsRows  bool
	Columns      []string
	Rows         []Row
	RowsAffected int64
}

// Querier runs SQL against a relational store.
type Querier interface {
	Handle
	Ping(ctx context.Context) error
	// Query runs q with ? placeholders and loads every row.
	Query(ctx context.Context, q string, args ...any) (*ResultSet, error)
	// Execute runs one statement, returning rows when it produces any.
	Execute(ctx context.Context, stmt string) (*StatementResult, error)
	QuoteIdent(name string) string
}

// RowSource is a relational store that copies can read from page by page.
type RowSource interface {
	Querier
	DescribeTable(ctx context.Context, table string) ([]Column, error)
	Count(ctx context.Context, q string, args ...any) (int64, error)
	// PageQuery wraps q with the flavour's ordering and paging clause.
	// orderBy is an already quoted column, or empty.
	PageQuery(q, orderBy string, limit, offset int64) string
}

// TableSink is a relational store that copies write into.
type TableSink interface {
	Querier
	NamespaceExists(ctx context.Context, ns string) (bool, error)
	CreateNamespace(ctx context.Context, ns string) error
	TableExists(ctx context.Context, ns, table string) (bool, error)
	ExecDDL(ctx context.Context, ddl string) error
	// InsertBatch writes rows in a single transaction.
	InsertBatch(ctx context.Context, ns, table string, cols []string, rows [][]any) (int64, error)
}

// Entry is one key/value pair for a pipelined write.
type Entry struct {
	Key   string
	Value []byte
}

// KeyValue is a key-value store handle.
type KeyValue interface {
	Handle
	Ping(ctx context.Context) error
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetMany sends all entries in one round trip. ttl of zero means no expiry.
	SetMany(ctx context.Context, entries []Entry, ttl time.Duration) error
}

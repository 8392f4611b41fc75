// Package store persists connections, tasks, execution history and copy
// checkpoints in a relational database through sqlx.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/johndauphine/etl-orchestrator/internal/config"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
)

// timeLayout is fixed-width so text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Store is the injected relational store behind the registry and task manager.
type Store struct {
	db         *sqlx.DB
	driver     string
	retries    int
	retryDelay time.Duration
	log        *logging.Logger
	now        func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithRetry sets the number of read attempts and the delay between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *Store) {
		if attempts > 0 {
			s.retries = attempts
		}
		s.retryDelay = delay
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects to the configured store and creates the schema if needed.
func Open(cfg config.StoreConfig) (*Store, error) {
	dsn := cfg.DSN
	switch cfg.Driver {
	case "sqlite":
		if !strings.Contains(dsn, ":memory:") && !strings.Contains(dsn, "mode=memory") {
			if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
				return nil, fmt.Errorf("creating data dir: %w", err)
			}
		}
		dsn = withParam(dsn, "_pragma=journal_mode(WAL)")
		dsn = withParam(dsn, "_pragma=busy_timeout(5000)")
	case "mysql":
		if !strings.Contains(dsn, "parseTime=") {
			dsn = withParam(dsn, "parseTime=true")
		}
	}

	db, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	if cfg.Driver == "sqlite" {
		// one writer; avoids SQLITE_BUSY between the executor and CLI reads
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to store: %w", err)
	}

	s, err := New(db, WithRetry(cfg.ReadRetries, cfg.ReadRetryDelay))
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and runs the schema migration.
func New(db *sqlx.DB, opts ...Option) (*Store, error) {
	s := FromDB(db, opts...)
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

// FromDB wraps an open database without touching its schema.
func FromDB(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:         db,
		driver:     db.DriverName(),
		retries:    3,
		retryDelay: time.Second,
		log:        logging.Named("store"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS connections (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			connection_type VARCHAR(32) NOT NULL,
			host VARCHAR(255) NOT NULL,
			port INTEGER NOT NULL,
			username VARCHAR(255),
			password TEXT,
			database_name VARCHAR(255),
			config TEXT,
			created_at VARCHAR(40) NOT NULL,
			updated_at VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			task_type VARCHAR(64) NOT NULL,
			source_connection_id VARCHAR(64) NOT NULL,
			target_connection_id VARCHAR(64),
			config TEXT,
			schedule VARCHAR(255),
			status VARCHAR(16) NOT NULL,
			start_time VARCHAR(40),
			end_time VARCHAR(40),
			result TEXT,
			error_message TEXT,
			created_at VARCHAR(40) NOT NULL,
			updated_at VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_history (
			id VARCHAR(64) PRIMARY KEY,
			task_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			start_time VARCHAR(40) NOT NULL,
			end_time VARCHAR(40),
			rows_processed BIGINT NOT NULL,
			error_message TEXT,
			created_at VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS task_checkpoints (
			task_id VARCHAR(64) PRIMARY KEY,
			offset_rows BIGINT NOT NULL,
			rows_done BIGINT NOT NULL,
			rows_total BIGINT NOT NULL,
			fingerprint VARCHAR(64) NOT NULL DEFAULT '',
			updated_at VARCHAR(40) NOT NULL
		)`,
	}
	// MySQL has no CREATE INDEX IF NOT EXISTS
	if s.driver != "mysql" {
		stmts = append(stmts,
			`CREATE INDEX IF NOT EXISTS idx_task_history_task ON task_history(task_id, start_time)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// read runs fn inside a transaction, retrying transient failures. sql.ErrNoRows
// is returned immediately; exhausted retries yield etlerr.ErrTransient.
func (s *Store) read(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err := s.readOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		lastErr = err
		s.log.Warn("%s failed (attempt %d/%d): %v", op, attempt, s.retries, err)
		if attempt < s.retries {
			if err := sleep(ctx, s.retryDelay); err != nil {
				return err
			}
		}
	}
	return etlerr.New(etlerr.ErrTransient, op, fmt.Errorf("after %d attempts: %w", s.retries, lastErr))
}

func (s *Store) readOnce(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// exec runs a write and reports whether any row matched.
func (s *Store) exec(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report it; assume the write landed.
		return true, nil
	}
	return n > 0, nil
}

func (s *Store) stamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

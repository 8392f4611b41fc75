// Package model defines the persisted entities of the orchestrator: connections,
// tasks, execution history and copy checkpoints.
package model

import (
	"fmt"
	"strings"
	"time"
)

// ConnType identifies the kind of store a connection points at.
type ConnType string

const (
	RowStore      ConnType = "row-store"
	ColumnarStore ConnType = "columnar-store"
	KVStore       ConnType = "kv-store"
)

var connTypeAliases = map[string]ConnType{
	"row-store":                 RowStore,
	"relational-row-store":      RowStore,
	"mysql":                     RowStore,
	"mssql":                     RowStore,
	"sqlserver":                 RowStore,
	"columnar-store":            ColumnarStore,
	"relational-columnar-store": ColumnarStore,
	"postgres":                  ColumnarStore,
	"postgresql":                ColumnarStore,
	"kv-store":                  KVStore,
	"key-value-store":           KVStore,
	"redis":                     KVStore,
}

// ParseConnType resolves a connection type or one of its aliases.
func ParseConnType(s string) (ConnType, error) {
	t, ok := connTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown connection type %q (valid: row-store, columnar-store, kv-store)", s)
	}
	return t, nil
}

// IsRelational reports whether the store speaks SQL.
func (t ConnType) IsRelational() bool {
	return t == RowStore || t == ColumnarStore
}

// DefaultDriver returns the driver flavour used when a connection does not name one.
func (t ConnType) DefaultDriver() string {
	switch t {
	case RowStore:
		return "mysql"
	case ColumnarStore:
		return "postgres"
	case KVStore:
		return "redis"
	}
	return ""
}

// TaskType selects the transfer strategy a task runs.
type TaskType string

const (
	RowToColumnarCopy       TaskType = "row-to-columnar-copy"
	ColumnarToKVMaterialize TaskType = "columnar-to-kv-materialize"
	RowToKVMaterialize      TaskType = "row-to-kv-materialize"
	CustomStatement         TaskType = "custom-statement"
)

var taskTypeAliases = map[string]TaskType{
	"row-to-columnar-copy":       RowToColumnarCopy,
	"mysql_to_postgres":          RowToColumnarCopy,
	"columnar-to-kv-materialize": ColumnarToKVMaterialize,
	"postgres_to_redis":          ColumnarToKVMaterialize,
	"row-to-kv-materialize":      RowToKVMaterialize,
	"mysql_to_redis":             RowToKVMaterialize,
	"custom-statement":           CustomStatement,
	"custom_sql":                 CustomStatement,
}

// ParseTaskType resolves a task type or one of its legacy aliases.
func ParseTaskType(s string) (TaskType, error) {
	t, ok := taskTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unsupported task type %q", s)
	}
	return t, nil
}

// RequiresTarget reports whether the task type needs a target connection.
func (t TaskType) RequiresTarget() bool {
	return t != CustomStatement
}

// SourceKind returns the connection type the task reads from, or "" when any
// relational store is acceptable.
func (t TaskType) SourceKind() ConnType {
	switch t {
	case RowToColumnarCopy, RowToKVMaterialize:
		return RowStore
	case ColumnarToKVMaterialize:
		return ColumnarStore
	}
	return ""
}

// TargetKind returns the connection type the task writes to.
func (t TaskType) TargetKind() ConnType {
	switch t {
	case RowToColumnarCopy:
		return ColumnarStore
	case ColumnarToKVMaterialize, RowToKVMaterialize:
		return KVStore
	}
	return ""
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no execution is pending or in flight.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a task may move from s to next.
// Terminal tasks may be started again; each start is a new attempt.
func (s Status) CanTransition(next Status) bool {
	switch next {
	case StatusRunning:
		return s != StatusRunning
	case StatusCompleted, StatusFailed:
		return s == StatusRunning
	case StatusCancelled:
		return !s.IsTerminal()
	case StatusPending:
		return s == StatusPending
	}
	return false
}

// Connection is a named, typed pointer to an external store.
type Connection struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        ConnType  `json:"connection_type"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username,omitempty"`
	Password    string    `json:"-"`
	Database    string    `json:"database,omitempty"`
	Config      Config    `json:"config,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Driver returns the driver flavour configured for the connection.
func (c *Connection) Driver() string {
	if d := c.Config.String("driver", ""); d != "" {
		return strings.ToLower(d)
	}
	return c.Type.DefaultDriver()
}

// Task is a persisted definition of one data-movement or statement job.
type Task struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description,omitempty"`
	Type               TaskType   `json:"task_type"`
	SourceConnectionID string     `json:"source_connection_id"`
	TargetConnectionID string     `json:"target_connection_id,omitempty"`
	Config             Config     `json:"config,omitempty"`
	Schedule           string     `json:"schedule,omitempty"`
	Status             Status     `json:"status"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	EndTime            *time.Time `json:"end_time,omitempty"`
	Result             Config     `json:"result,omitempty"`
	ErrorMessage       string     `json:"error_message,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// History is the audit record of one execution attempt.
type History struct {
	ID            string     `json:"history_id"`
	TaskID        string     `json:"task_id"`
	Status        Status     `json:"status"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	RowsProcessed int64      `json:"rows_processed"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Duration returns the wall-clock length of the attempt.
func (h *History) Duration() time.Duration {
	if h.EndTime == nil {
		return 0
	}
	return h.EndTime.Sub(h.StartTime)
}

// Checkpoint is the low-water mark of a copy: every row before Offset has
// been committed to the target.
type Checkpoint struct {
	TaskID      string    `json:"task_id"`
	Offset      int64     `json:"offset"`
	RowsDone    int64     `json:"rows_done"`
	RowsTotal   int64     `json:"rows_total"`
	Fingerprint string    `json:"fingerprint,omitempty"` // query and destination the offset belongs to
	UpdatedAt   time.Time `json:"updated_at"`
}

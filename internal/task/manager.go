// Package task manages task definitions, their lifecycle status and the
// per-attempt history the executor records.
package task

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
	"github.com/johndauphine/etl-orchestrator/internal/transfer"
)

// DefaultHistoryLimit is the number of attempts History returns when no
// limit is given.
const DefaultHistoryLimit = 10

// Store is the persistence the manager needs.
type Store interface {
	ListTasks(ctx context.Context) ([]*model.Task, error)
	GetTask(ctx context.Context, id string) (*model.Task, error)
	InsertTask(ctx context.Context, t *model.Task) error
	UpdateTask(ctx context.Context, t *model.Task) error
	DeleteTask(ctx context.Context, id string) (bool, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.Status) error
	UpdateTaskConfig(ctx context.Context, id string, cfg model.Config) error
	MarkTaskRunning(ctx context.Context, id string, start time.Time) error
	FinishTask(ctx context.Context, id string, status model.Status, end time.Time, result model.Config, errMsg string, keepStatus bool) error

	InsertHistory(ctx context.Context, h *model.History) error
	ListHistory(ctx context.Context, taskID string, limit int) ([]*model.History, error)

	transfer.CheckpointStore
}

// Connections resolves connection ids during validation.
type Connections interface {
	Get(ctx context.Context, id string) (*model.Connection, error)
}

// RunningChecker reports whether a task has an execution in flight.
type RunningChecker interface {
	IsRunning(id string) bool
}

// Spec is the user-supplied definition of a task.
type Spec struct {
	Name               string       `json:"name"`
	Description        string       `json:"description,omitempty"`
	Type               string       `json:"task_type"`
	SourceConnectionID string       `json:"source_connection_id"`
	TargetConnectionID string       `json:"target_connection_id,omitempty"`
	Config             model.Config `json:"config,omitempty"`
	Schedule           string       `json:"schedule,omitempty"`
}

// Manager owns task definitions.
type Manager struct {
	store   Store
	conns   Connections
	running RunningChecker
	log     *logging.Logger
	now     func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a manager.
func New(store Store, conns Connections, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		conns: conns,
		log:   logging.Named("task"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetRunningChecker wires the executor in after construction.
func (m *Manager) SetRunningChecker(rc RunningChecker) {
	m.running = rc
}

func (m *Manager) isRunning(id string) bool {
	return m.running != nil && m.running.IsRunning(id)
}

// List returns every task.
func (m *Manager) List(ctx context.Context) ([]*model.Task, error) {
	return m.store.ListTasks(ctx)
}

// Get returns one task.
func (m *Manager) Get(ctx context.Context, id string) (*model.Task, error) {
	return m.store.GetTask(ctx, id)
}

// Create validates and persists a new task in the pending state.
func (m *Manager) Create(ctx context.Context, spec Spec) (*model.Task, error) {
	t, err := m.validate(ctx, "task.create", spec)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	t.ID = uuid.NewString()
	t.Status = model.StatusPending
	t.CreatedAt = now
	t.UpdatedAt = now
	if err := m.store.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	m.log.Info("Created task %s (%s)", t.Name, t.Type)
	return t, nil
}

// Update replaces a task's definition. Status and run timing are untouched.
func (m *Manager) Update(ctx context.Context, id string, spec Spec) (*model.Task, error) {
	existing, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := m.validate(ctx, "task.update", spec)
	if err != nil {
		return nil, err
	}
	reset := definitionChanged(existing, t)
	existing.Name = t.Name
	existing.Description = t.Description
	existing.Type = t.Type
	existing.SourceConnectionID = t.SourceConnectionID
	existing.TargetConnectionID = t.TargetConnectionID
	existing.Config = t.Config
	existing.Schedule = t.Schedule
	existing.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateTask(ctx, existing); err != nil {
		return nil, err
	}
	if reset {
		// A watermark only applies to the source and target it was taken against.
		if err := m.store.ClearCheckpoint(ctx, id); err != nil {
			return nil, err
		}
	}
	m.log.Info("Updated task %s", existing.Name)
	return existing, nil
}

// definitionChanged reports whether next moves data differently from prev.
func definitionChanged(prev, next *model.Task) bool {
	if prev.Type != next.Type ||
		prev.SourceConnectionID != next.SourceConnectionID ||
		prev.TargetConnectionID != next.TargetConnectionID {
		return true
	}
	a, errA := prev.Config.Marshal()
	b, errB := next.Config.Marshal()
	return errA != nil || errB != nil || a != b
}

// Delete removes a task with its history and checkpoint. A task with an
// execution in flight cannot be deleted.
func (m *Manager) Delete(ctx context.Context, id string) error {
	const op = "task.delete"
	if m.isRunning(id) {
		return etlerr.Conflict(op, "task %s is running; cancel it first", id)
	}
	found, err := m.store.DeleteTask(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return etlerr.NotFound(op, "task", id)
	}
	m.log.Info("Deleted task %s", id)
	return nil
}

// UpdateStatus moves a task to status, enforcing the lifecycle rules.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Task, error) {
	const op = "task.update_status"
	if !status.Valid() {
		return nil, etlerr.Validation(op, "unknown status %q", status)
	}
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanTransition(status) {
		return nil, etlerr.Conflict(op, "task %s cannot move from %s to %s", id, t.Status, status)
	}
	if err := m.store.UpdateTaskStatus(ctx, id, status); err != nil {
		return nil, err
	}
	t.Status = status
	t.UpdatedAt = m.now().UTC()
	return t, nil
}

// History returns the most recent attempts, newest first.
func (m *Manager) History(ctx context.Context, id string, limit int) ([]*model.History, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if _, err := m.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListHistory(ctx, id, limit)
}

// AddHistory appends an attempt record. A missing end time defaults to now.
func (m *Manager) AddHistory(ctx context.Context, h *model.History) error {
	now := m.now().UTC()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.EndTime == nil {
		h.EndTime = &now
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	return m.store.InsertHistory(ctx, h)
}

// MarkRunning starts a new attempt.
func (m *Manager) MarkRunning(ctx context.Context, id string, start time.Time) error {
	return m.store.MarkTaskRunning(ctx, id, start)
}

// Finish records the end of an attempt. keepStatus preserves a cancellation
// that was recorded while the attempt was in flight.
func (m *Manager) Finish(ctx context.Context, id string, status model.Status, end time.Time, result model.Config, errMsg string, keepStatus bool) error {
	return m.store.FinishTask(ctx, id, status, end, result, errMsg, keepStatus)
}

// SaveConfig persists the config a strategy resolved.
func (m *Manager) SaveConfig(ctx context.Context, id string, cfg model.Config) error {
	return m.store.UpdateTaskConfig(ctx, id, cfg)
}

// Checkpoints exposes the copy watermark store.
func (m *Manager) Checkpoints() transfer.CheckpointStore {
	return m.store
}

func trimmed(s string) string { return strings.TrimSpace(s) }

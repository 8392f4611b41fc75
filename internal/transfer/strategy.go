// Package transfer implements the data-movement strategies a task can run:
// paged row-to-columnar copies, key-value materialization and ad hoc statements.
package transfer

import (
	"context"
	"regexp"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// ConfigSaver persists the resolved config of a task.
type ConfigSaver interface {
	SaveConfig(ctx context.Context, taskID string, cfg model.Config) error
}

// CheckpointStore persists the copy watermark of a task.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, taskID string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *model.Checkpoint) error
	ClearCheckpoint(ctx context.Context, taskID string) error
}

// Progress receives row counts as a transfer advances.
type Progress interface {
	SetTotal(total int64)
	Add(n int64)
}

// Options are process-wide transfer settings.
type Options struct {
	// RetryDelay is the default wait between batch attempts.
	RetryDelay time.Duration
	// PipelineSize is the default number of SETs per key-value round trip.
	PipelineSize int
	// PreviewRows caps the rows kept from a row-returning statement.
	PreviewRows int
}

// DefaultOptions returns the built-in settings.
func DefaultOptions() Options {
	return Options{RetryDelay: 2 * time.Second, PipelineSize: 500, PreviewRows: 100}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	} else if o.RetryDelay == 0 {
		o.RetryDelay = d.RetryDelay
	}
	if o.PipelineSize <= 0 {
		o.PipelineSize = d.PipelineSize
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = d.PreviewRows
	}
	return o
}

// Job is everything a strategy needs to run one task attempt.
type Job struct {
	Task        *model.Task
	Source      driver.Handle
	Target      driver.Handle // nil when the task has no target connection
	Configs     ConfigSaver
	Checkpoints CheckpointStore
	Progress    Progress
	Options     Options
}

func (j *Job) progress() Progress {
	if j.Progress == nil {
		return nopProgress{}
	}
	return j.Progress
}

func (j *Job) saveConfig(ctx context.Context, cfg model.Config) error {
	if j.Configs == nil {
		return nil
	}
	return j.Configs.SaveConfig(ctx, j.Task.ID, cfg)
}

type nopProgress struct{}

func (nopProgress) SetTotal(int64) {}
func (nopProgress) Add(int64)      {}

// Outcome is the result of a successful attempt.
type Outcome struct {
	RowsProcessed int64
	Result        model.Config
}

// Strategy runs one task type.
type Strategy interface {
	Execute(ctx context.Context, job *Job) (*Outcome, error)
}

// Select returns the strategy for a task type.
func Select(t model.TaskType) (Strategy, error) {
	switch t {
	case model.RowToColumnarCopy:
		return &CopyStrategy{}, nil
	case model.ColumnarToKVMaterialize, model.RowToKVMaterialize:
		return &MaterializeStrategy{}, nil
	case model.CustomStatement:
		return &StatementStrategy{}, nil
	}
	return nil, etlerr.Unsupported("transfer.select", "unsupported task type %q", t)
}

var (
	fromPattern = regexp.MustCompile(`(?i)from\s+([\w.]+)`)
	toPattern   = regexp.MustCompile(`(?i)to\s+([\w.]+)`)
)

// TableFromName extracts the table named after "from" in a task name.
func TableFromName(name string) (string, bool) {
	if m := fromPattern.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	return "", false
}

// TargetFromName extracts the table named after "to" in a task name.
func TargetFromName(name string) (string, bool) {
	if m := toPattern.FindStringSubmatch(name); m != nil {
		return m[1], true
	}
	return "", false
}

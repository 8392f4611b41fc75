// Package executor runs task attempts on a bounded pool of background
// workers and keeps the registry of executions in flight.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/etl-orchestrator/internal/config"
	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/metrics"
	"github.com/johndauphine/etl-orchestrator/internal/model"
	"github.com/johndauphine/etl-orchestrator/internal/notify"
	"github.com/johndauphine/etl-orchestrator/internal/task"
	"github.com/johndauphine/etl-orchestrator/internal/transfer"
)

const (
	defaultWorkers    = 4
	defaultQueueSize  = 64
	defaultCancelPoll = 2 * time.Second

	// finishTimeout bounds the bookkeeping writes after an attempt ends,
	// which run even when the execution context is already cancelled.
	finishTimeout = 30 * time.Second
)

var (
	// ErrQueueFull is returned by Run when no queue slot is free.
	ErrQueueFull = fmt.Errorf("%w: run queue is full", etlerr.ErrBusy)

	// ErrNotStarted is returned by Run before Start or after Shutdown.
	ErrNotStarted = fmt.Errorf("%w: executor is not accepting runs", etlerr.ErrBusy)
)

// Tasks is the task-manager surface the executor drives.
type Tasks interface {
	Get(ctx context.Context, id string) (*model.Task, error)
	UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Task, error)
	MarkRunning(ctx context.Context, id string, start time.Time) error
	Finish(ctx context.Context, id string, status model.Status, end time.Time, result model.Config, errMsg string, keepStatus bool) error
	AddHistory(ctx context.Context, h *model.History) error
	SaveConfig(ctx context.Context, id string, cfg model.Config) error
	Checkpoints() transfer.CheckpointStore
	SetRunningChecker(rc task.RunningChecker)
}

// Handles opens live driver handles for connections.
type Handles interface {
	LiveHandle(ctx context.Context, id string) (driver.Handle, error)
}

// ProgressFunc builds the progress sink for one attempt. It may return nil.
type ProgressFunc func(t *model.Task) transfer.Progress

type execution struct {
	taskID    string
	taskName  string
	taskType  model.TaskType
	started   time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool // guarded by Executor.mu
	done      chan struct{}
}

// Executor is a bounded worker pool for task attempts.
type Executor struct {
	tasks     Tasks
	handles   Handles
	workers   int
	queueSize int
	poll      time.Duration
	opts      transfer.Options
	metrics   *metrics.Metrics
	notifier  notify.Provider
	progress  ProgressFunc
	log       *logging.Logger
	now       func() time.Time

	queue chan *execution
	slots chan struct{}

	mu      sync.Mutex
	running map[string]*execution
	open    bool
	base    context.Context
	stop    context.CancelFunc
	group   *errgroup.Group
}

// Option customizes an Executor.
type Option func(*Executor)

// WithMetrics records executor activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithNotifier sends completion and failure notifications.
func WithNotifier(p notify.Provider) Option {
	return func(e *Executor) { e.notifier = p }
}

// WithTransferOptions sets the strategy-wide defaults.
func WithTransferOptions(o transfer.Options) Option {
	return func(e *Executor) { e.opts = o }
}

// WithProgress attaches a progress sink to every attempt.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Executor) { e.progress = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an executor sized by cfg and registers it as the running
// checker of tasks.
func New(tasks Tasks, handles Handles, cfg config.ExecutorConfig, opts ...Option) *Executor {
	e := &Executor{
		tasks:     tasks,
		handles:   handles,
		workers:   cfg.Workers,
		queueSize: cfg.QueueSize,
		poll:      cfg.CancelPollInterval,
		opts:      transfer.DefaultOptions(),
		log:       logging.Named("executor"),
		now:       time.Now,
		running:   make(map[string]*execution),
	}
	if e.workers <= 0 {
		e.workers = defaultWorkers
	}
	if e.queueSize <= 0 {
		e.queueSize = defaultQueueSize
	}
	if e.poll == 0 {
		e.poll = defaultCancelPoll
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = make(chan *execution, e.queueSize)
	e.slots = make(chan struct{}, e.queueSize)
	tasks.SetRunningChecker(e)
	return e
}

// Start launches the workers. Executions inherit ctx; cancelling it
// interrupts every attempt in flight.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.group != nil {
		return
	}
	e.base, e.stop = context.WithCancel(ctx)
	e.group = new(errgroup.Group)
	for i := 0; i < e.workers; i++ {
		e.group.Go(e.work)
	}
	e.open = true
	e.log.Debug("Started %d workers (queue size %d)", e.workers, e.queueSize)
}

func (e *Executor) work() error {
	for ex := range e.queue {
		<-e.slots
		e.metrics.QueueDepth(len(e.slots))
		e.process(ex)
	}
	return nil
}

// Shutdown stops admission and waits for queued and in-flight executions.
// When ctx ends first the remaining executions are cancelled and awaited.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return nil
	}
	e.open = false
	close(e.queue)
	group, stop := e.group, e.stop
	e.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		stop()
		return err
	case <-ctx.Done():
		e.log.Warn("Shutdown deadline reached; cancelling %d running tasks", len(e.Running()))
		stop()
		<-done
		return ctx.Err()
	}
}

// Run admits one execution of a task and returns it in the running state.
// A task that is already executing is returned unchanged.
func (e *Executor) Run(ctx context.Context, id string) (*model.Task, error) {
	t, err := e.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		return nil, ErrNotStarted
	}
	if _, ok := e.running[id]; ok {
		e.mu.Unlock()
		e.log.Debug("Task %s is already running", id)
		return t, nil
	}
	select {
	case e.slots <- struct{}{}:
	default:
		e.mu.Unlock()
		e.metrics.Rejected()
		e.log.Warn("Rejected run of task %s: queue is full (%d)", id, e.queueSize)
		return nil, ErrQueueFull
	}
	exCtx, cancel := context.WithCancel(e.base)
	ex := &execution{
		taskID:   t.ID,
		taskName: t.Name,
		taskType: t.Type,
		started:  e.now().UTC(),
		ctx:      exCtx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	e.running[id] = ex
	e.mu.Unlock()

	if err := e.tasks.MarkRunning(ctx, id, ex.started); err != nil {
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
		<-e.slots
		cancel()
		close(ex.done)
		return nil, err
	}

	e.mu.Lock()
	if !e.open {
		// Shutdown closed the queue between admission and enqueue.
		delete(e.running, id)
		e.mu.Unlock()
		<-e.slots
		cancel()
		close(ex.done)
		e.finishAborted(ex)
		return nil, ErrNotStarted
	}
	e.queue <- ex
	e.mu.Unlock()

	e.metrics.Enqueued(string(t.Type))
	e.metrics.QueueDepth(len(e.slots))
	e.log.Info("Queued task %s (%s)", t.Name, t.Type)

	start := ex.started
	t.Status = model.StatusRunning
	t.StartTime = &start
	t.EndTime = nil
	t.ErrorMessage = ""
	t.Result = nil
	return t, nil
}

// finishAborted records an admitted execution that never reached a worker.
func (e *Executor) finishAborted(ex *execution) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()
	end := e.now().UTC()
	msg := "executor shut down before the task started"
	if err := e.tasks.Finish(ctx, ex.taskID, model.StatusFailed, end, nil, msg, false); err != nil {
		e.log.Error("Recording aborted run of task %s: %v", ex.taskID, err)
	}
}

// Cancel marks a task cancelled and interrupts its execution, if any. The
// copy loop observes the cancellation between batches.
func (e *Executor) Cancel(ctx context.Context, id string) (*model.Task, error) {
	const op = "executor.cancel"
	t, err := e.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status.IsTerminal() {
		return nil, etlerr.Conflict(op, "task %s is already %s", id, t.Status)
	}

	t, err = e.tasks.UpdateStatus(ctx, id, model.StatusCancelled)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	ex := e.running[id]
	if ex != nil {
		ex.cancelled = true
	}
	e.mu.Unlock()
	if ex != nil {
		ex.cancel()
		e.log.Info("Cancelling running task %s", t.Name)
	} else {
		e.log.Info("Cancelled task %s", t.Name)
	}
	return t, nil
}

// IsRunning reports whether the task has an execution queued or in flight.
func (e *Executor) IsRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

// Running returns the ids of every registered execution, sorted.
func (e *Executor) Running() []string {
	e.mu.Lock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	e.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Wait blocks until the task's current execution finishes or ctx ends.
// It returns immediately when nothing is running.
func (e *Executor) Wait(ctx context.Context, id string) error {
	e.mu.Lock()
	ex := e.running[id]
	e.mu.Unlock()
	if ex == nil {
		return nil
	}
	select {
	case <-ex.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) process(ex *execution) {
	defer close(ex.done)
	defer ex.cancel()
	if e.poll > 0 {
		go e.watchCancel(ex)
	}

	outcome, err := e.execute(ex)
	e.finish(ex, outcome, err)
}

// watchCancel interrupts ex once another process records a cancellation.
func (e *Executor) watchCancel(ex *execution) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ex.ctx.Done():
			return
		case <-ticker.C:
		}
		if !e.storedCancelled(ex.ctx, ex.taskID) {
			continue
		}
		e.mu.Lock()
		ex.cancelled = true
		e.mu.Unlock()
		e.log.Info("Task %s was cancelled elsewhere; stopping", ex.taskName)
		ex.cancel()
		return
	}
}

// storedCancelled reports whether the persisted status is cancelled. Read
// errors count as not cancelled.
func (e *Executor) storedCancelled(ctx context.Context, id string) bool {
	t, err := e.tasks.Get(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			e.log.Debug("Reading status of task %s: %v", id, err)
		}
		return false
	}
	return t.Status == model.StatusCancelled
}

func (e *Executor) execute(ex *execution) (*transfer.Outcome, error) {
	ctx := ex.ctx
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, err := e.tasks.Get(ctx, ex.taskID)
	if err != nil {
		return nil, err
	}
	strategy, err := transfer.Select(t.Type)
	if err != nil {
		return nil, err
	}

	src, err := e.handles.LiveHandle(ctx, t.SourceConnectionID)
	if err != nil {
		return nil, fmt.Errorf("source connection: %w", err)
	}
	var tgt driver.Handle
	// custom statements run on the source only
	if t.TargetConnectionID != "" && t.Type != model.CustomStatement {
		if tgt, err = e.handles.LiveHandle(ctx, t.TargetConnectionID); err != nil {
			return nil, fmt.Errorf("target connection: %w", err)
		}
	}

	job := &transfer.Job{
		Task:        t,
		Source:      src,
		Target:      tgt,
		Configs:     e.tasks,
		Checkpoints: e.tasks.Checkpoints(),
		Options:     e.opts,
	}
	if e.progress != nil {
		job.Progress = e.progress(t)
	}

	e.log.Info("Executing task %s (%s)", t.Name, t.Type)
	return strategy.Execute(ctx, job)
}

// finish records the outcome of an attempt. Every step runs regardless of
// how the attempt ended; failures here are logged, not returned.
func (e *Executor) finish(ex *execution, outcome *transfer.Outcome, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	end := e.now().UTC()
	e.mu.Lock()
	cancelled := ex.cancelled
	e.mu.Unlock()
	if !cancelled && e.storedCancelled(ctx, ex.taskID) {
		cancelled = true
	}

	var (
		status model.Status
		result model.Config
		errMsg string
		rows   int64
	)
	if outcome != nil {
		rows = outcome.RowsProcessed
	}
	switch {
	case cancelled:
		status = model.StatusCancelled
		errMsg = "task cancelled"
		if outcome != nil {
			result = outcome.Result
		}
	case runErr != nil:
		status = model.StatusFailed
		errMsg = runErr.Error()
		if errors.Is(runErr, context.Canceled) {
			errMsg = "execution interrupted: " + errMsg
		}
	default:
		status = model.StatusCompleted
		result = outcome.Result
	}

	if err := e.tasks.Finish(ctx, ex.taskID, status, end, result, errMsg, cancelled); err != nil {
		e.log.Error("Recording final status of task %s: %v", ex.taskID, err)
	}

	h := &model.History{
		TaskID:        ex.taskID,
		Status:        status,
		StartTime:     ex.started,
		EndTime:       &end,
		RowsProcessed: rows,
		ErrorMessage:  errMsg,
	}
	if err := e.tasks.AddHistory(ctx, h); err != nil {
		e.log.Error("Recording history of task %s: %v", ex.taskID, err)
	}

	e.mu.Lock()
	delete(e.running, ex.taskID)
	e.mu.Unlock()

	duration := end.Sub(ex.started)
	e.metrics.Finished(string(ex.taskType), string(status), duration, rows)

	switch status {
	case model.StatusCompleted:
		e.log.Info("Task %s completed: %d rows in %s", ex.taskName, rows, duration.Round(time.Millisecond))
	case model.StatusCancelled:
		e.log.Warn("Task %s cancelled after %s", ex.taskName, duration.Round(time.Millisecond))
	default:
		e.log.Error("Task %s failed: %s", ex.taskName, errMsg)
	}

	e.notify(ex, status, duration, rows, runErr)
}

func (e *Executor) notify(ex *execution, status model.Status, d time.Duration, rows int64, runErr error) {
	if e.notifier == nil {
		return
	}
	ev := notify.Event{
		TaskID:   ex.taskID,
		TaskName: ex.taskName,
		TaskType: string(ex.taskType),
		Status:   string(status),
		Started:  ex.started,
		Duration: d,
		Rows:     rows,
		Err:      runErr,
	}
	var err error
	if status == model.StatusCompleted {
		err = e.notifier.TaskCompleted(ev)
	} else {
		if ev.Err == nil {
			ev.Err = errors.New("task cancelled")
		}
		err = e.notifier.TaskFailed(ev)
	}
	if err != nil {
		e.log.Warn("Sending notification for task %s: %v", ex.taskName, err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
	"github.com/johndauphine/etl-orchestrator/internal/progress"
	"github.com/johndauphine/etl-orchestrator/internal/task"
	"github.com/johndauphine/etl-orchestrator/internal/transfer"
)

func taskSpecFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: required, Usage: "Task name (\"copy from users to analytics.users\" infers tables)"},
		&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Required: required, Usage: "Task type: row-to-columnar-copy, columnar-to-kv-materialize, row-to-kv-materialize, custom-statement"},
		&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Required: required, Usage: "Source connection ID"},
		&cli.StringFlag{Name: "target", Usage: "Target connection ID"},
		&cli.StringFlag{Name: "description", Usage: "Free-form description"},
		&cli.StringFlag{Name: "schedule", Usage: "Cron expression (stored only)"},
		&cli.StringSliceFlag{Name: "set", Usage: "Task config as key=value (repeatable)"},
		&cli.StringFlag{Name: "config-file", Usage: "YAML or JSON file with the task config"},
	}
}

func idFlag() cli.Flag {
	return &cli.StringFlag{Name: "id", Required: true, Usage: "Task ID"}
}

func taskCommand() *cli.Command {
	return &cli.Command{
		Name:  "task",
		Usage: "Manage and run tasks",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List tasks",
				Action: listTasks,
			},
			{
				Name:   "show",
				Usage:  "Show one task",
				Action: showTask,
				Flags:  []cli.Flag{idFlag()},
			},
			{
				Name:   "create",
				Usage:  "Create a task",
				Action: createTask,
				Flags:  taskSpecFlags(true),
			},
			{
				Name:   "update",
				Usage:  "Replace fields of a task definition",
				Action: updateTask,
				Flags:  append([]cli.Flag{idFlag()}, taskSpecFlags(false)...),
			},
			{
				Name:   "delete",
				Usage:  "Delete a task with its history",
				Action: deleteTask,
				Flags:  []cli.Flag{idFlag()},
			},
			{
				Name:   "run",
				Usage:  "Run one or more tasks",
				Action: runTasks,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "id", Required: true, Usage: "Task ID (repeatable)"},
					&cli.BoolFlag{Name: "wait", Usage: "Show progress until every task finishes"},
					&cli.BoolFlag{Name: "metrics", Usage: "Serve Prometheus metrics while running"},
					&cli.StringFlag{Name: "metrics-listen", Usage: "Metrics listen address (default from config)"},
				},
			},
			{
				Name:   "cancel",
				Usage:  "Cancel a task",
				Action: cancelTask,
				Flags:  []cli.Flag{idFlag()},
			},
			{
				Name:   "history",
				Usage:  "Show recent runs of a task",
				Action: taskHistory,
				Flags: []cli.Flag{
					idFlag(),
					&cli.IntFlag{Name: "limit", Value: task.DefaultHistoryLimit, Usage: "Number of runs to show"},
				},
			},
		},
	}
}

func listTasks(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.tasks.List(c.Context)
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		return printJSON(tasks)
	}
	printTasks(tasks)
	return nil
}

func showTask(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tasks.Get(c.Context, c.String("id"))
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		return printJSON(t)
	}
	return printTask(t)
}

func taskConfigFromFlags(c *cli.Context, base model.Config) (model.Config, error) {
	cfg := base.Clone()
	if cfg == nil {
		cfg = model.Config{}
	}
	if path := c.String("config-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading task config: %w", err)
		}
		var fromFile map[string]any
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, etlerr.New(etlerr.ErrValidation, "task.config", fmt.Errorf("parsing %s: %w", path, err))
		}
		for k, v := range fromFile {
			cfg[k] = v
		}
	}
	settings, err := parseSettings(c.StringSlice("set"))
	if err != nil {
		return nil, err
	}
	for k, v := range settings {
		cfg[k] = v
	}
	return cfg, nil
}

func createTask(c *cli.Context) error {
	cfg, err := taskConfigFromFlags(c, nil)
	if err != nil {
		return err
	}
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.tasks.Create(c.Context, task.Spec{
		Name:               c.String("name"),
		Description:        c.String("description"),
		Type:               c.String("type"),
		SourceConnectionID: c.String("source"),
		TargetConnectionID: c.String("target"),
		Config:             cfg,
		Schedule:           c.String("schedule"),
	})
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		return printJSON(t)
	}
	fmt.Printf("Created task %q (%s)\n", t.Name, t.ID)
	return nil
}

func updateTask(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	id := c.String("id")
	existing, err := a.tasks.Get(c.Context, id)
	if err != nil {
		return err
	}
	spec := task.Spec{
		Name:               existing.Name,
		Description:        existing.Description,
		Type:               string(existing.Type),
		SourceConnectionID: existing.SourceConnectionID,
		TargetConnectionID: existing.TargetConnectionID,
		Schedule:           existing.Schedule,
	}
	for flag, field := range map[string]*string{
		"name":        &spec.Name,
		"description": &spec.Description,
		"type":        &spec.Type,
		"source":      &spec.SourceConnectionID,
		"target":      &spec.TargetConnectionID,
		"schedule":    &spec.Schedule,
	} {
		if c.IsSet(flag) {
			*field = c.String(flag)
		}
	}
	if spec.Config, err = taskConfigFromFlags(c, existing.Config); err != nil {
		return err
	}

	t, err := a.tasks.Update(c.Context, id, spec)
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		return printJSON(t)
	}
	fmt.Printf("Updated task %q\n", t.Name)
	return nil
}

func deleteTask(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	id := c.String("id")
	if err := a.tasks.Delete(c.Context, id); err != nil {
		return err
	}
	if !jsonOutput(c) {
		fmt.Printf("Deleted task %s\n", id)
	}
	return nil
}

// progressSinks hands out one progress sink per attempt and finishes them
// once the run is over.
type progressSinks struct {
	json bool
	tty  bool

	mu       sync.Mutex
	trackers []*progress.Tracker
	reports  []*progress.JSONReporter
}

func (p *progressSinks) forTask(t *model.Task) transfer.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.json:
		r := progress.NewJSONReporter(os.Stderr, t.ID, t.Name, time.Second)
		p.reports = append(p.reports, r)
		return r
	case p.tty:
		tr := progress.New(t.Name)
		p.trackers = append(p.trackers, tr)
		return tr
	}
	return nil
}

func (p *progressSinks) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, tr := range p.trackers {
		tr.Finish()
	}
	for _, r := range p.reports {
		r.Close()
	}
}

// runTasks admits each task and waits for every attempt to finish; the
// workers live in this process. SIGINT/SIGTERM cancels the running tasks.
func runTasks(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	var reg *prometheus.Registry
	if c.Bool("metrics") || a.cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		listen := a.cfg.Metrics.Listen
		if c.IsSet("metrics-listen") {
			listen = c.String("metrics-listen")
		}
		stop := serveMetrics(listen, reg)
		defer stop()
	}

	var sinks *progressSinks
	var progressFn func(*model.Task) transfer.Progress
	if c.Bool("wait") {
		sinks = &progressSinks{json: jsonOutput(c), tty: term.IsTerminal(int(os.Stderr.Fd()))}
		progressFn = sinks.forTask
	}

	var metricsReg prometheus.Registerer
	if reg != nil {
		metricsReg = reg
	}
	exec := a.newExecutor(ctx, metricsReg, progressFn)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "\nInterrupted. Cancelling running tasks...")
		for _, id := range exec.Running() {
			if _, err := exec.Cancel(context.Background(), id); err != nil {
				logging.Warn("Cancelling task %s: %v", id, err)
			}
		}
	}()

	ids := c.StringSlice("id")
	var admitErr error
	for _, id := range ids {
		t, err := exec.Run(ctx, id)
		if err != nil {
			logging.Error("Could not start task %s: %v", id, err)
			admitErr = err
			continue
		}
		if !jsonOutput(c) && !c.Bool("wait") {
			fmt.Printf("Started task %q (%s)\n", t.Name, t.ID)
		}
	}

	for _, id := range ids {
		if err := exec.Wait(ctx, id); err != nil {
			return err
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.Executor.ShutdownTimeout)
	defer stop()
	if err := exec.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Executor shutdown: %v", err)
	}
	if sinks != nil {
		sinks.finish()
	}

	final, err := finalStates(ctx, a.tasks, ids)
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		if err := printJSON(final); err != nil {
			return err
		}
	} else {
		printTasks(final)
	}

	if admitErr != nil {
		return admitErr
	}
	return runError(final)
}

func finalStates(ctx context.Context, tasks *task.Manager, ids []string) ([]*model.Task, error) {
	out := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		t, err := tasks.Get(ctx, id)
		if err != nil {
			if etlerr.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// runError reports the first unsuccessful attempt so the exit code
// reflects it.
func runError(tasks []*model.Task) error {
	for _, t := range tasks {
		switch t.Status {
		case model.StatusFailed:
			return etlerr.Newf(etlerr.ErrExecution, "task.run", "task %s failed: %s", t.Name, t.ErrorMessage)
		case model.StatusCancelled:
			return fmt.Errorf("task %s: %w", t.Name, context.Canceled)
		}
	}
	return nil
}

func cancelTask(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	// Another process may own the attempt; only the status is recorded here.
	exec := a.newExecutor(c.Context, nil, nil)
	defer exec.Shutdown(context.Background())

	t, err := exec.Cancel(c.Context, c.String("id"))
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		return printJSON(t)
	}
	fmt.Printf("Task %q is %s\n", t.Name, styleStatus(t.Status, 0))
	return nil
}

func taskHistory(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.tasks.History(c.Context, c.String("id"), c.Int("limit"))
	if err != nil {
		return err
	}
	if jsonOutput(c) {
		return printJSON(history)
	}
	printHistory(history)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/johndauphine/etl-orchestrator/internal/config"
	"github.com/johndauphine/etl-orchestrator/internal/connection"
	"github.com/johndauphine/etl-orchestrator/internal/executor"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/metrics"
	"github.com/johndauphine/etl-orchestrator/internal/notify"
	"github.com/johndauphine/etl-orchestrator/internal/store"
	"github.com/johndauphine/etl-orchestrator/internal/task"
	"github.com/johndauphine/etl-orchestrator/internal/transfer"
)

// app wires the components one command needs.
type app struct {
	cfg   *config.Config
	store *store.Store
	conns *connection.Registry
	tasks *task.Manager
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg = config.Default()
	}

	if dir := c.String("data-dir"); dir != "" {
		defaultDSN := filepath.Join(cfg.Store.DataDir, "etl.db")
		cfg.Store.DataDir = dir
		if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == defaultDSN {
			cfg.Store.DSN = filepath.Join(dir, "etl.db")
		}
	}

	// Explicit flags win over the config file
	if !c.IsSet("verbosity") && cfg.Logging.Level != "" {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			logging.SetLevel(level)
		}
	}
	if !c.IsSet("log-format") && cfg.Logging.Format == "json" {
		logging.SetFormat("json")
	}
	return cfg, nil
}

func openApp(c *cli.Context) (*app, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}
	conns := connection.New(st, connection.WithProbeTimeout(cfg.Connection.ProbeTimeout))
	return &app{
		cfg:   cfg,
		store: st,
		conns: conns,
		tasks: task.New(st, conns),
	}, nil
}

func (a *app) Close() {
	if err := a.conns.Close(); err != nil {
		logging.Warn("Closing connections: %v", err)
	}
	if err := a.store.Close(); err != nil {
		logging.Warn("Closing store: %v", err)
	}
}

func (a *app) transferOptions() transfer.Options {
	return transfer.Options{
		RetryDelay:   a.cfg.Transfer.BatchRetryDelay,
		PipelineSize: a.cfg.Transfer.KVPipelineSize,
		PreviewRows:  a.cfg.Transfer.StatementPreviewRows,
	}
}

// newExecutor builds and starts an executor. Metrics are registered on reg
// when it is non-nil.
func (a *app) newExecutor(ctx context.Context, reg prometheus.Registerer, progress executor.ProgressFunc) *executor.Executor {
	opts := []executor.Option{
		executor.WithTransferOptions(a.transferOptions()),
		executor.WithNotifier(notify.New(&a.cfg.Slack)),
		executor.WithProgress(progress),
	}
	if reg != nil {
		opts = append(opts, executor.WithMetrics(metrics.New(reg)))
	}
	e := executor.New(a.tasks, a.conns, a.cfg.Executor, opts...)
	e.Start(ctx)
	return e
}

// serveMetrics exposes reg on the configured listen address until the
// returned stop function is called.
func serveMetrics(listen string, reg *prometheus.Registry) (stop func()) {
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logging.Info("Serving metrics on %s/metrics", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Warn("Metrics server: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

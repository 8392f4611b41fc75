package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// MaterializeConfig is the resolved configuration of a key-value materialization.
type MaterializeConfig struct {
	SourceQuery  string
	KeyPrefix    string
	KeyField     string
	TTL          time.Duration
	WritesPerSec int
	PipelineSize int
}

// ResolveMaterializeConfig applies defaults to a task's config. A missing
// source_query is derived from "from <table>" in the task name.
func ResolveMaterializeConfig(task *model.Task, src driver.Querier, pipelineSize int) (MaterializeConfig, model.Config, error) {
	const op = "transfer.materialize"
	cfg := task.Config.Clone()
	out := MaterializeConfig{
		SourceQuery: cfg.String("source_query", ""),
		KeyPrefix:   cfg.String("key_prefix", ""),
		KeyField:    cfg.String("key_field", "id"),
	}
	if out.SourceQuery == "" {
		table, ok := TableFromName(task.Name)
		if !ok {
			return out, nil, etlerr.Validation(op, "source_query is required when the task name has no \"from <table>\"")
		}
		out.SourceQuery = "SELECT * FROM " + quoteRef(src, table)
		logging.Warn("Task %s has no source_query; using %q", task.Name, out.SourceQuery)
	}

	expire, err := cfg.Int("expire_seconds", 0)
	if err != nil {
		return out, nil, etlerr.New(etlerr.ErrValidation, op, err)
	}
	if expire < 0 {
		return out, nil, etlerr.Validation(op, "expire_seconds must be >= 0, got %d", expire)
	}
	out.TTL = time.Duration(expire) * time.Second

	if out.WritesPerSec, err = cfg.Int("max_writes_per_second", 0); err != nil {
		return out, nil, etlerr.New(etlerr.ErrValidation, op, err)
	}
	if out.WritesPerSec < 0 {
		return out, nil, etlerr.Validation(op, "max_writes_per_second must be >= 0, got %d", out.WritesPerSec)
	}
	if out.PipelineSize, err = cfg.Int("pipeline_size", pipelineSize); err != nil {
		return out, nil, etlerr.New(etlerr.ErrValidation, op, err)
	}
	if out.PipelineSize <= 0 {
		return out, nil, etlerr.Validation(op, "pipeline_size must be positive, got %d", out.PipelineSize)
	}

	cfg["source_query"] = out.SourceQuery
	cfg["key_field"] = out.KeyField
	return out, cfg, nil
}

// MaterializeStrategy writes every row of a query into a key-value store as a
// JSON document keyed by one of its fields.
type MaterializeStrategy struct{}

func (s *MaterializeStrategy) Execute(ctx context.Context, job *Job) (*Outcome, error) {
	const op = "transfer.materialize"
	opts := job.Options.withDefaults()

	src, ok := job.Source.(driver.Querier)
	if !ok {
		return nil, etlerr.Unsupported(op, "source connection cannot run queries")
	}
	if want := job.Task.Type.SourceKind(); src.Kind() != want {
		return nil, etlerr.Validation(op, "%s needs a %s source, got %s", job.Task.Type, want, src.Kind())
	}
	kv, ok := job.Target.(driver.KeyValue)
	if !ok {
		return nil, etlerr.Unsupported(op, "target connection is not a key-value store")
	}

	cfg, resolved, err := ResolveMaterializeConfig(job.Task, src, opts.PipelineSize)
	if err != nil {
		return nil, err
	}
	if err := job.saveConfig(ctx, resolved); err != nil {
		return nil, fmt.Errorf("saving resolved config: %w", err)
	}

	rs, err := src.Query(ctx, cfg.SourceQuery)
	if err != nil {
		return nil, etlerr.New(etlerr.ErrExecution, op, fmt.Errorf("running source query: %w", err))
	}
	result := model.Config{
		"key_prefix": cfg.KeyPrefix,
		"key_field":  cfg.KeyField,
	}
	if cfg.TTL > 0 {
		result["expire_seconds"] = int(cfg.TTL / time.Second)
	}
	if len(rs.Rows) == 0 {
		result["keys_written"] = 0
		return &Outcome{Result: result}, nil
	}

	progress := job.progress()
	progress.SetTotal(int64(len(rs.Rows)))

	chunk := cfg.PipelineSize
	var limiter *rate.Limiter
	if cfg.WritesPerSec > 0 {
		if chunk > cfg.WritesPerSec {
			chunk = cfg.WritesPerSec
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSec), chunk)
	}

	var written int64
	for start := 0; start < len(rs.Rows); start += chunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+chunk, len(rs.Rows))
		entries := make([]driver.Entry, 0, end-start)
		for i := start; i < end; i++ {
			e, err := entryFor(rs.Rows[i], cfg)
			if err != nil {
				return nil, etlerr.New(etlerr.ErrExecution, op, fmt.Errorf("row %d: %w", i, err))
			}
			entries = append(entries, e)
		}
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(entries)); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, err
			}
		}
		if err := kv.SetMany(ctx, entries, cfg.TTL); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, etlerr.New(etlerr.ErrExecution, op, fmt.Errorf("writing keys %d-%d: %w", start, end-1, err))
		}
		written += int64(len(entries))
		progress.Add(int64(len(entries)))
	}

	result["keys_written"] = written
	logging.Info("Materialized %d keys with prefix %q", written, cfg.KeyPrefix)
	return &Outcome{RowsProcessed: written, Result: result}, nil
}

func entryFor(row driver.Row, cfg MaterializeConfig) (driver.Entry, error) {
	keyVal, ok := row[cfg.KeyField]
	if !ok || keyVal == nil {
		return driver.Entry{}, fmt.Errorf("missing key field %q", cfg.KeyField)
	}
	var key string
	switch k := keyVal.(type) {
	case []byte:
		key = string(k)
	default:
		key = fmt.Sprint(k)
	}
	doc, err := json.Marshal(row)
	if err != nil {
		return driver.Entry{}, fmt.Errorf("encoding row: %w", err)
	}
	return driver.Entry{Key: cfg.KeyPrefix + key, Value: doc}, nil
}

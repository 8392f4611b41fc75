package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
	"github.com/johndauphine/etl-orchestrator/internal/schema"
)

const (
	defaultBatchSize  = 1000
	defaultSchema     = "public"
	defaultMaxRetries = 3
	defaultSource     = "users"
)

// CopyConfig is the resolved configuration of a row-to-columnar copy.
type CopyConfig struct {
	SourceTable      string
	TargetTable      string
	Schema           string
	BatchSize        int
	MaxRetries       int
	RetryDelay       time.Duration
	IncrementalField string
	IncrementalValue string
	Resume           bool
}

// ResolveCopyConfig applies defaults and name inference to a task's config.
// The returned map holds the resolved values to persist back to the task.
func ResolveCopyConfig(task *model.Task, retryDelay time.Duration) (CopyConfig, model.Config, error) {
	const op = "transfer.copy"
	cfg := task.Config.Clone()
	out := CopyConfig{
		SourceTable:      cfg.String("source_table", ""),
		TargetTable:      cfg.String("target_table", ""),
		Schema:           cfg.String("schema", defaultSchema),
		IncrementalField: cfg.String("incremental_field", ""),
		IncrementalValue: cfg.String("incremental_value", ""),
	}

	if out.SourceTable == "" {
		if t, ok := TableFromName(task.Name); ok {
			out.SourceTable = t
		} else {
			out.SourceTable = defaultSource
		}
		logging.Warn("Task %s has no source_table; using %q", task.Name, out.SourceTable)
	}
	if out.TargetTable == "" {
		if t, ok := TargetFromName(task.Name); ok {
			out.TargetTable = t
		} else {
			out.TargetTable = out.SourceTable
		}
	}

	var err error
	if out.BatchSize, err = cfg.Int("batch_size", defaultBatchSize); err != nil {
		return out, nil, etlerr.New(etlerr.ErrValidation, op, err)
	}
	if out.BatchSize <= 0 {
		return out, nil, etlerr.Validation(op, "batch_size must be positive, got %d", out.BatchSize)
	}
	if out.MaxRetries, err = cfg.Int("max_retries", defaultMaxRetries); err != nil {
		return out, nil, etlerr.New(etlerr.ErrValidation, op, err)
	}
	if out.MaxRetries <= 0 {
		return out, nil, etlerr.Validation(op, "max_retries must be positive, got %d", out.MaxRetries)
	}
	if out.RetryDelay, err = cfg.Duration("retry_delay", retryDelay); err != nil {
		return out, nil, etlerr.New(etlerr.ErrValidation, op, err)
	}
	if out.Resume, err = cfg.Bool("resume", true); err != nil {
		return out, nil, etlerr.New(etlerr.ErrValidation, op, err)
	}

	cfg["source_table"] = out.SourceTable
	cfg["target_table"] = out.TargetTable
	cfg["schema"] = out.Schema
	cfg["batch_size"] = out.BatchSize
	return out, cfg, nil
}

// BuildSourceQuery returns the unpaged source query and its arguments. The
// incremental filter is added only when both field and value are set.
func BuildSourceQuery(src driver.Querier, cfg CopyConfig) (string, []any) {
	q := "SELECT * FROM " + quoteRef(src, cfg.SourceTable)
	if cfg.IncrementalField != "" && cfg.IncrementalValue != "" {
		return q + " WHERE " + src.QuoteIdent(cfg.IncrementalField) + " >= ?", []any{cfg.IncrementalValue}
	}
	return q, nil
}

func quoteRef(q driver.Querier, ref string) string {
	parts := strings.Split(ref, ".")
	for i, p := range parts {
		parts[i] = q.QuoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// CopyStrategy pages rows out of a row store and appends them to a columnar table.
type CopyStrategy struct{}

func (s *CopyStrategy) Execute(ctx context.Context, job *Job) (*Outcome, error) {
	const op = "transfer.copy"
	opts := job.Options.withDefaults()

	src, ok := job.Source.(driver.RowSource)
	if !ok {
		return nil, etlerr.Unsupported(op, "source connection cannot be read as a row store")
	}
	dst, ok := job.Target.(driver.TableSink)
	if !ok {
		return nil, etlerr.Unsupported(op, "target connection cannot be written as a columnar table")
	}

	cfg, resolved, err := ResolveCopyConfig(job.Task, opts.RetryDelay)
	if err != nil {
		return nil, err
	}
	if err := job.saveConfig(ctx, resolved); err != nil {
		return nil, fmt.Errorf("saving resolved config: %w", err)
	}

	ns, table := schema.SplitQualified(cfg.TargetTable)
	if ns == "" {
		ns = cfg.Schema
	}
	result := model.Config{
		"source_table": cfg.SourceTable,
		"target_table": ns + "." + table,
	}

	cols, err := src.DescribeTable(ctx, cfg.SourceTable)
	if err != nil {
		return nil, etlerr.New(etlerr.ErrExecution, op, fmt.Errorf("describing %s: %w", cfg.SourceTable, err))
	}
	ensured, err := schema.Ensure(ctx, dst, ns, table, cols)
	if err != nil {
		return nil, etlerr.New(etlerr.ErrExecution, op, err)
	}
	if ensured.TableCreated {
		result["table_created"] = true
	}

	query, args := BuildSourceQuery(src, cfg)
	total, err := src.Count(ctx, query, args...)
	if err != nil {
		return nil, etlerr.New(etlerr.ErrExecution, op, fmt.Errorf("counting source rows: %w", err))
	}
	if total == 0 {
		logging.Info("No rows to copy from %s", cfg.SourceTable)
		result["batches"] = 0
		result["rows_processed"] = 0
		return &Outcome{Result: result}, nil
	}

	fingerprint := copyFingerprint(job.Task, query, args, ns+"."+table)
	var offset, priorDone int64
	if cfg.Resume && job.Checkpoints != nil {
		cp, err := job.Checkpoints.GetCheckpoint(ctx, job.Task.ID)
		if err != nil {
			return nil, fmt.Errorf("loading checkpoint: %w", err)
		}
		switch {
		case cp == nil:
		case cp.Fingerprint != fingerprint:
			logging.Warn("Ignoring checkpoint of %s at row %d: source or target changed since it was taken", job.Task.Name, cp.Offset)
		case cp.Offset > 0 && cp.Offset < total:
			offset, priorDone = cp.Offset, cp.RowsDone
			result["resumed_from"] = offset
			logging.Info("Resuming %s at row %d of %d", job.Task.Name, offset, total)
		}
	}

	var orderBy string
	if key, ok := driver.SingleKey(cols); ok {
		orderBy = src.QuoteIdent(key.Name)
	}
	names := driver.ColumnNames(cols)
	insertCols := names
	importIdx := indexOf(names, schema.ImportTimeColumn)
	if importIdx < 0 {
		insertCols = append(append([]string(nil), names...), schema.ImportTimeColumn)
		importIdx = len(insertCols) - 1
	}

	progress := job.progress()
	progress.SetTotal(total)
	progress.Add(offset)

	var rowsDone int64
	batches := 0
	for offset < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := src.PageQuery(query, orderBy, int64(cfg.BatchSize), offset)
		var fetched, written int64
		what := fmt.Sprintf("batch at offset %d", offset)
		err := withRetry(ctx, cfg.MaxRetries, cfg.RetryDelay, what, func() error {
			rs, err := src.Query(ctx, page, args...)
			if err != nil {
				return fmt.Errorf("fetching: %w", err)
			}
			fetched = int64(len(rs.Rows))
			if fetched == 0 {
				written = 0
				return nil
			}
			rows := transformRows(rs.Rows, names, len(insertCols), importIdx, time.Now().UTC())
			written, err = dst.InsertBatch(ctx, ns, table, insertCols, rows)
			if err != nil {
				return fmt.Errorf("inserting: %w", err)
			}
			return nil
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, etlerr.New(etlerr.ErrExecution, op, err)
		}
		if fetched == 0 {
			// source shrank since Count
			break
		}

		offset += fetched
		rowsDone += written
		batches++
		progress.Add(fetched)
		logging.Debug("Copied batch %d (%d rows, offset %d/%d)", batches, written, offset, total)

		if job.Checkpoints != nil {
			// The batch is committed; record it even if a cancel just landed.
			cp := &model.Checkpoint{
				TaskID:      job.Task.ID,
				Offset:      offset,
				RowsDone:    priorDone + rowsDone,
				RowsTotal:   total,
				Fingerprint: fingerprint,
			}
			if err := job.Checkpoints.SaveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
				logging.Warn("Saving checkpoint for %s at offset %d: %v", job.Task.Name, offset, err)
			}
		}
	}

	if job.Checkpoints != nil {
		if err := job.Checkpoints.ClearCheckpoint(ctx, job.Task.ID); err != nil {
			logging.Warn("Clearing checkpoint for %s: %v", job.Task.Name, err)
		}
	}

	result["batches"] = batches
	result["rows_processed"] = rowsDone
	logging.Info("Copied %d rows from %s to %s.%s in %d batches", rowsDone, cfg.SourceTable, ns, table, batches)
	return &Outcome{RowsProcessed: rowsDone, Result: result}, nil
}

// copyFingerprint ties a checkpoint to the connections, query and
// destination it was taken against.
func copyFingerprint(t *model.Task, query string, args []any, dest string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%v\x00%s", t.SourceConnectionID, t.TargetConnectionID, query, args, dest)
	return hex.EncodeToString(h.Sum(nil))
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if strings.EqualFold(n, name) {
			return i
		}
	}
	return -1
}

func transformRows(rows []driver.Row, names []string, width, importIdx int, batchTime time.Time) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		vals := make([]any, width)
		for j, n := range names {
			vals[j] = transformValue(r[n])
		}
		vals[importIdx] = batchTime
		out[i] = vals
	}
	return out
}

var datePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2}`)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// transformValue converts a source value to something the columnar target accepts.
func transformValue(v any) any {
	switch t := v.(type) {
	case json.RawMessage:
		return string(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	case string:
		if datePrefix.MatchString(t) {
			for _, layout := range dateLayouts {
				if ts, err := time.Parse(layout, t); err == nil {
					return ts
				}
			}
		}
		return t
	}
	return v
}

package task

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/model"
	"github.com/johndauphine/etl-orchestrator/internal/transfer"
)

var (
	stringFields      = []string{"source_table", "target_table", "schema", "incremental_field", "source_query", "key_prefix", "key_field", "sql"}
	positiveIntFields = []string{"batch_size", "max_retries", "pipeline_size"}
	nonNegativeFields = []string{"expire_seconds", "max_writes_per_second"}
)

// problems collects every validation failure so the caller sees them at once.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err(op string) error {
	if len(p) == 0 {
		return nil
	}
	return etlerr.Validation(op, "%s", strings.Join(p, "; "))
}

// validate checks a spec and builds the task it describes. Lookup failures
// other than a missing connection are returned as-is.
func (m *Manager) validate(ctx context.Context, op string, spec Spec) (*model.Task, error) {
	var errs problems
	t := &model.Task{
		Name:               trimmed(spec.Name),
		Description:        spec.Description,
		SourceConnectionID: trimmed(spec.SourceConnectionID),
		TargetConnectionID: trimmed(spec.TargetConnectionID),
		Config:             spec.Config.Clone(),
		Schedule:           trimmed(spec.Schedule),
	}
	if t.Name == "" {
		errs.addf("name is required")
	}
	typ, err := model.ParseTaskType(spec.Type)
	if err != nil {
		errs.addf("%v", err)
		return nil, errs.err(op)
	}
	t.Type = typ

	source, err := m.lookup(ctx, t.SourceConnectionID, "source", &errs)
	if err != nil {
		return nil, err
	}
	target, err := m.lookup(ctx, t.TargetConnectionID, "target", &errs)
	if err != nil {
		return nil, err
	}
	if typ.RequiresTarget() && t.TargetConnectionID == "" {
		errs.addf("%s requires a target connection", typ)
	}

	checkKinds(typ, source, target, &errs)
	checkConfigShape(t.Config, &errs)
	m.checkRequired(t, &errs)

	if err := errs.err(op); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *Manager) lookup(ctx context.Context, id, role string, errs *problems) (*model.Connection, error) {
	if id == "" {
		if role == "source" {
			errs.addf("source connection is required")
		}
		return nil, nil
	}
	c, err := m.conns.Get(ctx, id)
	if err != nil {
		if etlerr.IsNotFound(err) {
			errs.addf("%s connection %q does not exist", role, id)
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func checkKinds(typ model.TaskType, source, target *model.Connection, errs *problems) {
	if typ == model.CustomStatement {
		if source != nil && !source.Type.IsRelational() {
			errs.addf("custom statements cannot run on %s connection %q", source.Type, source.Name)
		}
		return
	}
	if source != nil && source.Type != typ.SourceKind() {
		errs.addf("%s needs a %s source, connection %q is %s", typ, typ.SourceKind(), source.Name, source.Type)
	}
	if target != nil && target.Type != typ.TargetKind() {
		errs.addf("%s needs a %s target, connection %q is %s", typ, typ.TargetKind(), target.Name, target.Type)
	}
}

func checkConfigShape(cfg model.Config, errs *problems) {
	for _, k := range stringFields {
		if v, ok := cfg[k]; ok && v != nil {
			if _, isString := v.(string); !isString {
				errs.addf("%s must be a string, got %T", k, v)
			}
		}
	}
	for _, k := range positiveIntFields {
		if !cfg.Has(k) {
			continue
		}
		n, err := cfg.Int(k, 0)
		if err != nil {
			errs.addf("%v", err)
		} else if n <= 0 {
			errs.addf("%s must be a positive integer, got %d", k, n)
		}
	}
	for _, k := range nonNegativeFields {
		if !cfg.Has(k) {
			continue
		}
		n, err := cfg.Int(k, 0)
		if err != nil {
			errs.addf("%v", err)
		} else if n < 0 {
			errs.addf("%s must be >= 0, got %d", k, n)
		}
	}
	if _, err := cfg.Bool("resume", true); err != nil {
		errs.addf("%v", err)
	}
	if _, err := cfg.Duration("retry_delay", time.Second); err != nil {
		errs.addf("%v", err)
	}
}

// checkRequired rejects fields that cannot be inferred and warns about the
// ones that will be.
func (m *Manager) checkRequired(t *model.Task, errs *problems) {
	switch t.Type {
	case model.RowToColumnarCopy:
		if !t.Config.Has("source_table") {
			if table, ok := transfer.TableFromName(t.Name); ok {
				m.log.Warn("Task %q has no source_table; %q will be inferred from its name", t.Name, table)
			} else {
				m.log.Warn("Task %q has no source_table and none in its name; it will copy from users", t.Name)
			}
		}
	case model.ColumnarToKVMaterialize, model.RowToKVMaterialize:
		if !t.Config.Has("source_query") {
			if table, ok := transfer.TableFromName(t.Name); ok {
				m.log.Warn("Task %q has no source_query; it will select everything from %s", t.Name, table)
			} else {
				errs.addf("source_query is required when the task name has no \"from <table>\"")
			}
		}
	case model.CustomStatement:
		if _, err := transfer.ResolveStatement(t); err != nil {
			errs.addf("sql is required")
		}
	}
}

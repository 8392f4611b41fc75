// Package schema translates row-store column metadata into columnar-store
// DDL and creates target tables that do not exist yet.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
)

// ImportTimeColumn is appended to every created table and stamped per batch.
const ImportTimeColumn = "import_time"

const importTimeDefinition = `"import_time" timestamp NOT NULL DEFAULT CURRENT_TIMESTAMP`

// ColumnDefinition renders one column of a CREATE TABLE statement.
func ColumnDefinition(col driver.Column) string {
	target := MapType(col.Type)
	null := "NOT NULL"
	if col.Nullable {
		null = "NULL"
	}
	def := fmt.Sprintf("%s %s %s", pq.QuoteIdentifier(col.Name), target, null)
	if col.Default != nil {
		def += " DEFAULT " + defaultLiteral(target, *col.Default)
	}
	return def
}

func defaultLiteral(target, raw string) string {
	if targetBase(target) == "boolean" {
		switch strings.ToLower(raw) {
		case "1", "b'1'", "true":
			return "TRUE"
		case "0", "b'0'", "false":
			return "FALSE"
		}
	}
	if IsNumeric(target) {
		return raw
	}
	if IsTemporal(target) && isCurrentTimestamp(raw) {
		return "CURRENT_TIMESTAMP"
	}
	return pq.QuoteLiteral(raw)
}

func isCurrentTimestamp(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	// SQL Server reports defaults wrapped in parentheses, e.g. "(getdate())".
	for len(s) > 1 && s[0] == '(' && s[len(s)-1] == ')' {
		s = s[1 : len(s)-1]
	}
	if i := strings.IndexByte(s, '('); i >= 0 && strings.HasSuffix(s, ")") {
		s = s[:i]
	}
	switch s {
	case "current_timestamp", "now", "localtimestamp", "current_date", "current_time", "getdate", "sysdatetime":
		return true
	}
	return false
}

// CreateTableDDL builds an idempotent CREATE TABLE for the columnar store.
// A PRIMARY KEY clause is emitted only for a single key column.
func CreateTableDDL(namespace, table string, cols []driver.Column) string {
	defs := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		defs = append(defs, ColumnDefinition(c))
	}
	if !driver.HasColumn(cols, ImportTimeColumn) {
		defs = append(defs, importTimeDefinition)
	}
	if key, ok := driver.SingleKey(cols); ok {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", pq.QuoteIdentifier(key.Name)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (\n    %s\n)",
		pq.QuoteIdentifier(namespace), pq.QuoteIdentifier(table), strings.Join(defs, ",\n    "))
}

// EnsureResult reports what Ensure had to create.
type EnsureResult struct {
	NamespaceCreated bool
	TableCreated     bool
}

// Ensure creates the namespace and table when absent. Existing tables are
// never altered.
func Ensure(ctx context.Context, sink driver.TableSink, namespace, table string, cols []driver.Column) (EnsureResult, error) {
	var res EnsureResult

	exists, err := sink.NamespaceExists(ctx, namespace)
	if err != nil {
		return res, fmt.Errorf("checking schema %s: %w", namespace, err)
	}
	if !exists {
		if err := sink.CreateNamespace(ctx, namespace); err != nil {
			return res, fmt.Errorf("creating schema %s: %w", namespace, err)
		}
		res.NamespaceCreated = true
		logging.Info("Created schema %s", namespace)
	}

	exists, err = sink.TableExists(ctx, namespace, table)
	if err != nil {
		return res, fmt.Errorf("checking table %s.%s: %w", namespace, table, err)
	}
	if exists {
		logging.Debug("Table %s.%s already exists", namespace, table)
		return res, nil
	}
	if err := sink.ExecDDL(ctx, CreateTableDDL(namespace, table, cols)); err != nil {
		return res, fmt.Errorf("creating table %s.%s: %w", namespace, table, err)
	}
	res.TableCreated = true
	logging.Info("Created table %s.%s (%d columns)", namespace, table, len(cols))
	return res, nil
}

// SplitQualified splits "ns.table" (or "db.ns.table") into the namespace
// segment and the table name. ns is empty when the reference is unqualified.
func SplitQualified(ref string) (ns, table string) {
	parts := strings.Split(ref, ".")
	table = parts[len(parts)-1]
	if len(parts) >= 2 {
		ns = parts[len(parts)-2]
	}
	return ns, table
}

package driver

import (
	"context"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// Dialect abstracts the SQL syntax differences between the database/sql
// backed flavours (MySQL, SQL Server). SQLHandle does the rest.
type Dialect interface {
	// DBType returns the flavour name (e.g., "mysql", "mssql").
	DBType() string

	// SQLDriverName returns the database/sql driver to open.
	SQLDriverName() string

	// QuoteIdentifier quotes an identifier (table, column name).
	// MSSQL: [identifier]
	// MySQL: `identifier`
	QuoteIdentifier(name string) string

	// QualifyTable quotes a possibly dotted table reference.
	QualifyTable(table string) string

	// BuildDSN builds a connection string for c.
	BuildDSN(c *model.Connection) (string, error)

	// PageQuery appends the paging clause to q.
	PageQuery(q, orderBy string, limit, offset int64) string

	// Describe returns the column metadata of table.
	Describe(ctx context.Context, db sqlx.QueryerContext, table string) ([]Column, error)

	// Normalize converts a scanned value into a plain Go value.
	Normalize(dbType string, v any) any
}

var intTypes = map[string]bool{
	"TINYINT": true, "SMALLINT": true, "MEDIUMINT": true, "INT": true,
	"INTEGER": true, "BIGINT": true, "YEAR": true,
}

var floatTypes = map[string]bool{
	"FLOAT": true, "DOUBLE": true, "REAL": true,
}

// NormalizeValue turns the []byte values database/sql hands back for text
// protocol results into strings and numbers, keeping binary columns as bytes.
func NormalizeValue(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	t := strings.TrimPrefix(strings.ToUpper(dbType), "UNSIGNED ")
	switch {
	case strings.Contains(t, "BLOB"), strings.Contains(t, "BINARY"), t == "IMAGE":
		return append([]byte(nil), b...)
	case t == "BIT":
		if len(b) == 1 {
			return b[0] == 1
		}
		return append([]byte(nil), b...)
	case intTypes[t]:
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(string(b), 10, 64); err == nil {
			return n
		}
	case floatTypes[t]:
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	return string(b)
}

// SplitTable splits "ns.table" into its parts; ns is empty when absent.
func SplitTable(ref string) (ns, table string) {
	if i := strings.LastIndex(ref, "."); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return "", ref
}

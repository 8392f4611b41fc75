package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	gomssql "github.com/microsoft/go-mssqldb"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// Dialect implements driver.Dialect for SQL Server.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mssql" }

func (d *Dialect) SQLDriverName() string { return "sqlserver" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *Dialect) QualifyTable(table string) string {
	ns, name := driver.SplitTable(table)
	if ns == "" {
		return d.QuoteIdentifier(name)
	}
	return d.QuoteIdentifier(ns) + "." + d.QuoteIdentifier(name)
}

func (d *Dialect) BuildDSN(c *model.Connection) (string, error) {
	port := c.Port
	if port == 0 {
		port = 1433
	}
	u := &url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
	}
	params := url.Values{}
	params.Set("database", c.Database)

	encrypt, err := c.Config.Bool("encrypt", true)
	if err != nil {
		return "", err
	}
	params.Set("encrypt", strconv.FormatBool(encrypt))

	trust, err := c.Config.Bool("trust_server_certificate", false)
	if err != nil {
		return "", err
	}
	if trust {
		params.Set("TrustServerCertificate", "true")
	}
	if packetSize, err := c.Config.Int("packet_size", 0); err != nil {
		return "", err
	} else if packetSize > 0 {
		params.Set("packet size", strconv.Itoa(packetSize))
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// PageQuery uses OFFSET/FETCH, which requires an ORDER BY clause.
func (d *Dialect) PageQuery(q, orderBy string, limit, offset int64) string {
	if orderBy == "" {
		orderBy = "(SELECT NULL)"
	}
	return fmt.Sprintf("%s ORDER BY %s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", q, orderBy, offset, limit)
}

type columnRow struct {
	Name      string         `db:"COLUMN_NAME"`
	DataType  string         `db:"DATA_TYPE"`
	MaxLength int            `db:"MAX_LENGTH"`
	Precision int            `db:"NUMERIC_PRECISION"`
	Scale     int            `db:"NUMERIC_SCALE"`
	Nullable  string         `db:"IS_NULLABLE"`
	Default   sql.NullString `db:"COLUMN_DEFAULT"`
}

func (d *Dialect) Describe(ctx context.Context, db sqlx.QueryerContext, table string) ([]driver.Column, error) {
	schema, name := driver.SplitTable(table)
	if schema == "" {
		schema = "dbo"
	}

	var rows []columnRow
	err := sqlx.SelectContext(ctx, db, &rows, `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			ISNULL(CHARACTER_MAXIMUM_LENGTH, 0) AS MAX_LENGTH,
			ISNULL(NUMERIC_PRECISION, 0) AS NUMERIC_PRECISION,
			ISNULL(NUMERIC_SCALE, 0) AS NUMERIC_SCALE,
			IS_NULLABLE,
			COLUMN_DEFAULT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @schema AND TABLE_NAME = @table
		ORDER BY ORDINAL_POSITION
	`, sql.Named("schema", schema), sql.Named("table", name))
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}

	var pk []string
	err = sqlx.SelectContext(ctx, db, &pk, `
		SELECT c.COLUMN_NAME
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE c
			ON c.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
			AND c.TABLE_SCHEMA = tc.TABLE_SCHEMA
			AND c.TABLE_NAME = tc.TABLE_NAME
		WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		  AND tc.TABLE_SCHEMA = @schema
		  AND tc.TABLE_NAME = @table
		ORDER BY c.ORDINAL_POSITION
	`, sql.Named("schema", schema), sql.Named("table", name))
	if err != nil {
		return nil, fmt.Errorf("querying primary key: %w", err)
	}
	isKey := make(map[string]bool, len(pk))
	for _, c := range pk {
		isKey[c] = true
	}

	cols := make([]driver.Column, 0, len(rows))
	for _, r := range rows {
		col := driver.Column{
			Name:     r.Name,
			Type:     nativeType(r),
			Nullable: strings.EqualFold(r.Nullable, "YES"),
			Key:      isKey[r.Name],
		}
		if r.Default.Valid {
			def := cleanDefault(r.Default.String)
			col.Default = &def
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// nativeType rebuilds the declared type text from INFORMATION_SCHEMA parts.
func nativeType(r columnRow) string {
	t := strings.ToLower(r.DataType)
	switch t {
	case "char", "varchar", "nchar", "nvarchar", "binary", "varbinary":
		if r.MaxLength == -1 {
			return t + "(max)"
		}
		if r.MaxLength > 0 {
			return fmt.Sprintf("%s(%d)", t, r.MaxLength)
		}
	case "decimal", "numeric":
		if r.Precision > 0 {
			return fmt.Sprintf("%s(%d,%d)", t, r.Precision, r.Scale)
		}
	}
	return t
}

// cleanDefault unwraps the parenthesized form SQL Server stores defaults in,
// e.g. ((0)), (N'abc'), (getdate()).
func cleanDefault(def string) string {
	s := strings.TrimSpace(def)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' && balanced(s[1:len(s)-1]) {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasPrefix(s, "N'") {
		s = s[1:]
	}
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	}
	switch strings.ToLower(s) {
	case "getdate()", "sysdatetime()", "current_timestamp", "getutcdate()", "sysutcdatetime()":
		return "CURRENT_TIMESTAMP"
	}
	return s
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

func (d *Dialect) Normalize(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.ToUpper(dbType) {
	case "UNIQUEIDENTIFIER":
		var u gomssql.UniqueIdentifier
		if err := u.Scan(b); err == nil {
			return u.String()
		}
	case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
		return string(b)
	}
	return driver.NormalizeValue(dbType, v)
}

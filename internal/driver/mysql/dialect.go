package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// Dialect implements driver.Dialect for MySQL.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mysql" }

func (d *Dialect) SQLDriverName() string { return "mysql" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Dialect) QualifyTable(table string) string {
	ns, name := driver.SplitTable(table)
	if ns == "" {
		return d.QuoteIdentifier(name)
	}
	return d.QuoteIdentifier(ns) + "." + d.QuoteIdentifier(name)
}

func (d *Dialect) BuildDSN(c *model.Connection) (string, error) {
	cfg := gomysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	port := c.Port
	if port == 0 {
		port = 3306
	}
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	timeout, err := c.Config.Duration("connect_timeout", 10*time.Second)
	if err != nil {
		return "", err
	}
	cfg.Timeout = timeout

	if charset := c.Config.String("charset", ""); charset != "" {
		cfg.Params = map[string]string{"charset": charset}
	}
	return cfg.FormatDSN(), nil
}

func (d *Dialect) PageQuery(q, orderBy string, limit, offset int64) string {
	var sb strings.Builder
	sb.WriteString(q)
	if orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(orderBy)
	}
	fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", limit, offset)
	return sb.String()
}

type describeRow struct {
	Field   string         `db:"Field"`
	Type    string         `db:"Type"`
	Null    string         `db:"Null"`
	Key     string         `db:"Key"`
	Default sql.NullString `db:"Default"`
	Extra   string         `db:"Extra"`
}

// Describe runs DESCRIBE, which reports the full native type text
// including length and unsigned modifiers.
func (d *Dialect) Describe(ctx context.Context, db sqlx.QueryerContext, table string) ([]driver.Column, error) {
	rows, err := db.QueryxContext(ctx, "DESCRIBE "+d.QualifyTable(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []driver.Column
	for rows.Next() {
		var r describeRow
		if err := rows.StructScan(&r); err != nil {
			return nil, err
		}
		col := driver.Column{
			Name:     r.Field,
			Type:     r.Type,
			Nullable: strings.EqualFold(r.Null, "YES"),
			Key:      r.Key == "PRI",
		}
		if r.Default.Valid {
			def := r.Default.String
			col.Default = &def
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func (d *Dialect) Normalize(dbType string, v any) any {
	return driver.NormalizeValue(dbType, v)
}

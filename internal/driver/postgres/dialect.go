package postgres

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// Dialect holds the PostgreSQL quoting and DSN rules.
type Dialect struct{}

func (d *Dialect) DBType() string { return "postgres" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (d *Dialect) QualifyTable(schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func (d *Dialect) BuildDSN(c *model.Connection) string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
		Path:   "/" + c.Database,
	}

	params := url.Values{}
	params.Set("sslmode", c.Config.String("sslmode", "prefer"))
	if app := c.Config.String("application_name", ""); app != "" {
		params.Set("application_name", app)
	}
	u.RawQuery = params.Encode()
	return u.String()
}

// InsertSQL builds a parameterized single-row INSERT.
func (d *Dialect) InsertSQL(schema, table string, cols []string) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QualifyTable(schema, table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

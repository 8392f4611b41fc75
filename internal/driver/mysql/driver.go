// Package mysql provides the MySQL row-store driver.
// It registers itself with the driver registry on import.
package mysql

import (
	"context"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for MySQL.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "mysql"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"mariadb"}
}

func (d *Driver) Kind() model.ConnType {
	return model.RowStore
}

// Defaults returns the default configuration values for MySQL.
func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{Port: 3306}
}

// Probe opens a single connection, pings it and closes it.
func (d *Driver) Probe(ctx context.Context, c *model.Connection) error {
	db, err := driver.OpenSQL(ctx, &Dialect{}, c, 1)
	if err != nil {
		return err
	}
	return db.Close()
}

// Open returns a pooled handle for c.
func (d *Driver) Open(ctx context.Context, c *model.Connection) (driver.Handle, error) {
	maxConns, err := c.Config.Int("max_conns", 4)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", c.Name, err)
	}
	db, err := driver.OpenSQL(ctx, &Dialect{}, c, maxConns)
	if err != nil {
		return nil, err
	}
	logging.Info("Connected to MySQL: %s:%d/%s", c.Host, c.Port, c.Database)
	return driver.NewSQLHandle(db, model.RowStore, &Dialect{}), nil
}

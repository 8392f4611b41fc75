// Package mssql provides the SQL Server row-store driver, selected with
// config driver "mssql". It registers itself with the driver registry on import.
package mssql

import (
	"context"
	"fmt"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Microsoft SQL Server.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "mssql"
}

// Aliases returns alternative names for the driver.
func (d *Driver) Aliases() []string {
	return []string{"sqlserver", "sql-server"}
}

func (d *Driver) Kind() model.ConnType {
	return model.RowStore
}

// Defaults returns the default configuration values for MSSQL.
func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{Port: 1433, Namespace: "dbo"}
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
	logging.Info("Connected to MSSQL: %s:%d/%s", c.Host, c.Port, c.Database)
	return driver.NewSQLHandle(db, model.RowStore, &Dialect{}), nil
}

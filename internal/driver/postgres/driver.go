// Package postgres provides the PostgreSQL columnar-store driver.
// It registers itself with the driver registry on import.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for PostgreSQL databases.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "postgres"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"postgresql", "pg"}
}

func (d *Driver) Kind() model.ConnType {
	return model.ColumnarStore
}

// Defaults returns the default configuration values for PostgreSQL.
func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{Port: 5432, Namespace: "public"}
}

// Probe opens a single session, pings it and closes it.
func (d *Driver) Probe(ctx context.Context, c *model.Connection) error {
	conn, err := pgx.Connect(ctx, (&Dialect{}).BuildDSN(c))
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close(ctx)
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Open returns a pooled handle for c.
func (d *Driver) Open(ctx context.Context, c *model.Connection) (driver.Handle, error) {
	maxConns, err := c.Config.Int("max_conns", 4)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", c.Name, err)
	}

	poolConfig, err := pgxpool.ParseConfig((&Dialect{}).BuildDSN(c))
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolConfig.MaxConns = int32(max(maxConns, 1))
	poolConfig.MinConns = int32(max(maxConns/4, 1))

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logging.Info("Connected to PostgreSQL: %s:%d/%s", c.Host, c.Port, c.Database)
	return NewHandle(pool), nil
}

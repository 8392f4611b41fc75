// Package redis provides the Redis key-value driver.
// It registers itself with the driver registry on import.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Redis.
type Driver struct{}

func (d *Driver) Name() string {
	return "redis"
}

func (d *Driver) Aliases() []string {
	return []string{"valkey"}
}

func (d *Driver) Kind() model.ConnType {
	return model.KVStore
}

func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{Port: 6379}
}

// Options converts a connection into client options. The logical database
// is taken from the connection's database field and defaults to 0.
func Options(c *model.Connection) (*goredis.Options, error) {
	db := 0
	if s := strings.TrimSpace(c.Database); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("redis database must be a non-negative number, got %q", c.Database)
		}
		db = n
	}
	port := c.Port
	if port == 0 {
		port = 6379
	}
	timeout, err := c.Config.Duration("dial_timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}
	poolSize, err := c.Config.Int("pool_size", 0)
	if err != nil {
		return nil, err
	}
	return &goredis.Options{
		Addr:        net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Username:    c.Username,
		Password:    c.Password,
		DB:          db,
		DialTimeout: timeout,
		PoolSize:    poolSize,
	}, nil
}

// Probe sends PING on a short-lived client.
func (d *Driver) Probe(ctx context.Context, c *model.Connection) error {
	opts, err := Options(c)
	if err != nil {
		return err
	}
	client := goredis.NewClient(opts)
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("PING: %w", err)
	}
	return nil
}

// Open creates a client. No network call is made until first use.
func (d *Driver) Open(ctx context.Context, c *model.Connection) (driver.Handle, error) {
	opts, err := Options(c)
	if err != nil {
		return nil, err
	}
	logging.Debug("Created Redis client for %s (db %d)", opts.Addr, opts.DB)
	return NewHandle(goredis.NewClient(opts)), nil
}

// Handle implements driver.KeyValue over a go-redis client.
type Handle struct {
	client *goredis.Client
}

// NewHandle wraps an existing client.
func NewHandle(client *goredis.Client) *Handle {
	return &Handle{client: client}
}

func (h *Handle) Kind() model.ConnType { return model.KVStore }

func (h *Handle) DriverName() string { return "redis" }

func (h *Handle) Close() error { return h.client.Close() }

func (h *Handle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *Handle) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return h.client.Set(ctx, key, value, ttl).Err()
}

func (h *Handle) SetMany(ctx context.Context, entries []driver.Entry, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := h.client.Pipeline()
	for _, e := range entries {
		pipe.Set(ctx, e.Key, e.Value, ttl)
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := cmd.Err(); err != nil {
			return fmt.Errorf("%s: %w", cmd.Name(), err)
		}
	}
	return nil
}

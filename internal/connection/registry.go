// Package connection manages connection definitions and the live driver
// handles opened against them.
package connection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/etl-orchestrator/internal/driver"
	"github.com/johndauphine/etl-orchestrator/internal/etlerr"
	"github.com/johndauphine/etl-orchestrator/internal/logging"
	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// Store is the persistence the registry needs.
type Store interface {
	ListConnections(ctx context.Context) ([]*model.Connection, error)
	GetConnection(ctx context.Context, id string) (*model.Connection, error)
	InsertConnection(ctx context.Context, c *model.Connection) error
	DeleteConnection(ctx context.Context, id string) (bool, error)
}

// Spec is the user-supplied definition of a connection.
type Spec struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Type        string       `json:"connection_type"`
	Host        string       `json:"host"`
	Port        int          `json:"port"`
	Username    string       `json:"username,omitempty"`
	Password    string       `json:"password,omitempty"`
	Database    string       `json:"database,omitempty"`
	Config      model.Config `json:"config,omitempty"`
}

// TestResult is the outcome of a connectivity probe.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Registry lists, creates and deletes connections and caches one live
// handle per connection for the life of the process.
type Registry struct {
	store        Store
	probeTimeout time.Duration
	log          *logging.Logger
	now          func() time.Time

	mu      sync.Mutex
	handles map[string]driver.Handle
}

// Option customizes a Registry.
type Option func(*Registry)

// WithProbeTimeout bounds each connectivity test.
func WithProbeTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.probeTimeout = d
		}
	}
}

// New creates a registry over store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:        store,
		probeTimeout: 10 * time.Second,
		log:          logging.Named("connection"),
		now:          time.Now,
		handles:      make(map[string]driver.Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// List returns every connection.
func (r *Registry) List(ctx context.Context) ([]*model.Connection, error) {
	return r.store.ListConnections(ctx)
}

// Get returns one connection, etlerr.ErrNotFound when absent, or
// etlerr.ErrTransient when the store kept failing.
func (r *Registry) Get(ctx context.Context, id string) (*model.Connection, error) {
	return r.store.GetConnection(ctx, id)
}

// toConnection validates the spec's type and builds an unsaved connection.
func (s Spec) toConnection() (*model.Connection, error) {
	t, err := model.ParseConnType(s.Type)
	if err != nil {
		return nil, err
	}
	cfg := s.Config.Clone()
	// A type alias naming a flavour (e.g. "mssql") selects that driver.
	if !cfg.Has("driver") {
		if alias := strings.ToLower(strings.TrimSpace(s.Type)); alias != string(t) && driver.IsRegistered(alias) {
			cfg["driver"] = driver.Canonicalize(alias)
		}
	}
	return &model.Connection{
		Name:        strings.TrimSpace(s.Name),
		Description: s.Description,
		Type:        t,
		Host:        strings.TrimSpace(s.Host),
		Port:        s.Port,
		Username:    s.Username,
		Password:    s.Password,
		Database:    s.Database,
		Config:      cfg,
	}, nil
}

// Create validates and persists a new connection. No connectivity check is made.
func (r *Registry) Create(ctx context.Context, spec Spec) (*model.Connection, error) {
	const op = "connection.create"
	if strings.TrimSpace(spec.Name) == "" {
		return nil, etlerr.Validation(op, "name is required")
	}
	c, err := spec.toConnection()
	if err != nil {
		return nil, etlerr.New(etlerr.ErrValidation, op, err)
	}

	if d, err := driver.Get(c.Driver()); err == nil {
		if d.Kind() != c.Type {
			return nil, etlerr.Validation(op, "driver %q serves %s connections, not %s", d.Name(), d.Kind(), c.Type)
		}
		if c.Port == 0 {
			c.Port = d.Defaults().Port
		}
	} else {
		r.log.Warn("Driver %q for %s is not available in this build; connection %q will fail at use", c.Driver(), c.Type, c.Name)
	}

	now := r.now().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	if err := r.store.InsertConnection(ctx, c); err != nil {
		return nil, err
	}
	r.log.Info("Created connection %s (%s, %s:%d)", c.Name, c.Type, c.Host, c.Port)
	return c, nil
}

// Delete removes a connection and evicts its cached handle. Deleting an
// absent id is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) error {
	found, err := r.store.DeleteConnection(ctx, id)
	if err != nil {
		return err
	}
	r.evict(id)
	if found {
		r.log.Info("Deleted connection %s", id)
	}
	return nil
}

// Test probes a connection spec. It never returns an error; failures are
// reported in the result.
func (r *Registry) Test(ctx context.Context, spec Spec) TestResult {
	c, err := spec.toConnection()
	if err != nil {
		return TestResult{Success: false, Message: err.Error()}
	}
	return r.probe(ctx, c)
}

// TestConnectionByID loads a stored connection and probes it.
func (r *Registry) TestConnectionByID(ctx context.Context, id string) (TestResult, error) {
	c, err := r.store.GetConnection(ctx, id)
	if err != nil {
		return TestResult{}, err
	}
	return r.probe(ctx, c), nil
}

func (r *Registry) probe(ctx context.Context, c *model.Connection) TestResult {
	d, err := driver.ForConnection(c)
	if err != nil {
		return TestResult{Success: false, Message: fmt.Sprintf("%s driver %s is not available in this build", c.Type, c.Driver())}
	}
	if c.Port == 0 {
		c.Port = d.Defaults().Port
	}

	pctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()
	if err := d.Probe(pctx, c); err != nil {
		r.log.Warn("Connection test failed for %s:%d (%s): %v", c.Host, c.Port, d.Name(), err)
		return TestResult{Success: false, Message: "connection failed: " + err.Error()}
	}
	return TestResult{Success: true, Message: "connection successful"}
}

// LiveHandle returns the cached handle for a connection, opening it on first
// use. The handle satisfies driver.Querier, driver.RowSource, driver.TableSink
// or driver.KeyValue depending on the driver.
func (r *Registry) LiveHandle(ctx context.Context, id string) (driver.Handle, error) {
	const op = "connection.live_handle"

	r.mu.Lock()
	h, ok := r.handles[id]
	r.mu.Unlock()
	if ok {
		return h, nil
	}

	c, err := r.store.GetConnection(ctx, id)
	if err != nil {
		return nil, err
	}
	d, err := driver.ForConnection(c)
	if err != nil {
		return nil, etlerr.Unsupported(op, "%s driver %s is not available in this build", c.Type, c.Driver())
	}
	if c.Port == 0 {
		c.Port = d.Defaults().Port
	}

	opened, err := d.Open(ctx, c)
	if err != nil {
		return nil, etlerr.New(etlerr.ErrConnectivity, op, fmt.Errorf("opening %s (%s): %w", c.Name, d.Name(), err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.handles[id]; ok {
		// lost the race to a concurrent opener
		opened.Close()
		return existing, nil
	}
	r.handles[id] = opened
	return opened, nil
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()
	if ok {
		if err := h.Close(); err != nil {
			r.log.Warn("Closing handle for connection %s: %v", id, err)
		}
	}
}

// Close closes every cached handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]driver.Handle)
	r.mu.Unlock()

	var errs []error
	for id, h := range handles {
		if err := h.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/johndauphine/etl-orchestrator/internal/model"
)

// registry holds all registered drivers.
var (
	registryMu sync.RWMutex
	drivers    = make(map[string]Driver)
)

// Register adds a driver to the global registry.
// This is typically called from a driver package's init() function.
//
// Example:
//
//	func init() {
//	    driver.Register(&Driver{})
//	}
//
// Panics if a driver with the same name is already registered.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	name := d.Name()
	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("driver %q already registered", name))
	}
	drivers[name] = d

	for _, alias := range d.Aliases() {
		if _, exists := drivers[alias]; exists {
			panic(fmt.Sprintf("driver alias %q already registered", alias))
		}
		drivers[alias] = d
	}
}

// Unregister removes a driver and its aliases. Used by tests that install fakes.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()

	d, exists := drivers[strings.ToLower(name)]
	if !exists {
		return
	}
	delete(drivers, d.Name())
	for _, alias := range d.Aliases() {
		delete(drivers, alias)
	}
}

// Get retrieves a driver by name or alias (case-insensitive).
func Get(nameOrAlias string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, exists := drivers[strings.ToLower(nameOrAlias)]
	if !exists {
		return nil, fmt.Errorf("unknown driver: %q (available: %v)", nameOrAlias, availableLocked())
	}
	return d, nil
}

// ForConnection resolves the driver configured for c and checks that it
// serves the connection's type.
func ForConnection(c *model.Connection) (Driver, error) {
	d, err := Get(c.Driver())
	if err != nil {
		return nil, err
	}
	if d.Kind() != c.Type {
		return nil, fmt.Errorf("driver %q serves %s connections, not %s", d.Name(), d.Kind(), c.Type)
	}
	return d, nil
}

// Canonicalize returns the primary driver name for a given name or alias.
// Returns the input unchanged if no driver matches.
func Canonicalize(nameOrAlias string) string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	d, exists := drivers[strings.ToLower(nameOrAlias)]
	if !exists {
		return nameOrAlias
	}
	return d.Name()
}

// Available returns a sorted list of registered driver names.
// This includes only primary names, not aliases.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return availableLocked()
}

func availableLocked() []string {
	seen := make(map[string]bool)
	for _, d := range drivers {
		seen[d.Name()] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered returns true if a driver with the given name or alias exists (case-insensitive).
func IsRegistered(nameOrAlias string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, exists := drivers[strings.ToLower(nameOrAlias)]
	return exists
}

package module

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/owinhost/internal/log"
)

//go:generate mockgen -destination=mocks/mock_loader.go -package=mocks github.com/mattjoyce/owinhost/internal/module Loader

// ErrModuleNotFound is returned when no module with the requested name exists.
var ErrModuleNotFound = errors.New("module not found")

// Loader loads modules by simple name.
type Loader interface {
	Load(name string) (*Table, error)
}

// Catalog holds the modules compiled into the binary and the tables of those
// already loaded.
type Catalog struct {
	mu      sync.Mutex
	modules map[string]Module
	loaded  map[string]*Table
}

// NewCatalog creates a catalog holding mods.
func NewCatalog(mods ...Module) (*Catalog, error) {
	c := &Catalog{
		modules: make(map[string]Module),
		loaded:  make(map[string]*Table),
	}
	for _, m := range mods {
		if err := c.Add(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Add makes a module available for loading.
func (c *Catalog) Add(m Module) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := m.Name()
	if name == "" {
		return fmt.Errorf("module name is required")
	}
	if _, exists := c.modules[name]; exists {
		return fmt.Errorf("module %q already registered", name)
	}
	c.modules[name] = m
	return nil
}

// Names returns the names of all known modules in sorted order.
func (c *Catalog) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load returns the type table of the named module, running its Register
// hook on first use. Unknown names yield an error wrapping ErrModuleNotFound;
// a failing Register hook is reported as is and not cached.
func (c *Catalog) Load(name string) (*Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.loaded[name]; ok {
		return t, nil
	}
	m, ok := c.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}

	logger := log.WithModule(name)
	t := NewTable(name)
	if err := m.Register(t); err != nil {
		logger.Warn("module registration failed", "error", err)
		return nil, fmt.Errorf("register module %s: %w", name, err)
	}
	c.loaded[name] = t
	logger.Info("loaded module", "types", len(t.types))
	return t, nil
}

// LoadFile inspects the descriptor at path and loads the module it names.
// Every failure is returned, including a missing descriptor.
func (c *Catalog) LoadFile(path string) (*Table, *Descriptor, error) {
	desc, err := Inspect(path)
	if err != nil {
		return nil, nil, err
	}
	t, err := c.Load(desc.Name)
	if err != nil {
		return nil, desc, err
	}
	return t, desc, nil
}

package loader

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/owinhost/internal/log"
	"github.com/mattjoyce/owinhost/internal/module"
)

// DefaultTypeName is the conventional startup type name.
const DefaultTypeName = "Startup"

// EntryPoint is a resolved startup type. MethodName is empty when the
// configuration named only the type.
type EntryPoint struct {
	Type       *module.Type
	MethodName string
}

// Resolver turns a startup name into an entry point. ok is false when no
// entry point was found; err is reserved for configuration failures.
type Resolver interface {
	Resolve(configuration string) (ep EntryPoint, ok bool, err error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(configuration string) (EntryPoint, bool, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(configuration string) (EntryPoint, bool, error) {
	return f(configuration)
}

// ConventionResolver resolves startup names against loadable modules.
type ConventionResolver struct {
	loader     module.Loader
	searchDirs []string
	next       Resolver
	logger     *slog.Logger
}

// ResolverOption configures a ConventionResolver.
type ResolverOption func(*ConventionResolver)

// WithSearchDirs sets the directories scanned for descriptors when the
// startup name is empty. Directories are searched in the given order.
func WithSearchDirs(dirs ...string) ResolverOption {
	return func(r *ConventionResolver) {
		r.searchDirs = append([]string(nil), dirs...)
	}
}

// WithNext sets the resolver consulted when convention finds nothing.
func WithNext(next Resolver) ResolverOption {
	return func(r *ConventionResolver) {
		r.next = next
	}
}

// NewConventionResolver creates a resolver over l. Without WithSearchDirs
// only the current directory is searched.
func NewConventionResolver(l module.Loader, opts ...ResolverOption) *ConventionResolver {
	r := &ConventionResolver{
		loader:     l,
		searchDirs: []string{"."},
		logger:     log.WithComponent("loader"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve implements Resolver.
func (r *ConventionResolver) Resolve(configuration string) (EntryPoint, bool, error) {
	ep, ok, err := r.resolve(configuration)
	if err != nil || ok {
		return ep, ok, err
	}
	if r.next == nil {
		return EntryPoint{}, false, nil
	}
	r.logger.Debug("no entry point by convention, delegating", "startup", configuration)
	return r.next.Resolve(configuration)
}

func (r *ConventionResolver) resolve(configuration string) (EntryPoint, bool, error) {
	if strings.TrimSpace(configuration) == "" {
		def, found, err := DefaultConfigurationString(r.searchDirs, r.logger)
		if err != nil {
			return EntryPoint{}, false, err
		}
		if !found {
			return EntryPoint{}, false, nil
		}
		r.logger.Debug("using default startup", "startup", def)
		configuration = def
	}

	var (
		ep    EntryPoint
		found bool
	)
	err := probe(r.loader, configuration, func(h hit) bool {
		// A method name has no dots, so only the two longest prefixes can
		// name the type.
		prefixes := DotByDot(h.name)
		if len(prefixes) > 2 {
			prefixes = prefixes[:2]
		}
		for _, typeName := range prefixes {
			t, ok := h.table.Lookup(typeName)
			if !ok {
				continue
			}
			ep = EntryPoint{Type: t}
			if typeName != h.name {
				ep.MethodName = h.name[len(typeName)+1:]
			}
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return EntryPoint{}, false, fmt.Errorf("resolve %q: %w", configuration, err)
	}
	return ep, found, nil
}

// DefaultConfigurationString finds the first descriptor in dirs declaring a
// "Startup" or "<Module>.Startup" type and returns "<Type>, <Module>".
// Directories are searched in order and files by name. Descriptors are only
// read, never executed; unreadable ones are skipped.
func DefaultConfigurationString(dirs []string, logger *slog.Logger) (string, bool, error) {
	if logger == nil {
		logger = log.WithComponent("loader")
	}
	for _, dir := range dirs {
		files, err := module.ScanDir(dir)
		if err != nil {
			return "", false, err
		}
		for _, file := range files {
			desc, err := module.Inspect(file)
			if err != nil {
				logger.Debug("skipping descriptor", "path", file, "error", err)
				continue
			}
			for _, typeName := range []string{DefaultTypeName, desc.Name + "." + DefaultTypeName} {
				if desc.HasType(typeName) {
					return typeName + ", " + desc.Name, true, nil
				}
			}
		}
	}
	return "", false, nil
}

package loader

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattjoyce/owinhost/internal/log"
	"github.com/mattjoyce/owinhost/internal/owin"
)

// ErrNilBuilder is returned by a loaded Startup called without a builder.
var ErrNilBuilder = errors.New("startup called with nil builder")

// Loader resolves startup names and binds them into Startup delegates.
type Loader struct {
	resolver Resolver
	binder   *Binder
	logger   *slog.Logger
}

// New creates a Loader. A nil binder uses NewBinder(nil).
func New(resolver Resolver, binder *Binder) *Loader {
	if binder == nil {
		binder = NewBinder(nil)
	}
	return &Loader{
		resolver: resolver,
		binder:   binder,
		logger:   log.WithComponent("loader"),
	}
}

// Load resolves startupName and binds its entry point. ok is false when no
// entry point exists or its method cannot be bound.
func (l *Loader) Load(startupName string) (Startup, bool, error) {
	ep, ok, err := l.resolver.Resolve(startupName)
	if err != nil || !ok {
		return nil, false, err
	}
	startup, ok, err := l.binder.Bind(ep.Type, ep.MethodName)
	if err != nil {
		return nil, false, fmt.Errorf("bind %s: %w", ep.Type.QualifiedName(), err)
	}
	if !ok {
		l.logger.Debug("entry point not bindable", "type", ep.Type.QualifiedName(), "method", ep.MethodName)
		return nil, false, nil
	}
	l.logger.Debug("startup resolved", "startup", startupName, "type", ep.Type.QualifiedName(), "method", ep.MethodName)

	appName := ep.Type.Name()
	return func(b *owin.Builder) error {
		if b == nil {
			return ErrNilBuilder
		}
		props := b.Properties()
		if name, _ := props[owin.PropAppName].(string); strings.TrimSpace(name) == "" {
			props[owin.PropAppName] = appName
		}
		return startup(b)
	}, true, nil
}

// Package registry keeps the applications configured by the caller and
// dispatches request envelopes to them by integer handle.
//
// The caller is expected to configure and invoke from a single logical
// thread. The registry still guards its table so that adapters serving
// concurrent transports can share it.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/owinhost/internal/envelope"
	"github.com/mattjoyce/owinhost/internal/loader"
	"github.com/mattjoyce/owinhost/internal/log"
	"github.com/mattjoyce/owinhost/internal/module"
	"github.com/mattjoyce/owinhost/internal/owin"
	"github.com/mattjoyce/owinhost/internal/task"
)

const (
	// DefaultMethodName is the handler method used when none is given.
	DefaultMethodName = "Invoke"

	defaultTypeSuffix = ".Startup"
)

// Handler runs one request envelope and reports completion through a Task.
type Handler func(ctx context.Context, env envelope.Env) *task.Task

// Modules is the module source the registry configures applications from.
type Modules interface {
	module.Loader
	LoadFile(path string) (*module.Table, *module.Descriptor, error)
}

// AppSpec describes an application bound directly to a handler method.
type AppSpec struct {
	// Name labels the application in logs and metrics.
	Name string
	// ModuleFile is a descriptor path or a module file name; its base name
	// without extension names the module.
	ModuleFile string
	TypeName   string
	MethodName string
	// Properties are handed to the handler instance when it implements
	// Initializer.
	Properties map[string]any
}

// Initializer is implemented by handler instances that take the properties
// given at configuration. Init runs once, before the application is added.
type Initializer interface {
	Init(props map[string]any) error
}

// Source records how an application was configured.
type Source string

const (
	SourceHandler Source = "handler"
	SourceStartup Source = "startup"
)

// AppInfo describes a configured application.
type AppInfo struct {
	ID           int
	Name         string
	Module       string
	TypeName     string
	Method       string
	Source       Source
	Fingerprint  string
	ConfiguredAt time.Time
}

// Outcome is the result category of one invocation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFaulted   Outcome = "faulted"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRejected  Outcome = "rejected"
)

// Invocation summarizes one call to Invoke. AppID is -1 when the envelope
// carried no usable id.
type Invocation struct {
	AppID      int
	AppName    string
	RequestID  string
	Method     string
	Path       string
	StatusCode int
	Outcome    Outcome
	Err        error
	Duration   time.Duration
}

// Recorder observes registry activity.
type Recorder interface {
	RecordConfigured(info AppInfo)
	RecordInvocation(inv Invocation)
}

type app struct {
	info    AppInfo
	handler Handler
}

// Registry maps dense integer ids to configured applications. Ids start at
// zero, follow configuration order and are never reused.
type Registry struct {
	mu   sync.RWMutex
	apps []app

	modules   Modules
	activator module.Activator
	startups  *loader.Loader
	recorders []Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithActivator sets how handler types are instantiated.
func WithActivator(a module.Activator) Option {
	return func(r *Registry) {
		r.activator = a
	}
}

// WithLoader sets the loader used by ConfigureStartup.
func WithLoader(l *loader.Loader) Option {
	return func(r *Registry) {
		r.startups = l
	}
}

// WithRecorder adds an observer of configuration and invocation events.
func WithRecorder(rec Recorder) Option {
	return func(r *Registry) {
		if rec != nil {
			r.recorders = append(r.recorders, rec)
		}
	}
}

// New creates an empty registry over modules.
func New(modules Modules, opts ...Option) *Registry {
	r := &Registry{
		modules:   modules,
		activator: module.DefaultActivator,
		logger:    log.WithComponent("registry"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.startups == nil {
		r.startups = loader.New(loader.NewConventionResolver(modules), loader.NewBinder(r.activator))
	}
	return r
}

// Configure loads spec's module, binds its handler method and returns the
// new application id. There is no fallback: every failure is returned.
func (r *Registry) Configure(spec AppSpec) (int, error) {
	if strings.TrimSpace(spec.ModuleFile) == "" {
		return -1, fmt.Errorf("%w: module file is required", ErrContractViolation)
	}

	tbl, desc, err := r.loadModule(spec.ModuleFile)
	if err != nil {
		return -1, fmt.Errorf("%w: %s: %w", ErrModuleLoad, spec.ModuleFile, err)
	}

	typeName := spec.TypeName
	if typeName == "" {
		typeName = moduleBaseName(spec.ModuleFile) + defaultTypeSuffix
	}
	ty, ok := tbl.LookupFold(typeName)
	if !ok {
		return -1, fmt.Errorf("%w: type %q in module %s", ErrNotFound, typeName, tbl.Module())
	}

	methodName := spec.MethodName
	if methodName == "" {
		methodName = DefaultMethodName
	}
	m, ok := ty.Method(methodName)
	if !ok {
		return -1, fmt.Errorf("%w: method %q on %s", ErrNotFound, methodName, ty.QualifiedName())
	}

	var instance any
	if !m.Static {
		if instance, err = r.activator(ty); err != nil {
			return -1, fmt.Errorf("activate %s: %w", ty.QualifiedName(), err)
		}
	}
	if err := r.initialize(ty, instance, spec.Properties); err != nil {
		return -1, err
	}
	fn, err := m.Bind(instance)
	if err != nil {
		return -1, err
	}
	handler, ok := adaptHandler(fn)
	if !ok {
		return -1, fmt.Errorf("%w: method %s.%s has unsupported signature %s",
			ErrNotFound, ty.Name(), methodName, fn.Type())
	}

	info := AppInfo{
		Name:     spec.Name,
		Module:   tbl.Module(),
		TypeName: ty.Name(),
		Method:   methodName,
		Source:   SourceHandler,
	}
	if info.Name == "" {
		info.Name = ty.Name()
	}
	if desc != nil {
		info.Fingerprint = desc.Fingerprint
	}
	return r.add(info, handler), nil
}

func (r *Registry) initialize(ty *module.Type, instance any, props map[string]any) error {
	iz, ok := instance.(Initializer)
	if !ok {
		if len(props) > 0 {
			r.logger.Warn("properties ignored; handler has no Init", "type", ty.QualifiedName(), "count", len(props))
		}
		return nil
	}
	cp := make(map[string]any, len(props))
	maps.Copy(cp, props)
	if err := iz.Init(cp); err != nil {
		return fmt.Errorf("init %s: %w", ty.QualifiedName(), err)
	}
	return nil
}

// ConfigureStartup resolves startupName by convention, builds its pipeline
// with props and registers the result.
func (r *Registry) ConfigureStartup(startupName string, props map[string]any) (int, error) {
	startup, ok, err := r.startups.Load(startupName)
	if err != nil {
		return -1, fmt.Errorf("%w: %w", ErrModuleLoad, err)
	}
	if !ok {
		return -1, fmt.Errorf("%w: no startup entry point for %q", ErrNotFound, startupName)
	}

	b := owin.NewBuilder(props)
	if err := startup(b); err != nil {
		return -1, err
	}
	pipeline, err := b.Build()
	if err != nil {
		return -1, err
	}

	name, _ := b.Properties()[owin.PropAppName].(string)
	info := AppInfo{
		Name:     name,
		TypeName: name,
		Method:   startupName,
		Source:   SourceStartup,
	}
	return r.add(info, func(ctx context.Context, env envelope.Env) *task.Task {
		return task.Run(ctx, func(ctx context.Context) error {
			return pipeline(ctx, env)
		})
	}), nil
}

// Len returns the number of configured applications.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.apps)
}

// Info describes the application with the given id.
func (r *Registry) Info(id int) (AppInfo, bool) {
	a, ok := r.lookup(id)
	return a.info, ok
}

// Apps lists every configured application in id order.
func (r *Registry) Apps() []AppInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AppInfo, len(r.apps))
	for i, a := range r.apps {
		out[i] = a.info
	}
	return out
}

func (r *Registry) add(info AppInfo, h Handler) int {
	r.mu.Lock()
	info.ID = len(r.apps)
	info.ConfiguredAt = r.now()
	r.apps = append(r.apps, app{info: info, handler: h})
	r.mu.Unlock()

	log.WithApp(info.ID).Info("application configured",
		"name", info.Name,
		"type", info.TypeName,
		"method", info.Method,
		"source", string(info.Source),
	)
	for _, rec := range r.recorders {
		rec.RecordConfigured(info)
	}
	return info.ID
}

func (r *Registry) lookup(id int) (app, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id < 0 || id >= len(r.apps) {
		return app{}, false
	}
	return r.apps[id], true
}

func (r *Registry) loadModule(file string) (*module.Table, *module.Descriptor, error) {
	r.logger.Debug("loading module", "file", file)
	if module.IsDescriptorFile(file) {
		return r.modules.LoadFile(file)
	}
	tbl, err := r.modules.Load(moduleBaseName(file))
	return tbl, nil, err
}

var moduleExtensions = []string{".yaml", ".yml", ".so", ".dll"}

// moduleBaseName strips the directory and a known module extension.
func moduleBaseName(file string) string {
	base := filepath.Base(strings.TrimSpace(file))
	ext := filepath.Ext(base)
	for _, known := range moduleExtensions {
		if strings.EqualFold(ext, known) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}

var (
	contextType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	envType        = reflect.TypeOf(envelope.Env(nil))
	propertiesType = reflect.TypeOf(map[string]any(nil))
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
	taskType       = reflect.TypeOf((*task.Task)(nil))
)

// adaptHandler wraps a bound method of the form
// func(context.Context, envelope.Env|map[string]any) error|*task.Task.
func adaptHandler(fn reflect.Value) (Handler, bool) {
	sig := fn.Type()
	if sig.NumIn() != 2 || sig.NumOut() != 1 || sig.IsVariadic() {
		return nil, false
	}
	if sig.In(0) != contextType || (sig.In(1) != envType && sig.In(1) != propertiesType) {
		return nil, false
	}

	call := func(ctx context.Context, env envelope.Env) reflect.Value {
		return fn.Call([]reflect.Value{reflect.ValueOf(&ctx).Elem(), reflect.ValueOf(env)})[0]
	}

	switch sig.Out(0) {
	case errorType:
		return func(ctx context.Context, env envelope.Env) *task.Task {
			return task.Run(ctx, func(ctx context.Context) error {
				if out := call(ctx, env); !out.IsNil() {
					return out.Interface().(error)
				}
				return nil
			})
		}, true
	case taskType:
		return func(ctx context.Context, env envelope.Env) *task.Task {
			var out *task.Task
			// Run recovers a panic raised before the application hands back
			// its task.
			started := task.Run(ctx, func(ctx context.Context) error {
				out, _ = call(ctx, env).Interface().(*task.Task)
				return nil
			})
			if started.Wait().Status != task.StatusSucceeded {
				return started
			}
			if out == nil {
				return task.FromError(fmt.Errorf("%w: application returned no task", ErrContractViolation))
			}
			return out
		}, true
	default:
		return nil, false
	}
}

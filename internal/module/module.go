package module

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Module is a compiled-in application module.
type Module interface {
	// Name is the simple module name, e.g. "Hello".
	Name() string
	// Register adds the module's types to t. It runs once, when the module
	// is first loaded, and may have side effects.
	Register(t *Table) error
}

// Activator creates the instance an instance method is bound to.
type Activator func(t *Type) (any, error)

// DefaultActivator uses the type's constructor when one is registered and
// otherwise allocates a zero value.
func DefaultActivator(t *Type) (any, error) {
	return t.New()
}

// Table holds the types registered by one loaded module.
type Table struct {
	module string
	types  map[string]*Type
	folded map[string]*Type
}

// NewTable creates an empty table for the named module.
func NewTable(module string) *Table {
	return &Table{
		module: module,
		types:  make(map[string]*Type),
		folded: make(map[string]*Type),
	}
}

// Module returns the name of the module that owns the table.
func (t *Table) Module() string {
	return t.module
}

// Type registers an instance type under its full dotted name. proto must be
// a pointer, typically a typed nil such as (*Startup)(nil); its method set
// provides the type's instance methods.
func (t *Table) Type(name string, proto any) *Type {
	rt := reflect.TypeOf(proto)
	if rt == nil || rt.Kind() != reflect.Pointer {
		panic(fmt.Sprintf("module %s: type %q must be registered with a pointer prototype", t.module, name))
	}
	return t.add(&Type{name: name, module: t.module, rtype: rt})
}

// Static registers a type that only exposes functions added with Func.
func (t *Table) Static(name string) *Type {
	return t.add(&Type{name: name, module: t.module})
}

func (t *Table) add(ty *Type) *Type {
	if _, exists := t.types[ty.name]; exists {
		panic(fmt.Sprintf("module %s: type %q already registered", t.module, ty.name))
	}
	t.types[ty.name] = ty
	t.folded[strings.ToLower(ty.name)] = ty
	return ty
}

// Lookup finds a type by exact name.
func (t *Table) Lookup(name string) (*Type, bool) {
	ty, ok := t.types[name]
	return ty, ok
}

// LookupFold finds a type by name ignoring case.
func (t *Table) LookupFold(name string) (*Type, bool) {
	if ty, ok := t.types[name]; ok {
		return ty, true
	}
	ty, ok := t.folded[strings.ToLower(name)]
	return ty, ok
}

// TypeNames returns the registered type names in sorted order.
func (t *Table) TypeNames() []string {
	names := make([]string, 0, len(t.types))
	for name := range t.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Type is a named type exported by a module.
type Type struct {
	name    string
	module  string
	rtype   reflect.Type
	ctor    func() any
	statics map[string]reflect.Value
}

// Name returns the full dotted type name.
func (ty *Type) Name() string { return ty.name }

// Module returns the owning module's name.
func (ty *Type) Module() string { return ty.module }

// QualifiedName returns "Type, Module".
func (ty *Type) QualifiedName() string { return ty.name + ", " + ty.module }

// WithConstructor sets the function used to create instances.
func (ty *Type) WithConstructor(fn func() any) *Type {
	ty.ctor = fn
	return ty
}

// Func adds a static method. fn must be a function.
func (ty *Type) Func(method string, fn any) *Type {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		panic(fmt.Sprintf("type %s: static method %q is not a function", ty.name, method))
	}
	if ty.statics == nil {
		ty.statics = make(map[string]reflect.Value)
	}
	ty.statics[method] = v
	return ty
}

// New creates an instance of the type.
func (ty *Type) New() (any, error) {
	if ty.ctor != nil {
		v := ty.ctor()
		if v == nil {
			return nil, fmt.Errorf("constructor for %s returned nil", ty.name)
		}
		return v, nil
	}
	if ty.rtype == nil {
		return nil, fmt.Errorf("type %s has no instance form", ty.name)
	}
	return reflect.New(ty.rtype.Elem()).Interface(), nil
}

// Method finds a method by exact name. Static functions shadow instance
// methods of the same name.
func (ty *Type) Method(name string) (Method, bool) {
	if fn, ok := ty.statics[name]; ok {
		return Method{Name: name, Static: true, fn: fn, sig: fn.Type()}, true
	}
	if ty.rtype == nil {
		return Method{}, false
	}
	if _, ok := ty.rtype.MethodByName(name); !ok {
		return Method{}, false
	}
	sig := reflect.Zero(ty.rtype).MethodByName(name).Type()
	return Method{Name: name, sig: sig}, true
}

// Method is a resolved method of a Type.
type Method struct {
	Name   string
	Static bool
	fn     reflect.Value
	sig    reflect.Type
}

// Signature returns the method's function type without the receiver.
func (m Method) Signature() reflect.Type {
	return m.sig
}

// Bind returns a callable value for the method. instance is ignored for
// static methods.
func (m Method) Bind(instance any) (reflect.Value, error) {
	if m.Static {
		return m.fn, nil
	}
	if instance == nil {
		return reflect.Value{}, fmt.Errorf("method %s requires an instance", m.Name)
	}
	fn := reflect.ValueOf(instance).MethodByName(m.Name)
	if !fn.IsValid() {
		return reflect.Value{}, fmt.Errorf("instance of %T has no method %s", instance, m.Name)
	}
	return fn, nil
}

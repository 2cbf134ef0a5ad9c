package loader

import (
	"context"
	"fmt"
	"reflect"

	"github.com/mattjoyce/owinhost/internal/envelope"
	"github.com/mattjoyce/owinhost/internal/module"
	"github.com/mattjoyce/owinhost/internal/owin"
)

// DefaultMethodName is used when the startup name does not name a method.
const DefaultMethodName = "Configuration"

// Startup configures an application builder.
type Startup func(b *owin.Builder) error

// Shape classifies the signatures accepted for entry points.
type Shape int

const (
	ShapeUnsupported Shape = iota
	// ShapeBuilder is func(*owin.Builder) or func(*owin.Builder) error.
	ShapeBuilder
	// ShapeProperties is func(map[string]any) with any results.
	ShapeProperties
	// ShapeNoArgs is func() with any results.
	ShapeNoArgs
)

func (s Shape) String() string {
	switch s {
	case ShapeBuilder:
		return "builder"
	case ShapeProperties:
		return "properties"
	case ShapeNoArgs:
		return "no-args"
	default:
		return "unsupported"
	}
}

var (
	builderType    = reflect.TypeOf((*owin.Builder)(nil))
	propertiesType = reflect.TypeOf(map[string]any(nil))
	errorType      = reflect.TypeOf((*error)(nil)).Elem()
)

// Classify returns the entry-point shape of sig. Shapes are checked in
// declaration order.
func Classify(sig reflect.Type) Shape {
	if sig == nil || sig.Kind() != reflect.Func || sig.IsVariadic() {
		return ShapeUnsupported
	}
	switch {
	case sig.NumIn() == 1 && sig.In(0) == builderType &&
		(sig.NumOut() == 0 || sig.NumOut() == 1 && sig.Out(0) == errorType):
		return ShapeBuilder
	case sig.NumIn() == 1 && sig.In(0) == propertiesType:
		return ShapeProperties
	case sig.NumIn() == 0:
		return ShapeNoArgs
	default:
		return ShapeUnsupported
	}
}

// Binder turns a resolved type and method into a Startup.
type Binder struct {
	activator module.Activator
}

// NewBinder creates a binder. A nil activator uses module.DefaultActivator.
func NewBinder(activator module.Activator) *Binder {
	if activator == nil {
		activator = module.DefaultActivator
	}
	return &Binder{activator: activator}
}

// Bind locates methodName on t and adapts it to a Startup. ok is false when
// the method is missing or has an unsupported shape. Instance methods are
// bound to a single instance created here by the activator.
func (b *Binder) Bind(t *module.Type, methodName string) (Startup, bool, error) {
	if methodName == "" {
		methodName = DefaultMethodName
	}
	m, ok := t.Method(methodName)
	if !ok {
		return nil, false, nil
	}
	shape := Classify(m.Signature())
	if shape == ShapeUnsupported {
		return nil, false, nil
	}

	var instance any
	if !m.Static {
		var err error
		if instance, err = b.activator(t); err != nil {
			return nil, false, fmt.Errorf("activate %s: %w", t.Name(), err)
		}
	}
	fn, err := m.Bind(instance)
	if err != nil {
		return nil, false, err
	}

	if shape == ShapeBuilder {
		return func(builder *owin.Builder) error {
			return trailingError(fn.Call([]reflect.Value{reflect.ValueOf(builder)}))
		}, true, nil
	}

	return func(builder *owin.Builder) error {
		builder.Use(func(next owin.AppFunc) (owin.AppFunc, error) {
			var in []reflect.Value
			if shape == ShapeProperties {
				in = []reflect.Value{reflect.ValueOf(builder.Properties())}
			}
			return appFromResults(fn.Call(in), next)
		})
		return nil
	}, true, nil
}

func trailingError(out []reflect.Value) error {
	if len(out) == 0 {
		return nil
	}
	last := out[len(out)-1]
	if last.Type() != errorType || last.IsNil() {
		return nil
	}
	return last.Interface().(error)
}

// appFromResults turns an entry point's results into the application. An
// absent or nil application passes requests through to next.
func appFromResults(out []reflect.Value, next owin.AppFunc) (owin.AppFunc, error) {
	if err := trailingError(out); err != nil {
		return nil, err
	}
	if len(out) > 0 && out[len(out)-1].Type() == errorType {
		out = out[:len(out)-1]
	}
	if len(out) == 0 || isNil(out[0]) {
		return next, nil
	}
	switch app := out[0].Interface().(type) {
	case owin.AppFunc:
		return app, nil
	case func(context.Context, envelope.Env) error:
		return app, nil
	default:
		return nil, fmt.Errorf("entry point returned unsupported application %T", app)
	}
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}

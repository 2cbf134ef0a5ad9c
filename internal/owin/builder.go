// Package owin provides the application builder that startup entry points
// configure, and typed request/response views over an envelope.
package owin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mattjoyce/owinhost/internal/envelope"
)

// PropAppName is the builder property holding the application's name.
const PropAppName = "host.AppName"

// AppFunc processes one request envelope.
type AppFunc func(ctx context.Context, env envelope.Env) error

// Middleware wraps the downstream application. It runs once, when the
// pipeline is built.
type Middleware func(next AppFunc) (AppFunc, error)

// Builder collects middleware and properties for one application.
type Builder struct {
	props      map[string]any
	middleware []Middleware
}

// NewBuilder creates a builder whose property bag starts as a copy of props.
func NewBuilder(props map[string]any) *Builder {
	b := &Builder{props: make(map[string]any, len(props))}
	for k, v := range props {
		b.props[k] = v
	}
	return b
}

// Properties returns the builder's mutable property bag.
func (b *Builder) Properties() map[string]any {
	return b.props
}

// Use appends mw to the pipeline.
func (b *Builder) Use(mw Middleware) *Builder {
	b.middleware = append(b.middleware, mw)
	return b
}

// Run terminates the pipeline with app.
func (b *Builder) Run(app AppFunc) *Builder {
	return b.Use(func(AppFunc) (AppFunc, error) {
		return app, nil
	})
}

// UseHandler terminates the pipeline with a handler working on typed views.
func (b *Builder) UseHandler(h func(req *Request, res *Response) error) *Builder {
	return b.Run(func(ctx context.Context, env envelope.Env) error {
		return h(NewRequest(ctx, env), NewResponse(env))
	})
}

// Build composes the pipeline. Middleware added first sees requests first;
// a request that falls off the end gets a 404.
func (b *Builder) Build() (AppFunc, error) {
	app := AppFunc(notFound)
	for i := len(b.middleware) - 1; i >= 0; i-- {
		next, err := b.middleware[i](app)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("middleware %d returned no application", i)
		}
		app = next
	}
	return app, nil
}

func notFound(_ context.Context, env envelope.Env) error {
	env[envelope.ResponseStatusCode] = http.StatusNotFound
	return nil
}

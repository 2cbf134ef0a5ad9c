// Package hello provides the sample applications.
//
// Module "Hello" is loaded by convention, e.g. with the startup name
// "Hello.Startup". Module "Owin.Samples" exposes a raw handler for direct
// configuration from the module file "Owin.Samples.dll".
package hello

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mattjoyce/owinhost/internal/envelope"
	"github.com/mattjoyce/owinhost/internal/module"
	"github.com/mattjoyce/owinhost/internal/owin"
)

// Module registers the convention-loaded hello applications.
type Module struct{}

func (Module) Name() string { return "Hello" }

func (Module) Register(t *module.Table) error {
	t.Type("Hello.Startup", (*Startup)(nil))
	t.Static("Hello.Ping").Func("Configuration", Ping)
	t.Static("Hello.Routes").Func("Configuration", Routes)
	return nil
}

// Startup greets every request.
type Startup struct{}

// Configuration terminates the pipeline with the greeting.
func (*Startup) Configuration(b *owin.Builder) {
	b.UseHandler(func(_ *owin.Request, res *owin.Response) error {
		res.SetStatusCode(http.StatusOK)
		res.SetContentType("text/plain")
		_, err := fmt.Fprintf(res, "Hello, from Go. Time on server is %s", time.Now().Format(time.RFC1123))
		return err
	})
}

// Ping answers "pong" and ignores properties.
func Ping() owin.AppFunc {
	return func(_ context.Context, env envelope.Env) error {
		env[envelope.ResponseStatusCode] = http.StatusOK
		_, err := env.ResponseWriter().Write([]byte("pong"))
		return err
	}
}

// Routes serves GET /name with the host.AppName property and answers 404
// for everything else.
func Routes(props map[string]any) (owin.AppFunc, error) {
	name, _ := props[owin.PropAppName].(string)
	if name == "" {
		return nil, fmt.Errorf("%s property is required", owin.PropAppName)
	}
	return func(ctx context.Context, env envelope.Env) error {
		req, res := owin.NewRequest(ctx, env), owin.NewResponse(env)
		if req.Method() != http.MethodGet || req.Path() != "/name" {
			res.SetStatusCode(http.StatusNotFound)
			return nil
		}
		res.SetContentType("text/plain")
		_, err := res.WriteString(name)
		return err
	}, nil
}

// SamplesModule registers the raw handler sample.
type SamplesModule struct{}

func (SamplesModule) Name() string { return "Owin.Samples" }

func (SamplesModule) Register(t *module.Table) error {
	t.Type("Owin.Samples.Startup", (*Handler)(nil))
	return nil
}

// Handler writes an HTML greeting straight into the envelope.
type Handler struct {
	greeting string
}

// Init takes the optional "greeting" property.
func (h *Handler) Init(props map[string]any) error {
	h.greeting = "Hello"
	if v, ok := props["greeting"]; ok {
		s, isString := v.(string)
		if !isString || s == "" {
			return fmt.Errorf("greeting must be a non-empty string, got %v", v)
		}
		h.greeting = s
	}
	return nil
}

// Invoke handles one request.
func (h *Handler) Invoke(_ context.Context, env envelope.Env) error {
	greeting := h.greeting
	if greeting == "" {
		greeting = "Hello"
	}
	env[envelope.ResponseStatusCode] = http.StatusOK
	env.ResponseHeaderMap().Add("Content-Type", "text/html")
	_, err := fmt.Fprintf(env.ResponseWriter(), "%s, from Go. Time on server is %s", greeting, time.Now().Format(time.RFC1123))
	return err
}

package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/owinhost/internal/envelope"
	"github.com/mattjoyce/owinhost/internal/module"
	"github.com/mattjoyce/owinhost/internal/owin"
	"github.com/mattjoyce/owinhost/internal/task"
)

var errBoom = errors.New("boom")

type echo struct{}

func (echo) Invoke(_ context.Context, env envelope.Env) error {
	body, err := io.ReadAll(env[envelope.RequestBody].(io.Reader))
	if err != nil {
		return err
	}
	h := env.ResponseHeaderMap()
	h.Set("Content-Type", "text/plain")
	h.Add("X-Multi", "first")
	h.Add("X-Multi", "second")
	h["X-Empty"] = nil
	env[envelope.ResponseStatusCode] = http.StatusAccepted
	env["app.scratch"] = "dropped"
	env[envelope.HostPrefix+"callback"] = "dropped"
	_, err = env.ResponseWriter().Write(body)
	return err
}

type faulty struct{}

func (faulty) Invoke(context.Context, envelope.Env) error { return errBoom }

type cancelling struct{}

func (cancelling) Invoke(ctx context.Context, _ map[string]any) *task.Task {
	return task.Canceled()
}

type async struct{}

func (async) Invoke(ctx context.Context, env map[string]any) *task.Task {
	return task.Go(ctx, func(context.Context) error {
		env[envelope.ResponseStatusCode] = http.StatusNoContent
		return nil
	})
}

type panicky struct{}

func (panicky) Invoke(context.Context, envelope.Env) error { panic("kaboom") }

type nilTask struct{}

func (nilTask) Invoke(context.Context, envelope.Env) *task.Task { return nil }

type wrongShape struct{}

func (wrongShape) Invoke(string) error { return nil }

type pipeline struct{}

func (pipeline) Configuration(b *owin.Builder) {
	b.UseHandler(func(_ *owin.Request, res *owin.Response) error {
		res.SetContentType("text/html")
		_, err := res.WriteString("<h1>pipeline</h1>")
		return err
	})
}

type greeter struct {
	greeting string
}

func (g *greeter) Init(props map[string]any) error {
	g.greeting, _ = props["greeting"].(string)
	if g.greeting == "" {
		return errors.New("greeting property is required")
	}
	props["greeting"] = "mutated"
	return nil
}

func (g *greeter) Invoke(_ context.Context, env envelope.Env) error {
	_, err := env.ResponseWriter().Write([]byte(g.greeting))
	return err
}

type svcModule struct{}

func (svcModule) Name() string { return "Svc" }

func (svcModule) Register(t *module.Table) error {
	t.Type("Svc.Startup", (*echo)(nil))
	t.Type("Svc.Faulty", (*faulty)(nil))
	t.Type("Svc.Cancelling", (*cancelling)(nil))
	t.Type("Svc.Async", (*async)(nil))
	t.Type("Svc.Panicky", (*panicky)(nil))
	t.Type("Svc.NilTask", (*nilTask)(nil))
	t.Type("Svc.WrongShape", (*wrongShape)(nil))
	t.Type("Svc.Pipeline", (*pipeline)(nil))
	t.Type("Svc.Greeter", (*greeter)(nil))
	t.Static("Svc.Static").Func("Invoke", func(_ context.Context, env envelope.Env) error {
		env[envelope.ResponseStatusCode] = http.StatusTeapot
		return nil
	})
	return nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	configured  []AppInfo
	invocations []Invocation
}

func (f *fakeRecorder) RecordConfigured(info AppInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, info)
}

func (f *fakeRecorder) RecordInvocation(inv Invocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invocations = append(f.invocations, inv)
}

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	cat, err := module.NewCatalog(svcModule{})
	require.NoError(t, err)
	return New(cat, opts...)
}

func configure(t *testing.T, r *Registry, typeName string) int {
	t.Helper()
	id, err := r.Configure(AppSpec{ModuleFile: "Svc.dll", TypeName: typeName})
	require.NoError(t, err)
	return id
}

func request(id any, body any) envelope.Env {
	return envelope.Env{
		envelope.AppIDKey:      id,
		envelope.RequestMethod: "POST",
		envelope.RequestPath:   "/echo",
		envelope.RequestID:     "req-1",
		envelope.RequestBody:   body,
	}
}

func TestConfigureDefaults(t *testing.T) {
	r := newRegistry(t)

	id, err := r.Configure(AppSpec{ModuleFile: filepath.Join("bin", "Svc.DLL")})
	require.NoError(t, err)
	assert.Equal(t, 0, id)

	info, ok := r.Info(id)
	require.True(t, ok)
	assert.Equal(t, "Svc.Startup", info.TypeName)
	assert.Equal(t, "Invoke", info.Method)
	assert.Equal(t, "Svc", info.Module)
	assert.Equal(t, SourceHandler, info.Source)
}

func TestConfigureAssignsDenseIDs(t *testing.T) {
	r := newRegistry(t)
	for want := 0; want < 3; want++ {
		assert.Equal(t, want, configure(t, r, "Svc.Startup"))
	}
	assert.Equal(t, 3, r.Len())
	assert.Len(t, r.Apps(), 3)
}

func TestConfigureTypeLookupIgnoresCase(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "svc.faulty")
	info, _ := r.Info(id)
	assert.Equal(t, "Svc.Faulty", info.TypeName)
}

func TestConfigureFromDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Svc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: Svc\ntypes: [Svc.Startup]\n"), 0o644))

	r := newRegistry(t)
	id, err := r.Configure(AppSpec{ModuleFile: path})
	require.NoError(t, err)
	info, _ := r.Info(id)
	assert.Len(t, info.Fingerprint, 64)
}

func TestConfigurePassesPropertiesToInit(t *testing.T) {
	r := newRegistry(t)
	props := map[string]any{"greeting": "hi there"}

	id, err := r.Configure(AppSpec{ModuleFile: "Svc.dll", TypeName: "Svc.Greeter", Properties: props})
	require.NoError(t, err)
	assert.Equal(t, "hi there", props["greeting"], "Init must get a copy")

	out, err := r.Invoke(context.Background(), request(id, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte("hi there"), out[envelope.ResponseBody])
}

func TestConfigureInitFailure(t *testing.T) {
	r := newRegistry(t)

	id, err := r.Configure(AppSpec{ModuleFile: "Svc.dll", TypeName: "Svc.Greeter"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "greeting property is required")
	assert.Equal(t, -1, id)
	assert.Equal(t, 0, r.Len())
}

func TestConfigureFailures(t *testing.T) {
	tests := []struct {
		name string
		spec AppSpec
		want error
	}{
		{"no module", AppSpec{}, ErrContractViolation},
		{"missing module", AppSpec{ModuleFile: "Missing.dll"}, ErrModuleLoad},
		{"missing descriptor", AppSpec{ModuleFile: "does/not/exist.yaml"}, ErrModuleLoad},
		{"missing type", AppSpec{ModuleFile: "Svc.dll", TypeName: "Svc.Nope"}, ErrNotFound},
		{"missing method", AppSpec{ModuleFile: "Svc.dll", MethodName: "Handle"}, ErrNotFound},
		{"wrong shape", AppSpec{ModuleFile: "Svc.dll", TypeName: "Svc.WrongShape"}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t)
			id, err := r.Configure(tt.spec)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, -1, id)
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestInvokeNormalizesEnvelope(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.Startup")

	out, err := r.Invoke(context.Background(), request(id, []byte("hello\x00world")))
	require.NoError(t, err)

	for key := range out {
		assert.True(t, envelope.IsResponseKey(key), key)
	}
	assert.Equal(t, []byte("hello\x00world"), out[envelope.ResponseBody])
	assert.Equal(t, http.StatusAccepted, out[envelope.ResponseStatusCode])
	assert.Equal(t, map[string]string{
		"Content-Type": "text/plain",
		"X-Multi":      "first",
	}, out[envelope.ResponseHeaders])
}

func TestInvokeAcceptsStringAndMissingBody(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.Startup")

	out, err := r.Invoke(context.Background(), request(float64(id), "text"))
	require.NoError(t, err)
	assert.Equal(t, []byte("text"), out[envelope.ResponseBody])

	env := request(int64(id), nil)
	delete(env, envelope.RequestBody)
	out, err = r.Invoke(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, []byte{}, out[envelope.ResponseBody])
}

func TestInvokeRejectsBadEnvelopes(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.Startup")

	tests := []struct {
		name string
		env  envelope.Env
	}{
		{"nil", nil},
		{"missing id", envelope.Env{}},
		{"negative id", request(-1, nil)},
		{"unknown id", request(id+1, nil)},
		{"fractional id", request(0.5, nil)},
		{"string id", request("0", nil)},
		{"bad body", request(id, 42)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Invoke(context.Background(), tt.env)
			assert.ErrorIs(t, err, ErrContractViolation)
		})
	}
}

func TestInvokeFaultPassesErrorThrough(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.Faulty")

	env := request(id, nil)
	out, err := r.Invoke(context.Background(), env)
	assert.Same(t, errBoom, err)
	assert.Nil(t, out)
	assert.Equal(t, "req-1", env[envelope.RequestID], "no pruning after a fault")
}

func TestInvokeCancelled(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.Cancelling")

	_, err := r.Invoke(context.Background(), request(id, nil))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.EqualError(t, err, "the application has cancelled processing of the request")
}

func TestInvokeAsyncTask(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.Async")

	out, err := r.Invoke(context.Background(), request(id, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, out[envelope.ResponseStatusCode])
}

func TestInvokeStaticHandler(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.Static")

	out, err := r.Invoke(context.Background(), request(id, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, out[envelope.ResponseStatusCode])
}

func TestInvokePanicFaults(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.Panicky")

	_, err := r.Invoke(context.Background(), request(id, nil))
	var pe *task.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
}

func TestInvokeNilTask(t *testing.T) {
	r := newRegistry(t)
	id := configure(t, r, "Svc.NilTask")

	_, err := r.Invoke(context.Background(), request(id, nil))
	assert.ErrorIs(t, err, ErrContractViolation)
}

func TestConfigureStartup(t *testing.T) {
	r := newRegistry(t)

	id, err := r.ConfigureStartup("Svc.Pipeline", nil)
	require.NoError(t, err)
	info, _ := r.Info(id)
	assert.Equal(t, SourceStartup, info.Source)
	assert.Equal(t, "Svc.Pipeline", info.Name)

	out, err := r.Invoke(context.Background(), request(id, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte("<h1>pipeline</h1>"), out[envelope.ResponseBody])
	assert.Equal(t, "text/html", out[envelope.ResponseHeaders].(map[string]string)["Content-Type"])

	_, err = r.ConfigureStartup("Nothing.Here", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecorderSeesEvents(t *testing.T) {
	rec := &fakeRecorder{}
	r := newRegistry(t, WithRecorder(rec))
	ok := configure(t, r, "Svc.Startup")
	bad := configure(t, r, "Svc.Faulty")

	_, _ = r.Invoke(context.Background(), request(ok, nil))
	_, _ = r.Invoke(context.Background(), request(bad, nil))
	_, _ = r.Invoke(context.Background(), request(99, nil))

	require.Len(t, rec.configured, 2)
	require.Len(t, rec.invocations, 3)
	assert.Equal(t, OutcomeSucceeded, rec.invocations[0].Outcome)
	assert.Equal(t, http.StatusAccepted, rec.invocations[0].StatusCode)
	assert.Equal(t, "req-1", rec.invocations[0].RequestID)
	assert.Equal(t, OutcomeFaulted, rec.invocations[1].Outcome)
	assert.Equal(t, OutcomeRejected, rec.invocations[2].Outcome)
	assert.Equal(t, -1, rec.invocations[2].AppID)
}

func TestModuleBaseName(t *testing.T) {
	assert.Equal(t, "Hello", moduleBaseName("bin/Hello.dll"))
	assert.Equal(t, "Hello", moduleBaseName("Hello.YAML"))
	assert.Equal(t, "Hello.v2", moduleBaseName("Hello.v2"))
	assert.Equal(t, "Hello", moduleBaseName(" Hello "))
}

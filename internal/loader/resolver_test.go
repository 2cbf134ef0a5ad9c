package loader

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/owinhost/internal/module"
	"github.com/mattjoyce/owinhost/internal/module/mocks"
)

type probeStartup struct{}

func (*probeStartup) Configuration() {}

func tableWith(moduleName string, typeNames ...string) *module.Table {
	tbl := module.NewTable(moduleName)
	for _, name := range typeNames {
		tbl.Type(name, (*probeStartup)(nil))
	}
	return tbl
}

func TestResolveProbesShorterPrefixesOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)

	l.EXPECT().Load("Run").Return(nil, module.ErrModuleNotFound)

	_, ok, err := NewConventionResolver(l).Resolve("Run.Startup")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveProbesLongestModuleFirst(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)

	gomock.InOrder(
		l.EXPECT().Load("A.B").Return(nil, module.ErrModuleNotFound),
		l.EXPECT().Load("A").Return(tableWith("A", "A.B.Startup"), nil),
	)

	ep, ok, err := NewConventionResolver(l).Resolve("A.B.Startup")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A.B.Startup", ep.Type.Name())
	assert.Empty(t, ep.MethodName)
}

func TestResolveStopsLoadingAfterMatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)

	// "A" must not be loaded once "A.B" provides the type.
	l.EXPECT().Load("A.B").Return(tableWith("A.B", "A.B.Startup"), nil)

	_, ok, err := NewConventionResolver(l).Resolve("A.B.Startup")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolveSplitsMethodName(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)

	gomock.InOrder(
		l.EXPECT().Load("Owin.Samples.Startup").Return(nil, module.ErrModuleNotFound),
		l.EXPECT().Load("Owin.Samples").Return(nil, module.ErrModuleNotFound),
		l.EXPECT().Load("Owin").Return(tableWith("Owin", "Owin.Samples.Startup"), nil),
	)

	ep, ok, err := NewConventionResolver(l).Resolve("Owin.Samples.Startup.Invoke")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Owin.Samples.Startup", ep.Type.Name())
	assert.Equal(t, "Invoke", ep.MethodName)
}

func TestResolveExplicitModule(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)

	l.EXPECT().Load("MyModule").Return(tableWith("MyModule", "Foo.Bar"), nil)

	ep, ok, err := NewConventionResolver(l).Resolve("Foo.Bar.Startup, MyModule ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Foo.Bar", ep.Type.Name())
	assert.Equal(t, "Startup", ep.MethodName)
}

func TestResolveExplicitModuleOnlyTriesTwoTypeNames(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)

	l.EXPECT().Load("M").Return(tableWith("M", "Foo"), nil)

	_, ok, err := NewConventionResolver(l).Resolve("Foo.Bar.Startup, M")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveLoadFailureIsFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)
	boom := errors.New("register exploded")

	l.EXPECT().Load("Bad").Return(nil, boom)

	next := ResolverFunc(func(string) (EntryPoint, bool, error) {
		t.Fatal("fallback must not run after a fatal error")
		return EntryPoint{}, false, nil
	})
	_, ok, err := NewConventionResolver(l, WithNext(next)).Resolve("Bad.Startup")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestResolveFallsBackToNext(t *testing.T) {
	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)

	l.EXPECT().Load("Missing").Return(nil, module.ErrModuleNotFound)

	want := EntryPoint{Type: tableWith("Other", "Other.Startup").Static("Other.Fallback")}
	var asked string
	next := ResolverFunc(func(configuration string) (EntryPoint, bool, error) {
		asked = configuration
		return want, true, nil
	})

	ep, ok, err := NewConventionResolver(l, WithNext(next)).Resolve("Missing.Startup")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Missing.Startup", asked)
	assert.Same(t, want.Type, ep.Type)
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDefaultConfigurationString(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, first, "Alpha.yaml", "name: Alpha\ntypes: [Alpha.Other]\n")
	writeFile(t, first, "Broken.yaml", "name: [\n")
	writeFile(t, second, "Beta.yml", "name: Beta\ntypes: [Beta.Startup]\n")
	writeFile(t, second, "Gamma.yaml", "name: Gamma\ntypes: [Startup]\n")

	got, ok, err := DefaultConfigurationString([]string{filepath.Join(first, "missing"), first, second}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Beta.Startup, Beta", got)

	_, ok, err = DefaultConfigurationString([]string{first}, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err = DefaultConfigurationString([]string{filepath.Join(first, "Alpha.yaml"), second}, nil)
	require.NoError(t, err, "a search path that is a file is skipped")
	require.True(t, ok)
	assert.Equal(t, "Beta.Startup, Beta", got)
}

func TestResolveEmptyUsesDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "X.yaml", "name: X\ntypes: [X.Startup]\n")

	ctrl := gomock.NewController(t)
	l := mocks.NewMockLoader(ctrl)
	l.EXPECT().Load("X").Return(tableWith("X", "X.Startup"), nil)

	ep, ok, err := NewConventionResolver(l, WithSearchDirs(dir)).Resolve("  ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "X.Startup, X", ep.Type.QualifiedName())
}

func TestResolveIsIdempotent(t *testing.T) {
	var registered int
	cat, err := module.NewCatalog(testModule{registered: &registered})
	require.NoError(t, err)
	r := NewConventionResolver(cat)

	a, ok, err := r.Resolve("Shapes.Startup.Properties")
	require.NoError(t, err)
	require.True(t, ok)
	b, ok, err := r.Resolve("Shapes.Startup.Properties")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, registered)
}

package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/owinhost/internal/apps"
	"github.com/mattjoyce/owinhost/internal/auth"
	"github.com/mattjoyce/owinhost/internal/config"
	"github.com/mattjoyce/owinhost/internal/module"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Service: config.ServiceConfig{Name: "test", LogLevel: "info"},
		State:   config.StateConfig{Path: filepath.Join(t.TempDir(), "journal.db")},
		Modules: config.ModulesConfig{SearchDirs: []string{t.TempDir()}},
		Apps: []config.AppConfig{
			{Name: "hello", Startup: "Hello.Startup", Mount: "/hello"},
			{Name: "samples", ModuleFile: "Owin.Samples.dll", Mount: "/net"},
		},
		API: config.APIConfig{Enabled: true, Listen: "localhost:8080", APIKey: "secret"},
	}
}

func catalog(t *testing.T) *module.Catalog {
	t.Helper()
	c, err := module.NewCatalog(apps.Builtin()...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func hasIssue(issues []Issue, category, contains string) bool {
	for _, i := range issues {
		if i.Category == category && strings.Contains(i.Message, contains) {
			return true
		}
	}
	return false
}

func TestValidate_ValidConfig(t *testing.T) {
	r := New(validConfig(t), catalog(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if len(r.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", r.Warnings)
	}
}

func TestValidate_UnresolvableApps(t *testing.T) {
	cfg := validConfig(t)
	cfg.Apps = append(cfg.Apps,
		config.AppConfig{Name: "ghost", Startup: "Ghost.Startup"},
		config.AppConfig{Name: "typo", ModuleFile: "Hello.dll", TypeName: "Hello.Startupp"},
	)

	r := New(cfg, catalog(t)).Validate()
	if r.Valid {
		t.Fatal("expected invalid result")
	}
	if !hasIssue(r.Errors, "apps", `app "ghost"`) {
		t.Errorf("expected ghost error, got %v", r.Errors)
	}
	if !hasIssue(r.Errors, "apps", `type "Hello.Startupp"`) {
		t.Errorf("expected typo error, got %v", r.Errors)
	}
}

func TestValidate_NoStartupWarns(t *testing.T) {
	cfg := validConfig(t)
	cfg.Apps = []config.AppConfig{{Name: "anon", Mount: "/anon"}}

	dir := cfg.Modules.SearchDirs[0]
	if err := os.WriteFile(filepath.Join(dir, "Hello.yaml"), []byte("name: Hello\ntypes: [Hello.Startup]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	r := New(cfg, catalog(t)).Validate()
	if !r.Valid {
		t.Fatalf("expected valid, got errors: %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "apps", "has no startup") {
		t.Errorf("expected startup warning, got %v", r.Warnings)
	}
}

func TestValidate_Descriptors(t *testing.T) {
	cfg := validConfig(t)
	dir := cfg.Modules.SearchDirs[0]
	files := map[string]string{
		"Broken.yaml":  "name: [\n",
		"Foreign.yaml": "name: Foreign\ntypes: [Foreign.Startup]\n",
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	cfg.Modules.SearchDirs = append(cfg.Modules.SearchDirs, filepath.Join(dir, "missing"))

	r := New(cfg, catalog(t)).Validate()
	if !hasIssue(r.Errors, "modules", `module "Foreign" which is not compiled in`) {
		t.Errorf("expected foreign descriptor error, got %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "modules", "Broken.yaml") {
		t.Errorf("expected broken descriptor warning, got %v", r.Warnings)
	}
	if !hasIssue(r.Warnings, "modules", "does not exist") {
		t.Errorf("expected missing dir warning, got %v", r.Warnings)
	}
}

func TestValidate_API(t *testing.T) {
	cfg := validConfig(t)
	cfg.API.APIKey = ""
	cfg.API.Tokens = []auth.TokenConfig{{Token: "t", Scopes: []string{auth.ScopeAppsRead, "jobs:rw"}}}
	cfg.State.Path = ":memory:"

	r := New(cfg, catalog(t)).Validate()
	if !hasIssue(r.Errors, "token_scopes", `unknown scope "jobs:rw"`) {
		t.Errorf("expected scope error, got %v", r.Errors)
	}
	if !hasIssue(r.Warnings, "state", "in memory") {
		t.Errorf("expected journal warning, got %v", r.Warnings)
	}

	cfg.API.Tokens = nil
	r = New(cfg, catalog(t)).Validate()
	if !hasIssue(r.Warnings, "api", "no authentication") {
		t.Errorf("expected auth warning, got %v", r.Warnings)
	}
}

func TestValidate_NoApps(t *testing.T) {
	cfg := validConfig(t)
	cfg.Apps = nil
	r := New(cfg, catalog(t)).Validate()
	if !r.Valid || !hasIssue(r.Warnings, "apps", "no applications") {
		t.Fatalf("expected valid with warning, got %+v", r)
	}
}

// Package doctor validates owinhost configuration against the modules
// compiled into the binary.
package doctor

import (
	"fmt"
	"os"
	"slices"

	"github.com/mattjoyce/owinhost/internal/auth"
	"github.com/mattjoyce/owinhost/internal/config"
	"github.com/mattjoyce/owinhost/internal/host"
	"github.com/mattjoyce/owinhost/internal/loader"
	"github.com/mattjoyce/owinhost/internal/module"
	"github.com/mattjoyce/owinhost/internal/registry"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Modules is the module source checked against the config.
type Modules interface {
	registry.Modules
	Names() []string
}

// Doctor validates configuration against compiled-in modules.
type Doctor struct {
	cfg     *config.Config
	modules Modules
}

// New creates a Doctor from a loaded config and module catalog.
func New(cfg *config.Config, modules Modules) *Doctor {
	return &Doctor{cfg: cfg, modules: modules}
}

// Validate runs all checks and returns a result. Applications are
// configured into a scratch registry exactly as serve would, so startup
// code runs.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateApps(r)
	d.validateSearchDirs(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.warnEphemeralJournal(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateApps configures every declared app.
func (d *Doctor) validateApps(r *Result) {
	if len(d.cfg.Apps) == 0 {
		d.addWarning(r, "apps", "apps", "no applications configured; the host will only answer /healthz")
		return
	}

	resolver := loader.NewConventionResolver(d.modules, loader.WithSearchDirs(d.cfg.Modules.SearchDirs...))
	scratch := registry.New(d.modules,
		registry.WithLoader(loader.New(resolver, loader.NewBinder(nil))))

	for i, app := range d.cfg.Apps {
		field := fmt.Sprintf("apps[%d]", i)
		if app.ModuleFile == "" && app.Startup == "" && d.cfg.Modules.Startup == "" {
			d.addWarning(r, "apps", field+".startup",
				fmt.Sprintf("app %q has no startup; the first descriptor in modules.search_dirs decides", app.Name))
		}
		if _, err := host.ConfigureApp(scratch, app, d.cfg.Modules.Startup); err != nil {
			d.addError(r, "apps", field, fmt.Sprintf("app %q: %v", app.Name, err))
		}
	}
}

// validateSearchDirs checks that descriptors parse and name compiled-in
// modules.
func (d *Doctor) validateSearchDirs(r *Result) {
	compiled := d.modules.Names()
	for i, dir := range d.cfg.Modules.SearchDirs {
		field := fmt.Sprintf("modules.search_dirs[%d]", i)
		if _, err := os.Stat(dir); err != nil {
			d.addWarning(r, "modules", field, fmt.Sprintf("search directory %s does not exist", dir))
			continue
		}
		files, err := module.ScanDir(dir)
		if err != nil {
			d.addError(r, "modules", field, err.Error())
			continue
		}
		for _, file := range files {
			desc, err := module.Inspect(file)
			if err != nil {
				d.addWarning(r, "modules", field, fmt.Sprintf("skipping %s: %v", file, err))
				continue
			}
			if !slices.Contains(compiled, desc.Name) {
				d.addError(r, "modules", field,
					fmt.Sprintf("descriptor %s names module %q which is not compiled in", file, desc.Name))
			}
		}
	}
}

// validateAPIConfig checks API server settings.
func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.APIKey == "" && len(d.cfg.API.Tokens) == 0 {
		d.addWarning(r, "api", "api.api_key", "API enabled but no authentication configured; admin routes will reject every request")
	}
}

// validateTokenScopes checks that every scope is one the API understands.
func (d *Doctor) validateTokenScopes(r *Result) {
	for i, token := range d.cfg.API.Tokens {
		for j, scope := range token.Scopes {
			if !auth.KnownScope(scope) {
				d.addError(r, "token_scopes", fmt.Sprintf("api.tokens[%d].scopes[%d]", i, j),
					fmt.Sprintf("unknown scope %q (expected one of *, %s, %s, %s)",
						scope, auth.ScopeAppsRead, auth.ScopeJournalRead, auth.ScopeEventsRead))
			}
		}
	}
}

func (d *Doctor) warnEphemeralJournal(r *Result) {
	if d.cfg.State.Path == ":memory:" {
		d.addWarning(r, "state", "state.path", "journal is kept in memory and lost on restart")
	}
}

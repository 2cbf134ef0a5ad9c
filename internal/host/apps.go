package host

import (
	"fmt"
	"maps"

	"github.com/mattjoyce/owinhost/internal/config"
	"github.com/mattjoyce/owinhost/internal/owin"
	"github.com/mattjoyce/owinhost/internal/registry"
)

// ConfigureApp configures one application declared in the config file.
// With a module file the named handler is bound directly; otherwise the
// app's startup name, or defaultStartup, is resolved by convention. The
// app name becomes the host.AppName property unless properties set it.
func ConfigureApp(reg Registry, app config.AppConfig, defaultStartup string) (int, error) {
	if app.ModuleFile != "" {
		return reg.Configure(registry.AppSpec{
			Name:       app.Name,
			ModuleFile: app.ModuleFile,
			TypeName:   app.TypeName,
			MethodName: app.MethodName,
			Properties: app.Properties,
		})
	}

	startup := app.Startup
	if startup == "" {
		startup = defaultStartup
	}
	props := make(map[string]any, len(app.Properties)+1)
	maps.Copy(props, app.Properties)
	if _, ok := props[owin.PropAppName]; !ok && app.Name != "" {
		props[owin.PropAppName] = app.Name
	}
	return reg.ConfigureStartup(startup, props)
}

// ConfigureApps configures apps in order and returns their ids. The first
// failure stops configuration.
func ConfigureApps(reg Registry, apps []config.AppConfig, defaultStartup string) ([]int, error) {
	ids := make([]int, 0, len(apps))
	for _, app := range apps {
		id, err := ConfigureApp(reg, app, defaultStartup)
		if err != nil {
			return ids, fmt.Errorf("app %q: %w", app.Name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// reservedMounts are served by the host itself.
var reservedMounts = []string{"/apps", "/healthz", "/metrics", "/invocations", "/events", "/openapi.json"}

// Load reads and parses configuration from a file or from config.yaml in a
// directory. Files listed under include are merged in order. Relative
// paths in the result are resolved against the root file's directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
		return nil, err
	}

	files := make([]string, 0, len(visited))
	for p := range visited {
		files = append(files, p)
	}
	if err := verifyConfigHashes(files); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadIncludes merges included files into cfg depth first. visited holds
// every file already loaded; seeing one again is a cycle.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(includePath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, absPath, baseDir)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeConfig(cfg, included)

		if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
			return err
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst. Non-zero scalars from src win; search
// dirs and apps are appended.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}
	if src.Modules.Startup != "" {
		dst.Modules.Startup = src.Modules.Startup
	}
	dst.Modules.SearchDirs = append(dst.Modules.SearchDirs, src.Modules.SearchDirs...)
	dst.Apps = append(dst.Apps, src.Apps...)
	if src.API.Enabled {
		dst.API.Enabled = true
	}
	if src.API.Listen != "" {
		dst.API.Listen = src.API.Listen
	}
	if src.API.APIKey != "" {
		dst.API.APIKey = src.API.APIKey
	}
	dst.API.Tokens = append(dst.API.Tokens, src.API.Tokens...)
	if src.API.MaxBodyBytes != 0 {
		dst.API.MaxBodyBytes = src.API.MaxBodyBytes
	}
}

// applyConfigDefaults fills in values that were not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if len(cfg.Modules.SearchDirs) == 0 {
		cfg.Modules.SearchDirs = defaults.Modules.SearchDirs
	}
	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API.Enabled = defaults.API.Enabled
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.MaxBodyBytes == 0 {
		cfg.API.MaxBodyBytes = defaults.API.MaxBodyBytes
	}
	for i := range cfg.Apps {
		if cfg.Apps[i].Mount == "" {
			cfg.Apps[i].Mount = "/" + cfg.Apps[i].Name
		}
	}
	return cfg
}

func resolvePaths(cfg *Config, baseDir string) {
	abs := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.State.Path = abs(cfg.State.Path)
	for i, dir := range cfg.Modules.SearchDirs {
		cfg.Modules.SearchDirs[i] = abs(dir)
	}
	for i := range cfg.Apps {
		if f := cfg.Apps[i].ModuleFile; strings.ContainsRune(f, filepath.Separator) {
			cfg.Apps[i].ModuleFile = abs(f)
		}
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is and fail validation where they matter.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if err := unresolved("state.path", cfg.State.Path); err != nil {
		return err
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	if cfg.API.MaxBodyBytes < 0 {
		return fmt.Errorf("api.max_body_bytes must not be negative")
	}
	if err := unresolved("api.api_key", cfg.API.APIKey); err != nil {
		return err
	}
	for i, tok := range cfg.API.Tokens {
		if err := unresolved(fmt.Sprintf("api.tokens[%d].token", i), tok.Token); err != nil {
			return err
		}
		if tok.Token == "" {
			return fmt.Errorf("api.tokens[%d].token is required", i)
		}
	}

	names := make(map[string]bool, len(cfg.Apps))
	mounts := make(map[string]bool, len(cfg.Apps))
	for i, app := range cfg.Apps {
		if app.Name == "" {
			return fmt.Errorf("apps[%d].name is required", i)
		}
		if names[app.Name] {
			return fmt.Errorf("apps[%d]: duplicate app name %q", i, app.Name)
		}
		names[app.Name] = true
		if app.Startup != "" && app.ModuleFile != "" {
			return fmt.Errorf("app %q: startup and module_file are mutually exclusive", app.Name)
		}
		if app.ModuleFile == "" && (app.TypeName != "" || app.MethodName != "") {
			return fmt.Errorf("app %q: type_name and method_name require module_file", app.Name)
		}
		if !strings.HasPrefix(app.Mount, "/") || path.Clean(app.Mount) != app.Mount {
			return fmt.Errorf("app %q: mount must be a clean absolute path (got %q)", app.Name, app.Mount)
		}
		for _, reserved := range reservedMounts {
			if app.Mount == reserved || strings.HasPrefix(app.Mount, reserved+"/") {
				return fmt.Errorf("app %q: mount %q is reserved", app.Name, app.Mount)
			}
		}
		if mounts[app.Mount] {
			return fmt.Errorf("app %q: mount %q is already used", app.Name, app.Mount)
		}
		mounts[app.Mount] = true
		if err := checkUnresolvedEnvVars(app.Properties, app.Name); err != nil {
			return err
		}
	}
	return nil
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// checkUnresolvedEnvVars recursively checks for ${VAR} placeholders in
// application properties.
func checkUnresolvedEnvVars(data map[string]any, appName string) error {
	for key, value := range data {
		switch v := value.(type) {
		case string:
			if err := unresolved(fmt.Sprintf("app %q: properties.%s", appName, key), v); err != nil {
				return err
			}
		case map[string]any:
			if err := checkUnresolvedEnvVars(v, appName); err != nil {
				return err
			}
		}
	}
	return nil
}

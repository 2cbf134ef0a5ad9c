package config

import "github.com/mattjoyce/owinhost/internal/auth"

// Config represents the complete owinhost configuration.
type Config struct {
	Include []string      `yaml:"include,omitempty"`
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Modules ModulesConfig `yaml:"modules"`
	Apps    []AppConfig   `yaml:"apps,omitempty"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// StateConfig defines journal storage settings. ":memory:" keeps the
// journal in process.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ModulesConfig controls startup resolution.
type ModulesConfig struct {
	// SearchDirs are scanned, in order, for module descriptors when a startup
	// name is empty.
	SearchDirs []string `yaml:"search_dirs"`
	// Startup is the default startup name; empty means search by convention.
	Startup string `yaml:"startup"`
}

// AppConfig declares an application configured at boot. Exactly one of
// Startup or ModuleFile selects how it is configured; with neither the
// default startup is used.
type AppConfig struct {
	Name       string         `yaml:"name"`
	Startup    string         `yaml:"startup,omitempty"`
	ModuleFile string         `yaml:"module_file,omitempty"`
	TypeName   string         `yaml:"type_name,omitempty"`
	MethodName string         `yaml:"method_name,omitempty"`
	Mount      string         `yaml:"mount,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// APIConfig defines HTTP host settings. Application routes are public;
// the admin routes require APIKey or one of Tokens.
type APIConfig struct {
	Enabled      bool               `yaml:"enabled"`
	Listen       string             `yaml:"listen"`
	APIKey       string             `yaml:"api_key,omitempty"`
	Tokens       []auth.TokenConfig `yaml:"tokens,omitempty"`
	MaxBodyBytes int64              `yaml:"max_body_bytes,omitempty"`
}

// ChecksumManifest is the .checksums file written by "owinhost config lock".
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "owinhost",
			LogLevel: "info",
		},
		State: StateConfig{
			Path: "./data/journal.db",
		},
		Modules: ModulesConfig{
			SearchDirs: []string{".", "bin"},
		},
		API: APIConfig{
			Enabled:      true,
			Listen:       "localhost:8080",
			MaxBodyBytes: 10 << 20,
		},
	}
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/owinhost/internal/apps"
	"github.com/mattjoyce/owinhost/internal/config"
	"github.com/mattjoyce/owinhost/internal/loader"
	"github.com/mattjoyce/owinhost/internal/module"
	"github.com/mattjoyce/owinhost/internal/registry"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "serve":
		return runServe(args)
	case "pipe":
		return runPipe(args)
	case "resolve":
		return runResolve(args)
	case "modules":
		return runModules(args)
	case "config":
		return runConfigNoun(args)
	case "doctor":
		return runConfigCheck(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`owinhost - host Go application modules behind a convention-resolved OWIN bridge

Usage:
  owinhost <command> [flags]

Commands:
  serve             Configure the apps in config.yaml and serve them over HTTP
  pipe              Serve a single caller over stdin/stdout (JSON lines or CBOR frames)
  resolve <name>    Show the entry point a startup name resolves to
  modules           List compiled-in modules and descriptors in the search dirs
  config lock       Record integrity hashes for config.yaml and its includes
  config check      Validate config against the compiled-in modules
  doctor            Alias for config check
  version           Show version information
  help              Show this help message

Most commands accept --config <file|dir> (default: ./config.yaml).
`)
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: owinhost version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("owinhost %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// loadOptionalConfig loads the config at path. An empty path falls back to
// ./config.yaml when it exists and to defaults otherwise.
func loadOptionalConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return config.Load("config.yaml")
	}
	return config.Defaults(), nil
}

func newCatalog() (*module.Catalog, error) {
	return module.NewCatalog(apps.Builtin()...)
}

// newRegistry builds a registry whose convention resolver scans searchDirs
// for a default startup.
func newRegistry(catalog *module.Catalog, searchDirs []string, opts ...registry.Option) *registry.Registry {
	resolver := loader.NewConventionResolver(catalog, loader.WithSearchDirs(searchDirs...))
	opts = append([]registry.Option{
		registry.WithLoader(loader.New(resolver, loader.NewBinder(nil))),
	}, opts...)
	return registry.New(catalog, opts...)
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mattjoyce/owinhost/internal/loader"
	"github.com/mattjoyce/owinhost/internal/log"
	"github.com/mattjoyce/owinhost/internal/module"
)

type resolveOutput struct {
	Startup string `json:"startup"`
	Type    string `json:"type"`
	Module  string `json:"module"`
	Method  string `json:"method"`
	Shape   string `json:"shape"`
}

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory (optional)")
	var searchDirs stringList
	fs.Var(&searchDirs, "search-dir", "Directory scanned for descriptors (repeatable)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	flagArgs, positionals := splitFlagsAndPositionals(args, map[string]bool{
		"--config":     true,
		"--search-dir": true,
	})
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) > 1 {
		fmt.Fprintln(os.Stderr, "Usage: owinhost resolve [--config PATH] [--search-dir DIR] [--json] [startup-name]")
		return 1
	}
	name := ""
	if len(positionals) == 1 {
		name = positionals[0]
	}

	cfg, err := loadOptionalConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter("error", os.Stderr)
	if name == "" {
		name = cfg.Modules.Startup
	}
	dirs := cfg.Modules.SearchDirs
	if len(searchDirs) > 0 {
		dirs = searchDirs
	}

	catalog, err := newCatalog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build module catalog: %v\n", err)
		return 1
	}
	ep, ok, err := loader.NewConventionResolver(catalog, loader.WithSearchDirs(dirs...)).Resolve(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resolve failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "No entry point found for %q\n", name)
		return 1
	}

	methodName := ep.MethodName
	if methodName == "" {
		methodName = loader.DefaultMethodName
	}
	shape := loader.ShapeUnsupported
	if method, found := ep.Type.Method(methodName); found {
		shape = loader.Classify(method.Signature())
	}

	out := resolveOutput{
		Startup: name,
		Type:    ep.Type.Name(),
		Module:  ep.Type.Module(),
		Method:  methodName,
		Shape:   shape.String(),
	}
	if *jsonOut {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Printf("startup: %s\n", displayStartup(out.Startup))
	fmt.Printf("type:    %s\n", ep.Type.QualifiedName())
	fmt.Printf("method:  %s\n", out.Method)
	fmt.Printf("shape:   %s\n", out.Shape)
	if shape == loader.ShapeUnsupported {
		return 1
	}
	return 0
}

func displayStartup(name string) string {
	if strings.TrimSpace(name) == "" {
		return "(default)"
	}
	return name
}

type moduleOutput struct {
	Name        string   `json:"name"`
	Types       []string `json:"types"`
	Descriptor  string   `json:"descriptor,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

func runModules(args []string) int {
	fs := flag.NewFlagSet("modules", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory (optional)")
	var searchDirs stringList
	fs.Var(&searchDirs, "search-dir", "Directory scanned for descriptors (repeatable)")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadOptionalConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.SetupWriter("error", os.Stderr)
	dirs := cfg.Modules.SearchDirs
	if len(searchDirs) > 0 {
		dirs = searchDirs
	}

	catalog, err := newCatalog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build module catalog: %v\n", err)
		return 1
	}
	descriptors := discoverDescriptors(dirs)

	var mods []moduleOutput
	for _, name := range catalog.Names() {
		t, err := catalog.Load(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load module %s: %v\n", name, err)
			return 1
		}
		m := moduleOutput{Name: name, Types: t.TypeNames()}
		if desc, ok := descriptors[name]; ok {
			m.Descriptor = desc.Path
			m.Fingerprint = desc.Fingerprint
		}
		mods = append(mods, m)
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(mods, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	fmt.Println(renderModules(mods))
	return 0
}

// discoverDescriptors returns the first readable descriptor per module name
// across dirs.
func discoverDescriptors(dirs []string) map[string]*module.Descriptor {
	out := make(map[string]*module.Descriptor)
	for _, dir := range dirs {
		files, err := module.ScanDir(dir)
		if err != nil {
			continue
		}
		for _, file := range files {
			desc, err := module.Inspect(file)
			if err != nil {
				continue
			}
			if _, seen := out[desc.Name]; !seen {
				out[desc.Name] = desc
			}
		}
	}
	return out
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Padding(0, 1)
)

func renderModules(mods []moduleOutput) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#874BFD"))).
		Headers("MODULE", "TYPES", "DESCRIPTOR", "FINGERPRINT").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 2:
				return dimStyle
			default:
				return cellStyle
			}
		})
	for _, m := range mods {
		descriptor, fingerprint := "-", "-"
		if m.Descriptor != "" {
			descriptor = filepath.Base(m.Descriptor)
			fingerprint = shortenCommit(m.Fingerprint)
		}
		t.Row(m.Name, strings.Join(m.Types, ", "), descriptor, fingerprint)
	}
	return t.String()
}

// splitFlagsAndPositionals moves flags ahead of positionals so flags may
// follow the positional argument.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	var flags, positionals []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positionals = append(positionals, arg)
			continue
		}
		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue["--"+strings.TrimLeft(arg, "-")] {
			if i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		}
	}
	return flags, positionals
}

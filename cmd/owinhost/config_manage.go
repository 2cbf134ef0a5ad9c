package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/owinhost/internal/config"
	"github.com/mattjoyce/owinhost/internal/doctor"
	"github.com/mattjoyce/owinhost/internal/log"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigHelp()
		return 1
	}
	switch args[0] {
	case "lock":
		return runConfigLock(args[1:])
	case "check":
		return runConfigCheck(args[1:])
	case "help", "--help", "-h":
		printConfigHelp()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n\n", args[0])
		printConfigHelp()
		return 1
	}
}

func printConfigHelp() {
	fmt.Print(`Usage: owinhost config <action> [flags]

Actions:
  lock     Write .checksums for config.yaml and every included file
  check    Validate config and configure every app into a scratch registry

Flags:
  --config PATH    Config file or directory (default: .)
  --json           (check) Output the result as JSON
`)
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", ".", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	files, err := config.Lock(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	fmt.Printf("Locked %d file(s):\n", len(files))
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
	return 0
}

// runConfigCheck exits 0 when valid, 1 on errors and 2 on warnings only.
func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", ".", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the result as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	log.SetupWriter("error", os.Stderr)
	result, code, err := validateConfigAtPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation: failed\n  ERROR [config] %v\n", err)
		return 1
	}
	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return code
	}
	printValidationSummary(result)
	return code
}

func validateConfigAtPath(configPath string) (*doctor.Result, int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, 1, err
	}
	catalog, err := newCatalog()
	if err != nil {
		return nil, 1, err
	}
	result := doctor.New(cfg, catalog).Validate()
	if !result.Valid {
		return result, 1, nil
	}
	if len(result.Warnings) > 0 {
		return result, 2, nil
	}
	return result, 0, nil
}

func printValidationSummary(result *doctor.Result) {
	if result == nil {
		return
	}
	if !result.Valid {
		fmt.Printf("Validation: failed (%d error(s), %d warning(s))\n", len(result.Errors), len(result.Warnings))
		for _, issue := range result.Errors {
			printIssue("ERROR", issue)
		}
		for _, issue := range result.Warnings {
			printIssue("WARN ", issue)
		}
		return
	}

	if len(result.Warnings) == 0 {
		fmt.Println("Validation: ✓ All checks passed")
		return
	}
	fmt.Printf("Validation: ✓ passed with %d warning(s)\n", len(result.Warnings))
	for _, issue := range result.Warnings {
		printIssue("WARN ", issue)
	}
}

func printIssue(label string, issue doctor.Issue) {
	if issue.Field != "" {
		fmt.Printf("  %s [%s] %s: %s\n", label, issue.Category, issue.Field, issue.Message)
		return
	}
	fmt.Printf("  %s [%s] %s\n", label, issue.Category, issue.Message)
}

// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/steering"
)

// SteeringCommand represents available steering subcommands
type SteeringCommand string

const (
	SteeringList     SteeringCommand = "list"
	SteeringTest     SteeringCommand = "test"
	SteeringValidate SteeringCommand = "validate"
)

// SteeringOptions holds the command-line options for steering commands
type SteeringOptions struct {
	Command    SteeringCommand
	ConfigPath string
	RuleFile   string
	User       string
	Concept    string
	Level      string
	At         time.Time
}

// ParseSteeringCommand parses command arguments
func ParseSteeringCommand(args []string) (*SteeringOptions, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing subcommand")
	}

	cmd := SteeringCommand(args[0])
	switch cmd {
	case SteeringList, SteeringTest, SteeringValidate:
	default:
		return nil, fmt.Errorf("unknown steering command: %s", cmd)
	}

	opts := &SteeringOptions{Command: cmd}
	var at string
	flagSet := flag.NewFlagSet("steering", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.ConfigPath, "config", DefaultConfigPath, "Configure File Path")
	flagSet.StringVar(&opts.RuleFile, "file", "", "Specific policy file to validate")
	flagSet.StringVar(&opts.User, "user", "", "User id to test against")
	flagSet.StringVar(&opts.Concept, "concept", "", "Concept id to test against")
	flagSet.StringVar(&opts.Level, "level", "", "Experience level to test against")
	flagSet.StringVar(&at, "at", "", "RFC3339 time to test against (default now)")

	if err := flagSet.Parse(args[1:]); err != nil {
		return nil, err
	}
	opts.At = time.Now()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at: %w", err)
		}
		opts.At = t
	}
	return opts, nil
}

func printSteeringUsage() {
	fmt.Println("Usage: switchAIOrchestrator steering <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  list           List routing policies in evaluation order")
	fmt.Println("  test           Show the provider order a simulated request would get")
	fmt.Println("  validate       Validate one policy file or every file in the policy directory")
	fmt.Println("\nOptions:")
	fmt.Println("  --config <path>   Configuration file (default config.yaml)")
	fmt.Println("  --file <path>     Target specific policy file")
	fmt.Println("  --user <str>      Simulated user id for test")
	fmt.Println("  --concept <str>   Simulated concept id for test")
	fmt.Println("  --level <str>     Simulated experience level for test")
	fmt.Println("  --at <time>       Simulated RFC3339 time for test")
}

// handleSteeringCommand processes steering subcommands and returns the exit code.
func handleSteeringCommand(args []string) int {
	opts, err := ParseSteeringCommand(args)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		printSteeringUsage()
		return 1
	}

	cfg, err := loadCLIConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	dir := cfg.Routing.PolicyDir
	if dir == "" && opts.RuleFile == "" {
		fmt.Println("No policy directory configured (routing.policy-dir).")
		return 0
	}

	switch opts.Command {
	case SteeringValidate:
		return validatePolicies(os.Stdout, dir, opts.RuleFile)
	case SteeringList:
		engine := steering.NewEngine(dir)
		if err = engine.LoadRules(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading policies: %v\n", err)
			return 1
		}
		if err = writeRules(os.Stdout, engine.Rules()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	case SteeringTest:
		engine := steering.NewEngine(dir)
		if err = engine.LoadRules(); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading policies: %v\n", err)
			return 1
		}
		reg := registry.New()
		if _, _, _, errSync := reg.Sync(registry.FromConfig(cfg)); errSync != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", errSync)
		}
		subject := steering.Subject{UserID: opts.User, ConceptID: opts.Concept, ExperienceLevel: opts.Level}
		ordered := engine.Apply(subject, reg.ListEnabled(), opts.At)
		if err = writeProviderOrder(os.Stdout, ordered); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	return 0
}

// validatePolicies checks file, or every YAML file under dir, and reports each result.
func validatePolicies(out io.Writer, dir, file string) int {
	var files []string
	if file != "" {
		files = []string{file}
	} else {
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				return 1
			}
			files = append(files, matches...)
		}
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "No policy files found.")
		return 0
	}

	failed := 0
	for _, path := range files {
		rule, err := steering.ValidateRuleFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL  %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "OK    %s (%s)\n", path, rule.Name)
	}
	if failed > 0 {
		fmt.Fprintf(out, "%d of %d policy files invalid\n", failed, len(files))
		return 1
	}
	return 0
}

func writeRules(out io.Writer, rules []steering.PolicyRule) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPRIORITY\tCONDITION\tWINDOW\tACTION")
	for _, r := range rules {
		window := strings.TrimSpace(strings.Join([]string{r.Activation.Days, r.Activation.Hours}, " "))
		if window == "" {
			window = "always"
		}
		action := "prefer " + r.Action.PreferType
		if r.Action.Exclude {
			action = "exclude"
		}
		cond := r.Activation.Condition
		if cond == "" {
			cond = "true"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.Name, r.Activation.Priority, cond, window, action)
	}
	return w.Flush()
}

func writeProviderOrder(out io.Writer, providers []registry.ProviderConfig) error {
	if len(providers) == 0 {
		_, err := fmt.Fprintln(out, "No eligible providers.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tPROVIDER\tTYPE\tPRIORITY")
	for i, p := range providers {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", i+1, p.ID, p.Type, p.Priority)
	}
	return w.Flush()
}

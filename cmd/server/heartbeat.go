// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/traylinx/switchAIOrchestrator/internal/heartbeat"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/secret"
)

// HeartbeatCommand represents the available heartbeat subcommands
type HeartbeatCommand string

const (
	HeartbeatStatus HeartbeatCommand = "status"
	HeartbeatCheck  HeartbeatCommand = "check"
)

// HeartbeatOptions holds the command-line options for heartbeat commands
type HeartbeatOptions struct {
	Command    HeartbeatCommand
	Provider   string
	ConfigPath string
	Format     string
}

// ParseHeartbeatCommand parses command arguments
func ParseHeartbeatCommand(args []string) (*HeartbeatOptions, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("missing subcommand")
	}

	cmd := HeartbeatCommand(args[0])
	opts := &HeartbeatOptions{Command: cmd}
	flagSet := flag.NewFlagSet("heartbeat", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.ConfigPath, "config", DefaultConfigPath, "Configure File Path")
	flagSet.StringVar(&opts.Format, "format", "table", "Output format (table/json)")

	rest := args[1:]
	switch cmd {
	case HeartbeatStatus:
	case HeartbeatCheck:
		if len(rest) == 0 || rest[0] == "" || rest[0][0] == '-' {
			return nil, fmt.Errorf("check command requires a provider id")
		}
		opts.Provider = rest[0]
		rest = rest[1:]
	default:
		return nil, fmt.Errorf("unknown heartbeat command: %s", cmd)
	}
	if err := flagSet.Parse(rest); err != nil {
		return nil, err
	}
	if opts.Format != "table" && opts.Format != "json" {
		return nil, fmt.Errorf("unsupported format: %s", opts.Format)
	}
	return opts, nil
}

func printHeartbeatUsage() {
	fmt.Println("Usage: switchAIOrchestrator heartbeat <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  status        Probe every enabled provider once and show its health")
	fmt.Println("  check <id>    Probe one provider")
	fmt.Println("\nOptions:")
	fmt.Println("  --config <path>  Configuration file (default config.yaml)")
	fmt.Println("  --format <str>   Output format: table (default) or json")
}

// handleHeartbeatCommand processes heartbeat subcommands and returns the exit code.
func handleHeartbeatCommand(args []string) int {
	opts, err := ParseHeartbeatCommand(args)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		printHeartbeatUsage()
		return 1
	}

	cfg, err := loadCLIConfig(opts.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}

	reg := registry.New()
	if _, _, _, errSync := reg.Sync(registry.FromConfig(cfg)); errSync != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", errSync)
	}
	hbOpts := heartbeat.OptionsFromConfig(cfg.Heartbeat)
	pool := provider.NewPool(provider.NewFactory(secret.EnvResolver{}))
	monitor := heartbeat.NewMonitor(hbOpts, reg, pool, heartbeat.NewStatusStore(hbOpts.FreshnessWindow))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var statuses []*heartbeat.HealthStatus
	switch opts.Command {
	case HeartbeatCheck:
		status, errCheck := monitor.CheckProvider(ctx, opts.Provider)
		if errCheck != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", errCheck)
			return 1
		}
		statuses = append(statuses, status)
	default:
		if reg.Len() == 0 {
			fmt.Println("No providers configured.")
			return 0
		}
		monitor.CheckAll(ctx)
		for _, s := range monitor.Store().Snapshot() {
			statuses = append(statuses, s)
		}
	}

	if err = writeStatuses(os.Stdout, statuses, opts.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, s := range statuses {
		if s.Status == heartbeat.StatusUnhealthy {
			return 2
		}
	}
	return 0
}

// writeStatuses renders statuses sorted by provider id.
func writeStatuses(out io.Writer, statuses []*heartbeat.HealthStatus, format string) error {
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Provider < statuses[j].Provider })

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSTATUS\tRESPONSE TIME\tERROR")
	for _, s := range statuses {
		detail := "-"
		if s.ErrorKind != "" {
			detail = fmt.Sprintf("%s: %s", s.ErrorKind, s.ErrorMessage)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Provider, s.Status, s.ResponseTime.Round(time.Millisecond), detail)
	}
	return w.Flush()
}

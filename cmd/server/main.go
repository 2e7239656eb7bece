// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package main provides the entry point for the switchAIOrchestrator server.
// The server routes tutoring conversations across language-model providers,
// assembling per-user context and falling back between providers on failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/buildinfo"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
	"github.com/traylinx/switchAIOrchestrator/internal/logging"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
	buildinfo.Version = Version
	buildinfo.Commit = Commit
	buildinfo.BuildDate = BuildDate
}

func main() {
	// Subcommands own their flags, so dispatch before the global flag set parses.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "heartbeat":
			os.Exit(handleHeartbeatCommand(os.Args[2:]))
		case "steering":
			os.Exit(handleSteeringCommand(os.Args[2:]))
		case "version":
			fmt.Println(buildinfo.String())
			return
		}
	}

	var configPath string
	var debug bool
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&debug, "debug", false, "Force debug logging regardless of configuration")
	flag.Parse()

	loadDotEnv()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Errorf("failed to load config: %v", err)
		os.Exit(1)
	}
	logging.SetDebug(cfg.Debug || debug)
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile, cfg.LogDir, cfg.LogsMaxTotalSizeMB); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		os.Exit(1)
	}
	log.Info(buildinfo.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, configPath); err != nil {
		log.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}

// loadDotEnv loads .env from the working directory when present.
func loadDotEnv() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
		log.WithError(errLoad).Warn("failed to load .env file")
	}
}

// loadCLIConfig reads the configuration for a subcommand. A missing file
// yields the defaults so the commands still run.
func loadCLIConfig(path string) (*config.Config, error) {
	loadDotEnv()
	if path == "" {
		path = DefaultConfigPath
	}
	return config.LoadConfigOptional(path, true)
}

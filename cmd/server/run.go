// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/api"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
	"github.com/traylinx/switchAIOrchestrator/internal/contextmgr"
	"github.com/traylinx/switchAIOrchestrator/internal/contextstore"
	"github.com/traylinx/switchAIOrchestrator/internal/heartbeat"
	"github.com/traylinx/switchAIOrchestrator/internal/ledger"
	"github.com/traylinx/switchAIOrchestrator/internal/metrics"
	"github.com/traylinx/switchAIOrchestrator/internal/orchestrator"
	"github.com/traylinx/switchAIOrchestrator/internal/provider"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/router"
	"github.com/traylinx/switchAIOrchestrator/internal/secret"
	"github.com/traylinx/switchAIOrchestrator/internal/steering"
	"github.com/traylinx/switchAIOrchestrator/internal/store"
	"github.com/traylinx/switchAIOrchestrator/internal/tokens"
	"github.com/traylinx/switchAIOrchestrator/internal/watcher"
)

const shutdownTimeout = 15 * time.Second

// app holds every long-lived component of a running server.
type app struct {
	configPath string

	db       *store.DB
	registry *registry.Registry
	pool     *provider.Pool
	metrics  *metrics.Collectors
	monitor  *heartbeat.Monitor
	events   *heartbeat.EventLog
	writer   *ledger.Writer
	ledger   *ledger.Ledger
	policies *steering.Engine
	router   *router.Router
	contexts *contextmgr.Manager
	service  *orchestrator.Orchestrator
	server   *api.Server
	watcher  *watcher.Watcher
}

// newApp opens storage and wires the components together. Nothing is
// started yet.
func newApp(ctx context.Context, cfg *config.Config, configPath string) (*app, error) {
	db, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{configPath: configPath, db: db}
	if err = a.wire(ctx, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, cfg *config.Config) error {
	creds := secret.EnvResolver{}

	a.registry = registry.New()
	if _, _, _, err := a.registry.Sync(registry.FromConfig(cfg)); err != nil {
		log.Warnf("skipping invalid providers: %v", err)
	}
	a.pool = provider.NewPool(provider.NewFactory(creds))
	a.metrics = metrics.New()

	hbOpts := heartbeat.OptionsFromConfig(cfg.Heartbeat)
	statuses := heartbeat.NewStatusStore(hbOpts.FreshnessWindow)
	a.monitor = heartbeat.NewMonitor(hbOpts, a.registry, a.pool, statuses)
	a.events = heartbeat.NewEventLog(0)
	a.monitor.AddEventHandler(a.events)
	a.monitor.AddEventHandler(a.metrics)

	a.writer = ledger.NewWriter(a.db, cfg.Ledger.QueueSize)
	a.writer.OnDrop(a.metrics.UsageDropped)
	a.ledger = ledger.New(a.registry, cfg.Location(), ledger.WithWriter(a.writer))
	if err := a.ledger.WarmStart(ctx, a.db); err != nil {
		log.Warnf("ledger warm start failed, starting from zero: %v", err)
	}

	routerOpts := []router.Option{
		router.WithObserver(a.metrics),
		router.WithMaxTotalAttempts(cfg.Routing.MaxTotalAttempts),
	}
	if cfg.Routing.PolicyDir != "" {
		a.policies = steering.NewEngine(cfg.Routing.PolicyDir)
		if err := a.policies.LoadRules(); err != nil {
			log.Warnf("failed to load routing policies: %v", err)
		}
		routerOpts = append(routerOpts, router.WithPolicy(a.policies))
	}
	a.router = router.New(a.registry, statuses, a.ledger, a.pool, a.ledger, routerOpts...)

	embedder := newEmbedder(cfg.Embedding, creds)
	chunks, err := contextstore.NewPersistentStore(ctx, embedder.Dimension(), a.db)
	if err != nil {
		return err
	}
	a.contexts = contextmgr.NewManager(a.db, a.db, tokens.NewEstimator(cfg.Context.TokenEstimator),
		contextmgr.SettingsFromConfig(cfg.Context), contextmgr.WithSemanticRecall(chunks, embedder))
	a.service = orchestrator.New(a.db, a.contexts, a.router, a.registry, statuses, a.ledger,
		orchestrator.WithChunkIndexing(chunks, embedder))

	a.registry.OnChange(a.pool.Invalidate)
	a.registry.OnChange(a.router.Invalidate)
	a.registry.OnChange(a.monitor.ProviderChanged)
	a.registry.OnChange(a.forgetRemoved)

	a.server = api.NewServer(cfg, a.service, a.registry, a.monitor,
		api.WithMetricsHandler(a.metrics.Handler()),
		api.WithHeartbeatEvents(a.events),
		api.WithReadinessCheck(a.db.Ping),
	)
	return nil
}

// newEmbedder returns the remote embedder when configured and the local
// hashing embedder otherwise.
func newEmbedder(cfg config.EmbeddingConfig, creds secret.Resolver) contextstore.Embedder {
	if cfg.Enabled {
		return contextstore.NewOpenAIEmbedder(cfg.BaseURL, cfg.Credential, cfg.Model, cfg.Dimension, creds)
	}
	return contextstore.NewHashEmbedder(cfg.Dimension)
}

// forgetRemoved drops metric series of providers no longer registered.
func (a *app) forgetRemoved(id string) {
	if _, err := a.registry.Get(id); errors.Is(err, registry.ErrNotFound) {
		a.metrics.ForgetProvider(id)
	}
}

// applyConfig is the reload callback of the config watcher.
func (a *app) applyConfig(cfg *config.Config) {
	added, updated, removed, err := a.registry.Sync(registry.FromConfig(cfg))
	if err != nil {
		log.Warnf("config reload: skipping invalid providers: %v", err)
	}
	log.WithFields(log.Fields{
		"added":   len(added),
		"updated": len(updated),
		"removed": len(removed),
	}).Info("config reload: providers synchronized")
	a.server.SetConfig(cfg)
}

// start launches background components and returns once they are running.
func (a *app) start(ctx context.Context, cfg *config.Config) error {
	// Routing only selects providers with a fresh healthy status, so a server
	// without probes would fail every request.
	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start heartbeat monitor: %w", err)
	}
	if a.policies != nil {
		if err := a.policies.StartWatcher(); err != nil {
			log.Warnf("routing policy watcher not started: %v", err)
		}
	}

	w, err := watcher.NewWatcher(a.configPath, a.applyConfig)
	if err != nil {
		return err
	}
	w.SetConfig(cfg)
	if err = w.Start(ctx); err != nil {
		log.Warnf("config watcher not started: %v", err)
	} else {
		a.watcher = w
	}
	return nil
}

// shutdown stops components in reverse dependency order.
func (a *app) shutdown(ctx context.Context) {
	if err := a.server.Stop(ctx); err != nil {
		log.Errorf("failed to stop API server: %v", err)
	}
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			log.Errorf("failed to stop config watcher: %v", err)
		}
	}
	if a.policies != nil {
		a.policies.StopWatcher()
	}
	if a.monitor.IsRunning() {
		if err := a.monitor.Stop(); err != nil {
			log.Errorf("failed to stop heartbeat monitor: %v", err)
		}
	}
	a.writer.Close()
	if err := a.db.Close(); err != nil {
		log.Errorf("failed to close database: %v", err)
	}
}

// run serves until ctx is cancelled, then shuts down gracefully.
func run(ctx context.Context, cfg *config.Config, configPath string) error {
	a, err := newApp(ctx, cfg, configPath)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err = a.start(ctx, cfg); err != nil {
		a.shutdown(context.Background())
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.shutdown(shutdownCtx)
	return err
}

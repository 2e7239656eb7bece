// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the orchestrator over HTTP with gin: the public v1
// routes for conversations and provider status, and the key-protected
// management routes for provider administration.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
	"github.com/traylinx/switchAIOrchestrator/internal/heartbeat"
	"github.com/traylinx/switchAIOrchestrator/internal/ledger"
	"github.com/traylinx/switchAIOrchestrator/internal/logging"
	"github.com/traylinx/switchAIOrchestrator/internal/orchestrator"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/store"
)

// Service is the orchestrator surface served by the v1 routes.
type Service interface {
	CreateConversation(ctx context.Context, userID, conceptID, title string) (store.Conversation, error)
	GenerateResponse(ctx context.Context, conversationID, message string, opts orchestrator.Options) (*orchestrator.Response, error)
	GetStatus(providerID string) ([]orchestrator.ProviderStatus, error)
	Summary(ctx context.Context, conversationID string) (string, error)
	UserUsage(userID string) ledger.UserTotals
}

// ProviderAdmin mutates the provider registry.
type ProviderAdmin interface {
	Upsert(cfg registry.ProviderConfig) error
	Remove(id string) error
}

// HealthChecker runs an on-demand probe.
type HealthChecker interface {
	CheckProvider(ctx context.Context, id string) (*heartbeat.HealthStatus, error)
}

// EventSource exposes recent heartbeat events.
type EventSource interface {
	GetEvents() []heartbeat.HeartbeatEvent
	GetEventsForProvider(provider string) []heartbeat.HeartbeatEvent
}

// Server is the HTTP front end.
type Server struct {
	engine *gin.Engine
	server *http.Server

	mu  sync.RWMutex
	cfg *config.Config

	service Service
	admin   ProviderAdmin
	checker HealthChecker
	metrics http.Handler
	events  EventSource
	ready   func(ctx context.Context) error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.metrics = h }
}

// WithHeartbeatEvents serves recent heartbeat events on the management API.
func WithHeartbeatEvents(events EventSource) ServerOption {
	return func(s *Server) { s.events = events }
}

// WithReadinessCheck makes /healthz report 503 while check fails.
func WithReadinessCheck(check func(ctx context.Context) error) ServerOption {
	return func(s *Server) { s.ready = check }
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg *config.Config, service Service, admin ProviderAdmin, checker HealthChecker, opts ...ServerOption) *Server {
	s := &Server{
		cfg:     cfg,
		service: service,
		admin:   admin,
		checker: checker,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), gin.Recovery())
	s.engine = engine
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.healthz)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := s.engine.Group("/v1")
	{
		v1.POST("/conversations", s.createConversation)
		v1.POST("/conversations/:id/messages", s.generateResponse)
		v1.GET("/conversations/:id/summary", s.conversationSummary)
		v1.GET("/providers/status", s.providerStatus)
		v1.GET("/providers/:id/status", s.providerStatus)
		v1.GET("/users/:id/usage", s.userUsage)
	}

	mgmt := s.engine.Group("/v0/management", s.managementAuth())
	{
		mgmt.PUT("/providers/:id", s.putProvider)
		mgmt.DELETE("/providers/:id", s.deleteProvider)
		mgmt.POST("/providers/:id/check", s.checkProvider)
		if s.events != nil {
			mgmt.GET("/heartbeat/events", s.heartbeatEvents)
		}
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// SetConfig swaps the configuration after a reload.
func (s *Server) SetConfig(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	log.Infof("API server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	if s.ready != nil {
		if err := s.ready(c.Request.Context()); err != nil {
			log.Warnf("readiness check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

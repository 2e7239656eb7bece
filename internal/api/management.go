// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/traylinx/switchAIOrchestrator/internal/config"
	"github.com/traylinx/switchAIOrchestrator/internal/heartbeat"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
)

// ManagementKeyHeader carries the management secret.
const ManagementKeyHeader = "X-Management-Key"

// providerPayload is a provider entry as accepted by the management API.
// The credential reference is write-only.
type providerPayload struct {
	config.ProviderEntry
	Credential string `json:"credential"`
}

// managementAuth rejects requests without a valid management key. Management
// routes answer 404 when no secret is configured.
func (s *Server) managementAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := s.config()
		if cfg == nil || cfg.RemoteManagement.SecretKey == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "management_disabled"})
			return
		}
		key := c.GetHeader(ManagementKeyHeader)
		if key == "" {
			key = strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		}
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing_management_key"})
			return
		}
		if !cfg.CheckManagementKey(key) {
			log.WithField("remote", c.ClientIP()).Warn("management request with invalid key")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_management_key"})
			return
		}
		c.Next()
	}
}

func (s *Server) putProvider(c *gin.Context) {
	var payload providerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	id := c.Param("id")
	if payload.ID != "" && payload.ID != id {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "id in body does not match path"})
		return
	}
	payload.ID = id
	payload.ProviderEntry.Credential = payload.Credential
	payload.Models = config.NormalizeModels(payload.Models)
	payload.Headers = config.NormalizeHeaders(payload.Headers)

	interval := 5 * time.Minute
	if cfg := s.config(); cfg != nil {
		interval = config.ParseDurationOr(cfg.Heartbeat.Interval, interval)
		payload.CheckInterval = cfg.Heartbeat.ClampCheckInterval(payload.CheckInterval)
	}
	pc := registry.FromEntry(payload.ProviderEntry, interval)
	pc.Origin = registry.OriginManagement
	if err := s.admin.Upsert(pc); err != nil {
		var verr *registry.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		log.Errorf("management: upsert provider %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	log.WithField("provider", id).Info("management: provider upserted")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "id": id})
}

func (s *Server) deleteProvider(c *gin.Context) {
	id := c.Param("id")
	if err := s.admin.Remove(id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
			return
		}
		log.Errorf("management: remove provider %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	log.WithField("provider", id).Info("management: provider removed")
	c.JSON(http.StatusOK, gin.H{"status": "ok", "id": id})
}

func (s *Server) checkProvider(c *gin.Context) {
	id := c.Param("id")
	status, err := s.checker.CheckProvider(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "check_failed", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) heartbeatEvents(c *gin.Context) {
	var events []heartbeat.HeartbeatEvent
	if provider := c.Query("provider"); provider != "" {
		events = s.events.GetEventsForProvider(provider)
	} else {
		events = s.events.GetEvents()
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/traylinx/switchAIOrchestrator/internal/logging"
	"github.com/traylinx/switchAIOrchestrator/internal/orchestrator"
	"github.com/traylinx/switchAIOrchestrator/internal/registry"
	"github.com/traylinx/switchAIOrchestrator/internal/router"
)

// exhaustedMessage is shown to end users instead of a fabricated reply.
const exhaustedMessage = "No AI provider is available to answer right now. Please try again later."

type createConversationRequest struct {
	UserID    string `json:"user_id"`
	ConceptID string `json:"concept_id"`
	Title     string `json:"title"`
}

type messageRequest struct {
	Message               string   `json:"message"`
	ConceptID             string   `json:"concept_id"`
	PreferredProviderType string   `json:"preferred_provider_type"`
	Model                 string   `json:"model"`
	MaxTokens             int      `json:"max_tokens"`
	Temperature           *float64 `json:"temperature"`
}

func (s *Server) createConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	conv, err := s.service.CreateConversation(c.Request.Context(), req.UserID, req.ConceptID, req.Title)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         conv.ID,
		"user_id":    conv.UserID,
		"concept_id": conv.ConceptID,
		"created_at": conv.CreatedAt,
	})
}

func (s *Server) generateResponse(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	resp, err := s.service.GenerateResponse(c.Request.Context(), c.Param("id"), req.Message, orchestrator.Options{
		ConceptID:             req.ConceptID,
		PreferredProviderType: registry.ProviderType(req.PreferredProviderType),
		Model:                 req.Model,
		MaxTokens:             req.MaxTokens,
		Temperature:           req.Temperature,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) conversationSummary(c *gin.Context) {
	summary, err := s.service.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": c.Param("id"), "summary": summary})
}

func (s *Server) providerStatus(c *gin.Context) {
	id := c.Param("id")
	statuses, err := s.service.GetStatus(id)
	if err != nil {
		writeError(c, err)
		return
	}
	if id != "" && len(statuses) == 1 {
		c.JSON(http.StatusOK, statuses[0])
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": statuses})
}

func (s *Server) userUsage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "today": s.service.UserUsage(c.Param("id"))})
}

// writeError maps orchestrator errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	var exhausted *router.ExhaustedError
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, orchestrator.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.As(err, &exhausted):
		fallbacks := exhausted.FallbacksUsed
		if fallbacks == nil {
			fallbacks = []string{}
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error":          "all_providers_exhausted",
			"message":        exhaustedMessage,
			"attempts":       exhausted.Attempts,
			"fallbacks_used": fallbacks,
		})
	default:
		logging.FromContext(c.Request.Context()).Errorf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal server error"})
	}
}

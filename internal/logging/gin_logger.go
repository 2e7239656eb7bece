// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package logging

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type requestIDKey struct{}

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// GinLogrusLogger assigns a short request id, stores it in the request context
// and logs one line per request.
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()[:8]
		}
		c.Header(RequestIDHeader, reqID)
		c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), reqID))

		c.Next()

		entry := log.WithFields(log.Fields{
			"request_id": reqID,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).Round(time.Millisecond),
		})
		msg := c.Request.Method + " " + c.FullPath()
		switch {
		case c.Writer.Status() >= 500:
			entry.Warn(msg)
		default:
			entry.Debug(msg)
		}
	}
}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// FromContext returns a logrus entry tagged with the request id carried by ctx.
func FromContext(ctx context.Context) *log.Entry {
	if id := RequestID(ctx); id != "" {
		return log.WithField("request_id", id)
	}
	return log.NewEntry(log.StandardLogger())
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/symbridge/services/workspace/telemetry"
)

// shutdownTimeout bounds graceful shutdown in Serve.
const shutdownTimeout = 5 * time.Second

// RegisterRoutes registers the workspace endpoints on rg.
//
// Endpoints:
//
//	GET  /v1/workspace/health     - Workspace status
//	GET  /v1/workspace/files      - Loaded files
//	POST /v1/workspace/definition - Resolve a definition to a syntax node
//	POST /v1/workspace/rename     - Apply or preview a rename
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	ws := rg.Group("/workspace")
	ws.GET("/health", h.HandleHealth)
	ws.GET("/files", h.HandleFiles)
	ws.POST("/definition", h.HandleDefinition)
	ws.POST("/rename", h.HandleRename)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName names the otelgin spans.
	ServiceName string

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler

	// RateLimit caps workspace requests per second. Zero disables it.
	RateLimit float64

	// Burst is the request burst above RateLimit. Default: 1.
	Burst int
}

// NewRouter builds the engine with recovery, tracing, request IDs, and
// access logging.
func NewRouter(h *Handlers, opts RouterOptions) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "symbridge"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(requestIDMiddleware())
	router.Use(accessLogMiddleware())

	v1 := router.Group("/v1")
	if opts.RateLimit > 0 {
		v1.Use(rateLimitMiddleware(opts.RateLimit, opts.Burst))
	}
	RegisterRoutes(v1, h)

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return router
}

// errRateLimited is reported when the limiter rejects a request.
var errRateLimited = errors.New("rate limit exceeded")

// rateLimitMiddleware rejects requests above perSecond with 429. The limit
// is shared by all clients since one workspace serves them all.
func rateLimitMiddleware(perSecond float64, burst int) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.Header("Retry-After", "1")
			abortWithError(c, http.StatusTooManyRequests, "RATE_LIMITED", errRateLimited)
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(requestIDHeader, getOrCreateRequestID(c))
		c.Next()
	}
}

func accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger := telemetry.LoggerWithTrace(c.Request.Context(), slog.Default())
		logger.Debug("HTTP request",
			slog.String("request_id", c.GetString(requestIDHeader)),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
}

// Serve runs handler on addr until ctx is canceled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	slog.Info("HTTP server stopped", slog.String("address", addr))
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the workspace over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/symbridge/services/workspace"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
	"github.com/AleutianAI/symbridge/services/workspace/telemetry"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

const requestIDHeader = "X-Request-ID"

// Handlers contains the HTTP handlers for one workspace.
type Handlers struct {
	ws *workspace.Serialized
}

// NewHandlers creates handlers over ws.
func NewHandlers(ws *workspace.Serialized) *Handlers {
	return &Handlers{ws: ws}
}

// HandleHealth handles GET /v1/workspace/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	var resp HealthResponse
	_ = h.ws.Do(func(w *workspace.Workspace) error {
		st := w.Store()
		resp = HealthResponse{
			Status:        "healthy",
			Version:       ServiceVersion,
			Root:          st.Root(),
			Language:      st.Language(),
			Files:         st.Len(),
			ParseFailures: len(st.ParseFailures()),
		}
		return nil
	})
	c.JSON(http.StatusOK, resp)
}

// HandleFiles handles GET /v1/workspace/files.
func (h *Handlers) HandleFiles(c *gin.Context) {
	files := h.ws.Files()
	c.JSON(http.StatusOK, FilesResponse{Files: files, Count: len(files)})
}

// HandleDefinition handles POST /v1/workspace/definition.
//
// Response:
//
//	200 OK: DefinitionResponse (found=false when there were no candidates)
//	400 Bad Request: invalid body
//	404 Not Found: path not in the workspace
//	422 Unprocessable Entity: candidates did not reconcile
//	502 Bad Gateway: language server failure
func (h *Handlers) HandleDefinition(c *gin.Context) {
	logger := requestLogger(c, "HandleDefinition")

	var req DefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	def, err := h.ws.ResolveDefinition(c.Request.Context(), req.Path, req.Position())
	if err != nil {
		status, code := errorStatus(err)
		logger.Warn("Definition failed", slog.String("path", req.Path), slog.String("error", err.Error()), slog.String("code", code))
		abortWithError(c, status, code, err)
		return
	}

	c.JSON(http.StatusOK, DefinitionResponse{
		Found:      def != nil,
		Definition: NewDefinitionInfo(def),
	})
}

// HandleRename handles POST /v1/workspace/rename.
//
// Response:
//
//	200 OK: RenameResponse
//	400 Bad Request: invalid body or new name
//	404 Not Found: path not in the workspace
//	422 Unprocessable Entity: the server's edits were rejected
//	502 Bad Gateway: language server failure
func (h *Handlers) HandleRename(c *gin.Context) {
	logger := requestLogger(c, "HandleRename")

	var req RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", slog.String("error", err.Error()))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	ctx := c.Request.Context()
	if req.DryRun {
		plan, err := h.ws.PreviewRename(ctx, req.Path, req.Position(), req.NewName)
		if err != nil {
			h.renameFailed(c, logger, req, err)
			return
		}
		resp := RenameResponse{Modified: plan.Modified(), DryRun: true}
		if plan != nil {
			for _, f := range plan.Files {
				if f.Changed() {
					resp.Files = append(resp.Files, RenameFile{Path: f.Path, Edits: len(f.Edits)})
				}
			}
			d, err := plan.Diff()
			if err != nil {
				h.renameFailed(c, logger, req, err)
				return
			}
			resp.Diff = string(d)
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	modified, err := h.ws.ApplyRename(ctx, req.Path, req.Position(), req.NewName)
	if err != nil {
		h.renameFailed(c, logger, req, err)
		return
	}
	logger.Info("Rename applied", slog.String("path", req.Path), slog.String("new_name", req.NewName), slog.Int("modified", modified))
	c.JSON(http.StatusOK, RenameResponse{Modified: modified})
}

func (h *Handlers) renameFailed(c *gin.Context, logger *slog.Logger, req RenameRequest, err error) {
	status, code := errorStatus(err)
	logger.Warn("Rename failed", slog.String("path", req.Path), slog.String("new_name", req.NewName), slog.String("error", err.Error()), slog.String("code", code))
	abortWithError(c, status, code, err)
}

// errorStatus maps workspace errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	var lspErr *lsp.LSPError
	switch {
	case errors.Is(err, workspace.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, workspace.ErrInvalidName):
		return http.StatusBadRequest, "INVALID_NAME"
	case errors.Is(err, workspace.ErrUnresolvedDefinition):
		return http.StatusUnprocessableEntity, "UNRESOLVED_DEFINITION"
	case errors.Is(err, workspace.ErrMultiLineEditUnsupported):
		return http.StatusUnprocessableEntity, "MULTI_LINE_EDIT_UNSUPPORTED"
	case errors.Is(err, workspace.ErrEditOutOfRange),
		errors.Is(err, workspace.ErrOverlappingEdits):
		return http.StatusUnprocessableEntity, "INVALID_EDIT"
	case errors.Is(err, workspace.ErrInvalidLocation):
		return http.StatusUnprocessableEntity, "INVALID_LOCATION"
	case errors.As(err, &lspErr):
		if lspErr.IsRequestFailed() {
			return http.StatusUnprocessableEntity, "ANALYSIS_REJECTED"
		}
		return http.StatusBadGateway, "ANALYSIS_FAILED"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, lsp.ErrRequestTimeout):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, lsp.ErrServerCrashed),
		errors.Is(err, lsp.ErrServerNotRunning),
		errors.Is(err, lsp.ErrSessionReleased):
		return http.StatusServiceUnavailable, "ANALYSIS_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func abortWithError(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     err.Error(),
		Code:      code,
		RequestID: c.GetString(requestIDHeader),
	})
}

func requestLogger(c *gin.Context, handler string) *slog.Logger {
	logger := slog.With("request_id", c.GetString(requestIDHeader), "handler", handler)
	return telemetry.LoggerWithTrace(c.Request.Context(), logger)
}

// getOrCreateRequestID returns the caller's X-Request-ID or a new one, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header(requestIDHeader, requestID)
	return requestID
}

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
	"github.com/AleutianAI/symbridge/services/workspace"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

// HealthResponse is the response for GET /v1/workspace/health.
type HealthResponse struct {
	// Status is always "healthy" once the workspace is loaded.
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	Root     string `json:"root"`
	Language string `json:"language"`
	Files    int    `json:"files"`

	// ParseFailures counts files that could not be parsed at load.
	ParseFailures int `json:"parse_failures"`
}

// FilesResponse is the response for GET /v1/workspace/files.
type FilesResponse struct {
	Files []workspace.FileSummary `json:"files"`
	Count int                     `json:"count"`
}

// PositionRequest addresses a symbol by workspace-relative path and
// zero-based protocol position.
type PositionRequest struct {
	Path      string `json:"path" binding:"required"`
	Line      int    `json:"line" binding:"gte=0"`
	Character int    `json:"character" binding:"gte=0"`
}

// Position returns the protocol position.
func (r PositionRequest) Position() lsp.Position {
	return lsp.Position{Line: r.Line, Character: r.Character}
}

// DefinitionRequest is the body of POST /v1/workspace/definition.
type DefinitionRequest struct {
	PositionRequest
}

// DefinitionResponse is the response for POST /v1/workspace/definition.
// Definition is nil when the service had no candidates.
type DefinitionResponse struct {
	Found      bool            `json:"found"`
	Definition *DefinitionInfo `json:"definition,omitempty"`
}

// DefinitionInfo describes a resolved definition.
type DefinitionInfo struct {
	Path     string    `json:"path"`
	Location string    `json:"location"`
	Range    lsp.Range `json:"range"`

	// Kind is "node" or "file".
	Kind string `json:"kind"`

	// Name is the identifier text; empty for a whole-file target.
	Name string `json:"name,omitempty"`
}

// NewDefinitionInfo converts a resolved definition. Nil yields nil.
func NewDefinitionInfo(def *workspace.Definition) *DefinitionInfo {
	if def == nil {
		return nil
	}
	return &DefinitionInfo{
		Path:     def.Path,
		Location: def.Location,
		Range:    def.Range,
		Kind:     def.Kind.String(),
		Name:     def.Name,
	}
}

// RenameRequest is the body of POST /v1/workspace/rename.
type RenameRequest struct {
	PositionRequest

	NewName string `json:"new_name" binding:"required"`

	// DryRun plans and diffs the rename without applying it.
	DryRun bool `json:"dry_run"`
}

// RenameResponse is the response for POST /v1/workspace/rename.
type RenameResponse struct {
	// Modified is the number of files whose text changed, or would change
	// for a dry run.
	Modified int  `json:"modified"`
	DryRun   bool `json:"dry_run"`

	// Files lists the changed files of a dry run.
	Files []RenameFile `json:"files,omitempty"`

	// Diff is the unified diff of a dry run.
	Diff string `json:"diff,omitempty"`
}

// RenameFile summarizes one file of a planned rename.
type RenameFile struct {
	Path  string `json:"path"`
	Edits int    `json:"edits"`
}

// ErrorResponse is returned for failed requests.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code"`

	RequestID string `json:"request_id,omitempty"`
}

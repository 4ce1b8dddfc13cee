// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AleutianAI/symbridge/services/workspace/lsp"
	"github.com/AleutianAI/symbridge/services/workspace/store"
)

// Serialized runs workspace operations one at a time.
//
// The HTTP and MCP surfaces and the file watcher share one Serialized so
// that a rename never interleaves with a definition lookup or a reload.
type Serialized struct {
	mu sync.Mutex
	ws *Workspace
}

// NewSerialized wraps ws.
func NewSerialized(ws *Workspace) *Serialized {
	return &Serialized{ws: ws}
}

// Do runs fn with exclusive access to the workspace.
func (s *Serialized) Do(fn func(*Workspace) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.ws)
}

// ResolveDefinition is Workspace.ResolveDefinition under the lock.
func (s *Serialized) ResolveDefinition(ctx context.Context, path string, pos lsp.Position) (*Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.ResolveDefinition(ctx, path, pos)
}

// ApplyRename is Workspace.ApplyRename under the lock.
func (s *Serialized) ApplyRename(ctx context.Context, path string, pos lsp.Position, newName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.ApplyRename(ctx, path, pos, newName)
}

// PreviewRename is Workspace.PreviewRename under the lock.
func (s *Serialized) PreviewRename(ctx context.Context, path string, pos lsp.Position, newName string) (*RenamePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.PreviewRename(ctx, path, pos, newName)
}

// ApplyPlan is Workspace.ApplyPlan under the lock.
func (s *Serialized) ApplyPlan(ctx context.Context, plan *RenamePlan) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.ApplyPlan(ctx, plan)
}

// Files is Workspace.Files under the lock.
func (s *Serialized) Files() []FileSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Files()
}

// Identifiers is Workspace.Identifiers under the lock.
func (s *Serialized) Identifiers(path string) ([]Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Identifiers(path)
}

// Text is Workspace.Text under the lock.
func (s *Serialized) Text(path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.Text(path)
}

// ApplyChanges feeds watcher changes into the store under the lock. It
// satisfies store.ApplyFunc.
func (s *Serialized) ApplyChanges(ctx context.Context, changes []store.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.store.Apply(ctx, changes); err != nil {
		slog.Warn("Applying file changes failed", slog.Int("changes", len(changes)), slog.String("error", err.Error()))
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace joins a syntax store with a language server.
//
// The Workspace resolves definitions to syntax nodes and applies renames
// so that every file's tree always matches its text. It is the only
// component that talks to both sides; the store knows nothing about the
// server and the server knows nothing about trees.
//
// # Thread Safety
//
// Workspace is single-threaded. Surfaces that serve concurrent callers
// wrap it in Serialized.
package workspace

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
	"github.com/AleutianAI/symbridge/services/workspace/coordinate"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
	"github.com/AleutianAI/symbridge/services/workspace/store"
)

// AnalysisService is the language server as the workspace uses it.
// *lsp.Session implements it.
type AnalysisService interface {
	// Definition returns candidate definition locations in service order.
	Definition(ctx context.Context, uri string, pos lsp.Position) ([]lsp.Location, error)

	// Rename returns the edits for a rename, or nil when the service
	// declines.
	Rename(ctx context.Context, uri string, pos lsp.Position, newName string) (*lsp.WorkspaceEdit, error)

	// SyncDocument tells the service the current text of a document.
	SyncDocument(ctx context.Context, uri, text string) error

	// PositionEncoding is the column unit of every position exchanged.
	PositionEncoding() ast.PositionEncoding
}

var _ AnalysisService = (*lsp.Session)(nil)

// Option configures a Workspace.
type Option func(*Workspace)

// WithWriteThrough makes ApplyRename also write changed files to disk.
func WithWriteThrough(enabled bool) Option {
	return func(w *Workspace) { w.writeThrough = enabled }
}

// Workspace resolves definitions and applies renames over one store.
type Workspace struct {
	store        *store.Store
	service      AnalysisService
	reconciler   *coordinate.Reconciler
	writeThrough bool
}

// New creates a workspace over st that queries svc.
func New(st *store.Store, svc AnalysisService, opts ...Option) *Workspace {
	w := &Workspace{
		store:      st,
		service:    svc,
		reconciler: coordinate.New(svc.PositionEncoding()),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Store returns the underlying store.
func (w *Workspace) Store() *store.Store {
	return w.store
}

// Reconciler returns the reconciler matching the service's encoding.
func (w *Workspace) Reconciler() *coordinate.Reconciler {
	return w.reconciler
}

// FileSummary describes one loaded file.
type FileSummary struct {
	Path        string `json:"path"`
	Location    string `json:"location"`
	Lines       int    `json:"lines"`
	Bytes       int    `json:"bytes"`
	Identifiers int    `json:"identifiers"`
	HasErrors   bool   `json:"has_errors"`
}

// Files summarizes every loaded file, sorted by path.
func (w *Workspace) Files() []FileSummary {
	paths := w.store.Paths()
	out := make([]FileSummary, 0, len(paths))
	for _, p := range paths {
		rec, err := w.store.GetByRelativePath(p)
		if err != nil {
			continue
		}
		out = append(out, FileSummary{
			Path:        rec.Path,
			Location:    w.store.LocationOf(rec.Path),
			Lines:       rec.Tree.LineCount(),
			Bytes:       len(rec.Text),
			Identifiers: len(rec.Tree.Identifiers()),
			HasErrors:   rec.Tree.HasErrors(),
		})
	}
	return out
}

// Identifier is one identifier node with its protocol range.
type Identifier struct {
	Name  string
	Range lsp.Range
	Node  *sitter.Node
}

// Identifiers lists the identifiers of path in document order.
func (w *Workspace) Identifiers(path string) ([]Identifier, error) {
	rec, err := w.store.GetByRelativePath(path)
	if err != nil {
		return nil, err
	}
	nodes := rec.Tree.Identifiers()
	out := make([]Identifier, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Identifier{
			Name:  rec.Tree.NodeText(n),
			Range: w.reconciler.RangeOf(rec.Tree, n),
			Node:  n,
		})
	}
	return out, nil
}

// Text returns the current text of path.
func (w *Workspace) Text(path string) (string, error) {
	rec, err := w.store.GetByRelativePath(path)
	if err != nil {
		return "", err
	}
	return string(rec.Text), nil
}

// sync pushes a record's current text to the service.
func (w *Workspace) sync(ctx context.Context, rec store.FileRecord) error {
	uri := w.store.LocationOf(rec.Path)
	if err := w.service.SyncDocument(ctx, uri, string(rec.Text)); err != nil {
		return fmt.Errorf("sync %s: %w", rec.Path, err)
	}
	return nil
}

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
	"errors"
	"fmt"
	"log/slog"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/symbridge/services/workspace/coordinate"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

// Definition is a resolved definition target.
type Definition struct {
	// Path is the workspace-relative file holding the definition.
	Path string

	// Location is the file URI of Path.
	Location string

	// Range is the candidate range that reconciled.
	Range lsp.Range

	// Kind is coordinate.MatchNode or coordinate.MatchFileSentinel.
	Kind coordinate.MatchKind

	// Node is the identifier node. Nil for the file sentinel.
	Node *sitter.Node

	// Name is the identifier text, or the empty string for the file
	// sentinel.
	Name string
}

// IsFile reports whether the definition is the whole file.
func (d *Definition) IsFile() bool {
	return d.Kind == coordinate.MatchFileSentinel
}

// ResolveDefinition asks the service where the symbol at pos in path is
// defined and maps the answer back onto a syntax node.
//
// Description:
//
//	The current text of path is synced to the service first. Candidates
//	are tried in service order; one outside the workspace, naming a file
//	that is not loaded, or whose range matches no identifier and is not
//	the file sentinel is skipped. The first candidate that reconciles
//	wins.
//
// Outputs:
//
//	*Definition - The resolved target, or nil when the service returned
//	              no candidates
//	error - ErrNotFound if path is not loaded; ErrUnresolvedDefinition if
//	        candidates existed but none reconciled; service errors are
//	        returned wrapped
func (w *Workspace) ResolveDefinition(ctx context.Context, path string, pos lsp.Position) (def *Definition, err error) {
	start := time.Now()
	ctx, span := startSpan(ctx, "workspace.ResolveDefinition", path, pos.Line, pos.Character)
	defer func() {
		outcome := definitionOutcome(def, err)
		endSpan(span, err, attribute.String("workspace.outcome", outcome))
		recordDefinitionMetrics(ctx, outcome, time.Since(start))
	}()

	rec, err := w.store.GetByRelativePath(path)
	if err != nil {
		return nil, err
	}
	if err := w.sync(ctx, rec); err != nil {
		return nil, err
	}

	candidates, err := w.service.Definition(ctx, w.store.LocationOf(rec.Path), pos)
	if err != nil {
		return nil, fmt.Errorf("definition %s %s: %w", rec.Path, pos, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	for _, c := range candidates {
		target, err := w.store.GetByLocation(c.URI)
		if err != nil {
			slog.Debug("Skipping definition candidate",
				slog.String("uri", c.URI),
				slog.String("range", c.Range.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		m := w.reconciler.Reconcile(target.Tree, c.Range)
		if !m.Found() {
			slog.Debug("Definition candidate matches no identifier",
				slog.String("path", target.Path),
				slog.String("range", c.Range.String()),
			)
			continue
		}
		return &Definition{
			Path:     target.Path,
			Location: c.URI,
			Range:    c.Range,
			Kind:     m.Kind,
			Node:     m.Node,
			Name:     target.Tree.NodeText(m.Node),
		}, nil
	}

	return nil, fmt.Errorf("%w: %d candidates for %s %s", ErrUnresolvedDefinition, len(candidates), rec.Path, pos)
}

// ResolveNodeDefinition resolves the definition of an identifier node of
// path. The node must come from the file's current tree.
func (w *Workspace) ResolveNodeDefinition(ctx context.Context, path string, node *sitter.Node) (*Definition, error) {
	rec, err := w.store.GetByRelativePath(path)
	if err != nil {
		return nil, err
	}
	return w.ResolveDefinition(ctx, rec.Path, w.reconciler.PositionOf(rec.Tree, node))
}

// Resolution pairs an identifier with the outcome of resolving it.
type Resolution struct {
	Identifier Identifier

	// Definition is nil when the service had no answer or Err is set.
	Definition *Definition

	// Err is the per-identifier failure, typically ErrUnresolvedDefinition.
	Err error
}

// ResolveAll resolves every identifier of path in document order.
//
// Per-identifier failures are reported in the results. Only a failure to
// find path, a service failure, or ctx cancellation aborts the walk.
func (w *Workspace) ResolveAll(ctx context.Context, path string) ([]Resolution, error) {
	idents, err := w.Identifiers(path)
	if err != nil {
		return nil, err
	}

	out := make([]Resolution, 0, len(idents))
	for _, id := range idents {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		def, err := w.ResolveDefinition(ctx, path, id.Range.Start)
		if err != nil && !errors.Is(err, ErrUnresolvedDefinition) {
			return out, err
		}
		out = append(out, Resolution{Identifier: id, Definition: def, Err: err})
	}
	return out, nil
}

func definitionOutcome(def *Definition, err error) string {
	switch {
	case errors.Is(err, ErrUnresolvedDefinition):
		return "unresolved"
	case err != nil:
		return "error"
	case def == nil:
		return "empty"
	default:
		return def.Kind.String()
	}
}

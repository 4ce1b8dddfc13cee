// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinate maps language-server ranges onto syntax tree nodes.
//
// Servers count columns in their negotiated position encoding while
// tree-sitter counts bytes. A Reconciler converts between the two using
// the text of the line being addressed, and matches only on exact range
// equality: there is no containment or nearest-node fallback.
package coordinate

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

// SentinelRange is the range servers report for a module-level definition
// that has no identifier node at its position: the first character of
// the file.
var SentinelRange = lsp.Range{
	Start: lsp.Position{Line: 0, Character: 0},
	End:   lsp.Position{Line: 0, Character: 1},
}

// MatchKind is the outcome of reconciling one range.
type MatchKind int

const (
	// MatchNone means no identifier has exactly the range.
	MatchNone MatchKind = iota

	// MatchNode means an identifier node has exactly the range.
	MatchNode

	// MatchFileSentinel means no identifier matched and the range is
	// SentinelRange; the whole file is the target.
	MatchFileSentinel
)

// String returns the kind name.
func (k MatchKind) String() string {
	switch k {
	case MatchNode:
		return "node"
	case MatchFileSentinel:
		return "file"
	default:
		return "none"
	}
}

// Match is the result of Reconcile.
type Match struct {
	Kind MatchKind

	// Node is the matched identifier. Nil unless Kind is MatchNode.
	Node *sitter.Node

	// Range is the reconciled range in protocol coordinates.
	Range lsp.Range
}

// Found reports whether the range reconciled to a node or the file.
func (m Match) Found() bool {
	return m.Kind != MatchNone
}

// Reconciler converts between protocol positions and tree points for one
// position encoding.
//
// Thread Safety:
//
//	Safe for concurrent use; it holds no mutable state.
type Reconciler struct {
	encoding ast.PositionEncoding
}

// New returns a Reconciler for enc. Unknown or empty encodings fall back
// to UTF-16, the protocol default.
func New(enc ast.PositionEncoding) *Reconciler {
	if !enc.Valid() {
		enc = ast.EncodingUTF16
	}
	return &Reconciler{encoding: enc}
}

var defaultReconciler = New(ast.EncodingUTF16)

// Reconcile matches rng against tree's identifiers using UTF-16 columns.
func Reconcile(tree *ast.Tree, rng lsp.Range) Match {
	return defaultReconciler.Reconcile(tree, rng)
}

// Encoding returns the column unit this reconciler speaks.
func (r *Reconciler) Encoding() ast.PositionEncoding {
	return r.encoding
}

// Reconcile finds the identifier node whose range equals rng exactly.
//
// Description:
//
//	Identifiers are visited in document order and the first exact match
//	wins. When none matches and rng is SentinelRange the result is
//	MatchFileSentinel, even if the tree has no identifiers at all.
//	Anything else is MatchNone.
func (r *Reconciler) Reconcile(tree *ast.Tree, rng lsp.Range) Match {
	for _, n := range tree.Identifiers() {
		if r.RangeOf(tree, n) == rng {
			return Match{Kind: MatchNode, Node: n, Range: rng}
		}
	}
	if rng == SentinelRange {
		return Match{Kind: MatchFileSentinel, Range: rng}
	}
	return Match{Kind: MatchNone, Range: rng}
}

// RangeOf returns node's range in protocol coordinates.
func (r *Reconciler) RangeOf(tree *ast.Tree, node *sitter.Node) lsp.Range {
	return lsp.Range{
		Start: r.position(tree, ast.PointOf(node.StartPoint())),
		End:   r.position(tree, ast.PointOf(node.EndPoint())),
	}
}

// PositionOf returns the protocol position of node's start, suitable for
// a definition or rename request on that node.
func (r *Reconciler) PositionOf(tree *ast.Tree, node *sitter.Node) lsp.Position {
	return r.position(tree, ast.PointOf(node.StartPoint()))
}

// ToPoint converts a protocol position to a tree point.
//
// Outputs:
//
//	ast.Point - Row and byte column
//	bool - False if the line does not exist, the column is past the end of
//	       the line, or it splits a character
func (r *Reconciler) ToPoint(tree *ast.Tree, pos lsp.Position) (ast.Point, bool) {
	line := tree.Line(pos.Line)
	if line == nil {
		return ast.Point{}, false
	}
	col, ok := r.encoding.ToByteColumn(line, pos.Character)
	if !ok {
		return ast.Point{}, false
	}
	return ast.Point{Row: pos.Line, Column: col}, true
}

func (r *Reconciler) position(tree *ast.Tree, p ast.Point) lsp.Position {
	return lsp.Position{
		Line:      p.Row,
		Character: r.encoding.FromByteColumn(tree.Line(p.Row), p.Column),
	}
}

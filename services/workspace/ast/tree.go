// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"bytes"

	sitter "github.com/smacker/go-tree-sitter"
)

// Tree is a parsed file: the exact source bytes and the tree-sitter tree
// built from them.
//
// A Tree is immutable. Changing a file means parsing the new text into a
// new Tree; the old one is released by the garbage collector.
//
// Thread Safety:
//
//	Safe for concurrent reads.
type Tree struct {
	source      []byte
	tree        *sitter.Tree
	identifiers *sitter.Query
	lineStarts  []int
}

func newTree(source []byte, tree *sitter.Tree, identifiers *sitter.Query) *Tree {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Tree{
		source:      source,
		tree:        tree,
		identifiers: identifiers,
		lineStarts:  starts,
	}
}

// Text returns the source bytes the tree was parsed from.
//
// The returned slice is shared with the tree; callers must not modify it.
func (t *Tree) Text() []byte {
	return t.source
}

// Root returns the root node of the tree.
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// HasErrors reports whether tree-sitter recovered from syntax errors.
func (t *Tree) HasErrors() bool {
	return t.tree.RootNode().HasError()
}

// LineCount returns the number of lines in the source. A trailing newline
// starts a final empty line.
func (t *Tree) LineCount() int {
	return len(t.lineStarts)
}

// Line returns the bytes of the given 0-based row without its line
// terminator, "\n" or "\r\n". Returns nil when row is out of range.
func (t *Tree) Line(row int) []byte {
	if row < 0 || row >= len(t.lineStarts) {
		return nil
	}
	start := t.lineStarts[row]
	end := len(t.source)
	if row+1 < len(t.lineStarts) {
		end = t.lineStarts[row+1] - 1
	}
	return bytes.TrimSuffix(t.source[start:end], []byte("\r"))
}

// NodeText returns the source text spanned by n.
func (t *Tree) NodeText(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(t.source)
}

// Identifiers returns every node captured by the grammar's identifier
// query, in document order.
func (t *Tree) Identifiers() []*sitter.Node {
	qc := sitter.NewQueryCursor()
	defer qc.Close()

	qc.Exec(t.identifiers, t.tree.RootNode())

	var nodes []*sitter.Node
	for {
		match, ok := qc.NextMatch()
		if !ok {
			break
		}
		match = qc.FilterPredicates(match, t.source)
		for _, capture := range match.Captures {
			nodes = append(nodes, capture.Node)
		}
	}
	return nodes
}

// IdentifierAt returns the identifier node that starts at point, or nil.
func (t *Tree) IdentifierAt(point Point) *sitter.Node {
	for _, n := range t.Identifiers() {
		if PointOf(n.StartPoint()) == point {
			return n
		}
	}
	return nil
}

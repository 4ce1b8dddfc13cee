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
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Point is a 0-based (row, byte column) position in a tree.
type Point struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

// PointOf converts a tree-sitter point.
func PointOf(p sitter.Point) Point {
	return Point{Row: int(p.Row), Column: int(p.Column)}
}

// String returns "row:column".
func (p Point) String() string {
	return fmt.Sprintf("%d:%d", p.Row, p.Column)
}

// Range is the span of a syntax node.
type Range struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// RangeOf returns the range spanned by n.
func RangeOf(n *sitter.Node) Range {
	return Range{
		Start: PointOf(n.StartPoint()),
		End:   PointOf(n.EndPoint()),
	}
}

// SingleLine reports whether the range starts and ends on the same row.
func (r Range) SingleLine() bool {
	return r.Start.Row == r.End.Row
}

// String returns "start-end".
func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}

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
	"bytes"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/sourcegraph/go-diff/diff"
)

// diffContext is the number of unchanged lines around each hunk.
const diffContext = 3

// FileDiffs returns a unified diff per changed file of the plan.
func (p *RenamePlan) FileDiffs() []*diff.FileDiff {
	if p == nil {
		return nil
	}
	var out []*diff.FileDiff
	for _, f := range p.Files {
		if !f.Changed() {
			continue
		}
		out = append(out, &diff.FileDiff{
			OrigName: "a/" + f.Path,
			NewName:  "b/" + f.Path,
			Hunks:    hunks(string(f.Before), string(f.After)),
		})
	}
	return out
}

// Diff renders the plan as a multi-file unified diff.
func (p *RenamePlan) Diff() ([]byte, error) {
	fds := p.FileDiffs()
	if len(fds) == 0 {
		return nil, nil
	}
	return diff.PrintMultiFileDiff(fds)
}

func hunks(before, after string) []*diff.Hunk {
	a, b := splitLines(before), splitLines(after)
	m := difflib.NewMatcher(a, b)

	var out []*diff.Hunk
	for _, group := range m.GetGroupedOpCodes(diffContext) {
		first, last := group[0], group[len(group)-1]

		var body bytes.Buffer
		for _, op := range group {
			switch op.Tag {
			case 'e':
				writeLines(&body, ' ', a[op.I1:op.I2])
			case 'd':
				writeLines(&body, '-', a[op.I1:op.I2])
			case 'i':
				writeLines(&body, '+', b[op.J1:op.J2])
			case 'r':
				writeLines(&body, '-', a[op.I1:op.I2])
				writeLines(&body, '+', b[op.J1:op.J2])
			}
		}

		h := &diff.Hunk{
			OrigStartLine: int32(first.I1),
			OrigLines:     int32(last.I2 - first.I1),
			NewStartLine:  int32(first.J1),
			NewLines:      int32(last.J2 - first.J1),
			Body:          body.Bytes(),
		}
		if h.OrigLines > 0 {
			h.OrigStartLine++
		}
		if h.NewLines > 0 {
			h.NewStartLine++
		}
		out = append(out, h)
	}
	return out
}

// splitLines splits s after each newline without a trailing empty line.
func splitLines(s string) []string {
	lines := strings.SplitAfter(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

func writeLines(buf *bytes.Buffer, prefix byte, lines []string) {
	for _, l := range lines {
		buf.WriteByte(prefix)
		buf.WriteString(l)
		if !strings.HasSuffix(l, "\n") {
			buf.WriteByte('\n')
		}
	}
}

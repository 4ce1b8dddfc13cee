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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
	"github.com/AleutianAI/symbridge/services/workspace/store"
)

// Edit is a single-line replacement in protocol columns.
type Edit struct {
	Line        int
	StartColumn int
	EndColumn   int
	NewText     string
}

// FileChange is the planned new content of one file.
type FileChange struct {
	Path     string
	Location string
	Edits    []Edit
	Before   []byte
	After    []byte
}

// Changed reports whether the edits alter the file.
func (c FileChange) Changed() bool {
	return !bytes.Equal(c.Before, c.After)
}

// RenamePlan is a validated rename that has not been applied.
type RenamePlan struct {
	NewName string
	Files   []FileChange
}

// Modified returns the number of files whose text the plan changes.
func (p *RenamePlan) Modified() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, f := range p.Files {
		if f.Changed() {
			n++
		}
	}
	return n
}

// ApplyRename renames the symbol at pos in path to newName across the
// workspace.
//
// Description:
//
//	The service is asked for the edits. Every batch is validated before
//	anything changes: all edits must be single-line, lie inside their file,
//	and not overlap. Each file's edits are then applied from the end of the
//	file backwards so earlier coordinates stay valid, the lines are
//	rejoined with "\n", and all files are re-parsed and swapped in one
//	step. Changed documents are synced back to the service and, with
//	WithWriteThrough, written to disk.
//
// Outputs:
//
//	int - Number of files whose text changed; 0 when the service declined
//	error - ErrMultiLineEditUnsupported, ErrEditOutOfRange,
//	        ErrOverlappingEdits, ErrInvalidLocation, or ErrNotFound with no
//	        file modified; ErrIO if writing through to disk failed after
//	        the store was updated
func (w *Workspace) ApplyRename(ctx context.Context, path string, pos lsp.Position, newName string) (modified int, err error) {
	ctx, span := startSpan(ctx, "workspace.ApplyRename", path, pos.Line, pos.Character)
	defer func() {
		outcome := "applied"
		switch {
		case err != nil:
			outcome = "rejected"
		case modified == 0:
			outcome = "empty"
		}
		endSpan(span, err, attribute.Int("workspace.files_modified", modified))
		recordRenameMetrics(ctx, outcome, modified)
	}()

	plan, err := w.planRename(ctx, path, pos, newName)
	if err != nil {
		return 0, err
	}
	return w.commit(ctx, plan)
}

// RenameNode renames an identifier node of path. The node must come from
// the file's current tree.
func (w *Workspace) RenameNode(ctx context.Context, path string, node *sitter.Node, newName string) (int, error) {
	rec, err := w.store.GetByRelativePath(path)
	if err != nil {
		return 0, err
	}
	return w.ApplyRename(ctx, rec.Path, w.reconciler.PositionOf(rec.Tree, node), newName)
}

// PreviewRename validates a rename and returns the plan without applying
// it. A nil plan means the service declined.
func (w *Workspace) PreviewRename(ctx context.Context, path string, pos lsp.Position, newName string) (*RenamePlan, error) {
	return w.planRename(ctx, path, pos, newName)
}

// ApplyPlan commits a plan from PreviewRename. Every file the plan changes
// must still hold the text the plan was made from; otherwise ErrStalePlan
// is returned and nothing changes.
func (w *Workspace) ApplyPlan(ctx context.Context, plan *RenamePlan) (int, error) {
	if plan == nil {
		return 0, nil
	}
	for _, f := range plan.Files {
		if !f.Changed() {
			continue
		}
		rec, err := w.store.GetByRelativePath(f.Path)
		if err != nil {
			return 0, err
		}
		if !bytes.Equal(rec.Text, f.Before) {
			return 0, fmt.Errorf("%w: %s", ErrStalePlan, f.Path)
		}
	}
	n, err := w.commit(ctx, plan)
	outcome := "applied"
	if err != nil {
		outcome = "rejected"
	}
	recordRenameMetrics(ctx, outcome, n)
	return n, err
}

func (w *Workspace) planRename(ctx context.Context, path string, pos lsp.Position, newName string) (*RenamePlan, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, ErrInvalidName
	}
	rec, err := w.store.GetByRelativePath(path)
	if err != nil {
		return nil, err
	}
	if err := w.sync(ctx, rec); err != nil {
		return nil, err
	}

	edit, err := w.service.Rename(ctx, w.store.LocationOf(rec.Path), pos, newName)
	if err != nil {
		return nil, fmt.Errorf("rename %s %s: %w", rec.Path, pos, err)
	}
	batches := mergeBatches(edit.Batches())
	if len(batches) == 0 {
		return nil, nil
	}

	// Reject the whole rename on the first unsupported edit, before any
	// file is touched.
	for _, b := range batches {
		for _, e := range b.Edits {
			if !e.Range.SingleLine() {
				return nil, fmt.Errorf("%w: %s %s", ErrMultiLineEditUnsupported, b.URI, e.Range)
			}
		}
	}

	plan := &RenamePlan{NewName: newName}
	for _, b := range batches {
		target, err := w.store.GetByLocation(b.URI)
		if err != nil {
			return nil, err
		}
		edits := make([]Edit, 0, len(b.Edits))
		for _, e := range b.Edits {
			edits = append(edits, Edit{
				Line:        e.Range.Start.Line,
				StartColumn: e.Range.Start.Character,
				EndColumn:   e.Range.End.Character,
				NewText:     e.NewText,
			})
		}
		after, err := applyEdits(target.Text, edits, w.reconciler.Encoding())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", target.Path, err)
		}
		plan.Files = append(plan.Files, FileChange{
			Path:     target.Path,
			Location: w.store.LocationOf(target.Path),
			Edits:    edits,
			Before:   target.Text,
			After:    after,
		})
	}
	return plan, nil
}

// commit swaps every changed file into the store at once, then syncs the
// service and the disk.
func (w *Workspace) commit(ctx context.Context, plan *RenamePlan) (int, error) {
	if plan == nil {
		return 0, nil
	}

	var updates []store.Update
	for _, f := range plan.Files {
		if f.Changed() {
			updates = append(updates, store.Update{Path: f.Path, Text: f.After})
		}
	}
	if len(updates) == 0 {
		return 0, nil
	}
	if err := w.store.ReplaceAll(ctx, updates); err != nil {
		return 0, err
	}

	var errs []error
	for _, u := range updates {
		rec, err := w.store.GetByRelativePath(u.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := w.sync(ctx, rec); err != nil {
			slog.Warn("Syncing renamed document failed",
				slog.String("path", u.Path),
				slog.String("error", err.Error()),
			)
		}
		if w.writeThrough {
			if err := writeFile(w.store.AbsPath(u.Path), rec.Text); err != nil {
				errs = append(errs, err)
			}
		}
	}

	slog.Info("Rename applied",
		slog.String("new_name", plan.NewName),
		slog.Int("files_modified", len(updates)),
		slog.Bool("write_through", w.writeThrough),
	)
	return len(updates), errors.Join(errs...)
}

// mergeBatches folds batches addressing the same document into one,
// keeping first-appearance order.
func mergeBatches(batches []lsp.FileEdits) []lsp.FileEdits {
	var out []lsp.FileEdits
	index := make(map[string]int, len(batches))
	for _, b := range batches {
		if len(b.Edits) == 0 {
			continue
		}
		if i, ok := index[b.URI]; ok {
			out[i].Edits = append(out[i].Edits, b.Edits...)
			continue
		}
		index[b.URI] = len(out)
		out = append(out, lsp.FileEdits{URI: b.URI, Edits: append([]lsp.TextEdit(nil), b.Edits...)})
	}
	return out
}

// resolvedEdit is an Edit with its columns converted to byte offsets. index
// is the edit's position in the server's list.
type resolvedEdit struct {
	Edit
	start, end int
	index      int
}

// applyEdits applies single-line edits to text and returns the new text.
// text is not modified.
//
// Edits are applied in descending (line, column) order. Edits sharing a
// start position are merged first, their texts joined in list order. A
// line's trailing "\r" is not addressable.
func applyEdits(text []byte, edits []Edit, enc ast.PositionEncoding) ([]byte, error) {
	lines := bytes.Split(text, []byte("\n"))

	resolved := make([]resolvedEdit, 0, len(edits))
	for i, e := range edits {
		if e.Line < 0 || e.Line >= len(lines) {
			return nil, fmt.Errorf("%w: line %d of %d", ErrEditOutOfRange, e.Line, len(lines))
		}
		line := bytes.TrimSuffix(lines[e.Line], []byte("\r"))
		start, ok := enc.ToByteColumn(line, e.StartColumn)
		if !ok {
			return nil, fmt.Errorf("%w: %d:%d", ErrEditOutOfRange, e.Line, e.StartColumn)
		}
		end, ok := enc.ToByteColumn(line, e.EndColumn)
		if !ok || end < start {
			return nil, fmt.Errorf("%w: %d:%d", ErrEditOutOfRange, e.Line, e.EndColumn)
		}
		resolved = append(resolved, resolvedEdit{Edit: e, start: start, end: end, index: i})
	}

	sort.Slice(resolved, func(i, j int) bool {
		a, b := resolved[i], resolved[j]
		if a.Line != b.Line {
			return a.Line > b.Line
		}
		if a.start != b.start {
			return a.start > b.start
		}
		return a.index < b.index
	})
	merged, err := mergeSameStart(resolved)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(merged); i++ {
		prev, cur := merged[i-1], merged[i]
		if prev.Line == cur.Line && cur.end > prev.start {
			return nil, overlapError(cur, prev)
		}
	}

	out := make([][]byte, len(lines))
	copy(out, lines)
	for _, e := range merged {
		line := out[e.Line]
		var b bytes.Buffer
		b.Grow(len(line) - (e.end - e.start) + len(e.NewText))
		b.Write(line[:e.start])
		b.WriteString(e.NewText)
		b.Write(line[e.end:])
		out[e.Line] = b.Bytes()
	}
	return bytes.Join(out, []byte("\n")), nil
}

// mergeSameStart folds runs of edits with the same line and start into one
// edit. sorted must group those runs in list order. At most one edit in a
// run may replace text; the rest are insertions.
func mergeSameStart(sorted []resolvedEdit) ([]resolvedEdit, error) {
	out := make([]resolvedEdit, 0, len(sorted))
	for _, e := range sorted {
		n := len(out)
		if n == 0 || out[n-1].Line != e.Line || out[n-1].start != e.start {
			out = append(out, e)
			continue
		}
		last := &out[n-1]
		if last.end > last.start && e.end > e.start {
			return nil, overlapError(e, *last)
		}
		if e.end > last.end {
			last.end = e.end
			last.EndColumn = e.EndColumn
		}
		last.NewText += e.NewText
	}
	return out, nil
}

func overlapError(a, b resolvedEdit) error {
	return fmt.Errorf("%w: line %d columns %d-%d and %d-%d",
		ErrOverlappingEdits, a.Line, a.StartColumn, a.EndColumn, b.StartColumn, b.EndColumn)
}

// writeFile replaces path's content, keeping its permissions.
func writeFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrIO, path, err)
	}
	return nil
}

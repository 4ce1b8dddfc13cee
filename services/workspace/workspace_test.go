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
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
	"github.com/AleutianAI/symbridge/services/workspace/coordinate"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
	"github.com/AleutianAI/symbridge/services/workspace/store"
)

// =============================================================================
// FAKE SERVICE
// =============================================================================

type fakeService struct {
	mu sync.Mutex

	encoding    ast.PositionEncoding
	definitions func(uri string, pos lsp.Position) ([]lsp.Location, error)
	rename      func(uri string, pos lsp.Position, newName string) (*lsp.WorkspaceEdit, error)

	synced      map[string]string
	syncCount   int
	renameCalls int
}

func newFakeService() *fakeService {
	return &fakeService{encoding: ast.EncodingUTF16, synced: make(map[string]string)}
}

func (f *fakeService) Definition(_ context.Context, uri string, pos lsp.Position) ([]lsp.Location, error) {
	if f.definitions == nil {
		return nil, nil
	}
	return f.definitions(uri, pos)
}

func (f *fakeService) Rename(_ context.Context, uri string, pos lsp.Position, newName string) (*lsp.WorkspaceEdit, error) {
	f.mu.Lock()
	f.renameCalls++
	f.mu.Unlock()
	if f.rename == nil {
		return nil, nil
	}
	return f.rename(uri, pos, newName)
}

func (f *fakeService) SyncDocument(_ context.Context, uri, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced[uri] = text
	f.syncCount++
	return nil
}

func (f *fakeService) PositionEncoding() ast.PositionEncoding {
	return f.encoding
}

// =============================================================================
// HELPERS
// =============================================================================

func rng(sl, sc, el, ec int) lsp.Range {
	return lsp.Range{
		Start: lsp.Position{Line: sl, Character: sc},
		End:   lsp.Position{Line: el, Character: ec},
	}
}

func pos(line, character int) lsp.Position {
	return lsp.Position{Line: line, Character: character}
}

func newWorkspace(t *testing.T, files map[string]string, opts ...Option) (*Workspace, *fakeService) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	st, err := store.Load(context.Background(), root, ".py")
	require.NoError(t, err)
	svc := newFakeService()
	return New(st, svc, opts...), svc
}

func locations(ls ...lsp.Location) func(string, lsp.Position) ([]lsp.Location, error) {
	return func(string, lsp.Position) ([]lsp.Location, error) { return ls, nil }
}

func edits(ws *Workspace, byPath map[string][]lsp.TextEdit) func(string, lsp.Position, string) (*lsp.WorkspaceEdit, error) {
	changes := make(map[string][]lsp.TextEdit, len(byPath))
	for p, es := range byPath {
		changes[ws.Store().LocationOf(p)] = es
	}
	return func(string, lsp.Position, string) (*lsp.WorkspaceEdit, error) {
		return &lsp.WorkspaceEdit{Changes: changes}, nil
	}
}

func textOf(t *testing.T, ws *Workspace, path string) string {
	t.Helper()
	text, err := ws.Text(path)
	require.NoError(t, err)
	return text
}

func identifierNames(t *testing.T, ws *Workspace, path string) []string {
	t.Helper()
	ids, err := ws.Identifiers(path)
	require.NoError(t, err)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.Name)
	}
	return names
}

// =============================================================================
// DEFINITION TESTS
// =============================================================================

func TestResolveDefinition_UseToAssignment(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})
	uri := ws.Store().LocationOf("a.py")

	var asked lsp.Position
	svc.definitions = func(u string, p lsp.Position) ([]lsp.Location, error) {
		asked = p
		return []lsp.Location{{URI: uri, Range: rng(0, 0, 0, 1)}}, nil
	}

	def, err := ws.ResolveDefinition(context.Background(), "a.py", pos(1, 4))
	require.NoError(t, err)
	require.NotNil(t, def)

	assert.Equal(t, pos(1, 4), asked)
	assert.Equal(t, coordinate.MatchNode, def.Kind)
	assert.Equal(t, "a.py", def.Path)
	assert.Equal(t, uri, def.Location)
	assert.Equal(t, rng(0, 0, 0, 1), def.Range)
	assert.Equal(t, "x", def.Name)
	require.NotNil(t, def.Node)
	assert.Equal(t, uint32(0), def.Node.StartByte())
	assert.False(t, def.IsFile())

	assert.Equal(t, "x = 1\ny = x", svc.synced[uri])
}

func TestResolveDefinition(t *testing.T) {
	files := map[string]string{
		"a.py":     "x = 1\ny = x",
		"pkg/b.py": "\"\"\"doc\"\"\"\nimport os\n",
		"pkg/c.py": "def f():\n    return 1\n",
	}

	tests := []struct {
		name       string
		candidates func(ws *Workspace) []lsp.Location
		wantNil    bool
		wantErr    error
		wantPath   string
		wantKind   coordinate.MatchKind
		wantName   string
	}{
		{
			name:       "no candidates",
			candidates: func(*Workspace) []lsp.Location { return nil },
			wantNil:    true,
		},
		{
			name: "file sentinel",
			candidates: func(ws *Workspace) []lsp.Location {
				return []lsp.Location{{URI: ws.Store().LocationOf("pkg/b.py"), Range: coordinate.SentinelRange}}
			},
			wantPath: "pkg/b.py",
			wantKind: coordinate.MatchFileSentinel,
		},
		{
			name: "function name in another file",
			candidates: func(ws *Workspace) []lsp.Location {
				return []lsp.Location{{URI: ws.Store().LocationOf("pkg/c.py"), Range: rng(0, 4, 0, 5)}}
			},
			wantPath: "pkg/c.py",
			wantKind: coordinate.MatchNode,
			wantName: "f",
		},
		{
			name: "outside root is skipped",
			candidates: func(ws *Workspace) []lsp.Location {
				return []lsp.Location{
					{URI: "file:///usr/lib/python3/typing.py", Range: rng(0, 0, 0, 1)},
					{URI: ws.Store().LocationOf("a.py"), Range: rng(1, 0, 1, 1)},
				}
			},
			wantPath: "a.py",
			wantKind: coordinate.MatchNode,
			wantName: "y",
		},
		{
			name: "unloaded file is skipped",
			candidates: func(ws *Workspace) []lsp.Location {
				return []lsp.Location{
					{URI: ws.Store().LocationOf("missing.py"), Range: rng(0, 0, 0, 1)},
					{URI: ws.Store().LocationOf("a.py"), Range: rng(0, 0, 0, 1)},
				}
			},
			wantPath: "a.py",
			wantKind: coordinate.MatchNode,
			wantName: "x",
		},
		{
			name: "first reconciling candidate wins",
			candidates: func(ws *Workspace) []lsp.Location {
				return []lsp.Location{
					{URI: ws.Store().LocationOf("a.py"), Range: rng(1, 0, 1, 1)},
					{URI: ws.Store().LocationOf("a.py"), Range: rng(0, 0, 0, 1)},
				}
			},
			wantPath: "a.py",
			wantKind: coordinate.MatchNode,
			wantName: "y",
		},
		{
			name: "no candidate reconciles",
			candidates: func(ws *Workspace) []lsp.Location {
				return []lsp.Location{
					{URI: ws.Store().LocationOf("a.py"), Range: rng(0, 4, 0, 5)},
					{URI: ws.Store().LocationOf("pkg/c.py"), Range: rng(0, 0, 0, 12)},
					{URI: "https://example.com/a.py", Range: rng(0, 0, 0, 1)},
				}
			},
			wantErr: ErrUnresolvedDefinition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, svc := newWorkspace(t, files)
			svc.definitions = locations(tt.candidates(ws)...)

			def, err := ws.ResolveDefinition(context.Background(), "a.py", pos(1, 4))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, def)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, def)
				return
			}
			require.NotNil(t, def)
			assert.Equal(t, tt.wantPath, def.Path)
			assert.Equal(t, tt.wantKind, def.Kind)
			assert.Equal(t, tt.wantName, def.Name)
			assert.Equal(t, tt.wantKind == coordinate.MatchFileSentinel, def.IsFile())
		})
	}
}

func TestResolveDefinition_Errors(t *testing.T) {
	t.Run("unknown path", func(t *testing.T) {
		ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1"})
		_, err := ws.ResolveDefinition(context.Background(), "nope.py", pos(0, 0))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, svc.syncCount)
	})

	t.Run("service failure", func(t *testing.T) {
		ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1"})
		svc.definitions = func(string, lsp.Position) ([]lsp.Location, error) {
			return nil, lsp.ErrRequestTimeout
		}
		_, err := ws.ResolveDefinition(context.Background(), "a.py", pos(0, 0))
		assert.ErrorIs(t, err, lsp.ErrRequestTimeout)
		assert.NotErrorIs(t, err, ErrUnresolvedDefinition)
	})
}

func TestResolveNodeDefinition(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})
	var asked lsp.Position
	svc.definitions = func(u string, p lsp.Position) ([]lsp.Location, error) {
		asked = p
		return []lsp.Location{{URI: u, Range: rng(0, 0, 0, 1)}}, nil
	}

	ids, err := ws.Identifiers("a.py")
	require.NoError(t, err)
	require.Len(t, ids, 3)

	def, err := ws.ResolveNodeDefinition(context.Background(), "a.py", ids[2].Node)
	require.NoError(t, err)
	assert.Equal(t, pos(1, 4), asked)
	assert.Equal(t, "x", def.Name)
}

func TestResolveAll(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x\nz = w"})
	uri := ws.Store().LocationOf("a.py")
	svc.definitions = func(_ string, p lsp.Position) ([]lsp.Location, error) {
		switch p {
		case pos(0, 0), pos(1, 4):
			return []lsp.Location{{URI: uri, Range: rng(0, 0, 0, 1)}}, nil
		case pos(1, 0):
			return []lsp.Location{{URI: uri, Range: rng(1, 0, 1, 1)}}, nil
		case pos(2, 0):
			return []lsp.Location{{URI: uri, Range: rng(2, 3, 2, 4)}}, nil
		default:
			return nil, nil
		}
	}

	results, err := ws.ResolveAll(context.Background(), "a.py")
	require.NoError(t, err)
	require.Len(t, results, 5)

	want := []struct {
		ident  string
		target string
		err    error
	}{
		{"x", "x", nil},
		{"y", "y", nil},
		{"x", "x", nil},
		{"z", "", ErrUnresolvedDefinition},
		{"w", "", nil},
	}
	for i, w := range want {
		r := results[i]
		assert.Equal(t, w.ident, r.Identifier.Name, "identifier %d", i)
		if w.err != nil {
			assert.ErrorIs(t, r.Err, w.err, "identifier %d", i)
			assert.Nil(t, r.Definition)
			continue
		}
		assert.NoError(t, r.Err, "identifier %d", i)
		if w.target == "" {
			assert.Nil(t, r.Definition, "identifier %d", i)
			continue
		}
		require.NotNil(t, r.Definition, "identifier %d", i)
		assert.Equal(t, w.target, r.Definition.Name, "identifier %d", i)
	}
}

func TestResolveAll_ServiceFailureAborts(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})
	svc.definitions = func(string, lsp.Position) ([]lsp.Location, error) {
		return nil, lsp.ErrServerCrashed
	}
	_, err := ws.ResolveAll(context.Background(), "a.py")
	assert.ErrorIs(t, err, lsp.ErrServerCrashed)
}

// =============================================================================
// RENAME TESTS
// =============================================================================

func TestApplyRename_SingleFile(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})
	svc.rename = edits(ws, map[string][]lsp.TextEdit{
		"a.py": {
			{Range: rng(0, 0, 0, 1), NewText: "bb"},
			{Range: rng(1, 4, 1, 5), NewText: "bb"},
		},
	})

	n, err := ws.ApplyRename(context.Background(), "a.py", pos(1, 4), "bb")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "bb = 1\ny = bb", textOf(t, ws, "a.py"))

	// The tree follows the text.
	assert.Equal(t, []string{"bb", "y", "bb"}, identifierNames(t, ws, "a.py"))
	assert.Equal(t, "bb = 1\ny = bb", svc.synced[ws.Store().LocationOf("a.py")])

	// The file on disk is untouched without write-through.
	disk, err := os.ReadFile(ws.Store().AbsPath("a.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\ny = x", string(disk))
}

func TestApplyRename_DefinitionAfterRename(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})
	svc.rename = edits(ws, map[string][]lsp.TextEdit{
		"a.py": {
			{Range: rng(1, 4, 1, 5), NewText: "bb"},
			{Range: rng(0, 0, 0, 1), NewText: "bb"},
		},
	})
	_, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 0), "bb")
	require.NoError(t, err)

	svc.definitions = locations(lsp.Location{URI: ws.Store().LocationOf("a.py"), Range: rng(0, 0, 0, 2)})
	def, err := ws.ResolveDefinition(context.Background(), "a.py", pos(1, 4))
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "bb", def.Name)
}

func TestApplyRename_NullResult(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})

	n, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 0), "bb")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, svc.renameCalls)
	assert.Equal(t, "x = 1\ny = x", textOf(t, ws, "a.py"))
}

func TestApplyRename_MultiFile(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{
		"a.py":     "def f():\n    return 1\n",
		"pkg/b.py": "from a import f\nprint(f())\n",
		"pkg/c.py": "g = 2\n",
	})
	svc.rename = func(string, lsp.Position, string) (*lsp.WorkspaceEdit, error) {
		return &lsp.WorkspaceEdit{DocumentChanges: []lsp.TextDocumentEdit{
			{
				TextDocument: lsp.VersionedTextDocumentIdentifier{TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: ws.Store().LocationOf("a.py")}},
				Edits:        []lsp.TextEdit{{Range: rng(0, 4, 0, 5), NewText: "run"}},
			},
			{
				TextDocument: lsp.VersionedTextDocumentIdentifier{TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: ws.Store().LocationOf("pkg/b.py")}},
				Edits:        []lsp.TextEdit{{Range: rng(0, 14, 0, 15), NewText: "run"}},
			},
			{
				TextDocument: lsp.VersionedTextDocumentIdentifier{TextDocumentIdentifier: lsp.TextDocumentIdentifier{URI: ws.Store().LocationOf("pkg/b.py")}},
				Edits:        []lsp.TextEdit{{Range: rng(1, 6, 1, 7), NewText: "run"}},
			},
		}}, nil
	}

	n, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 4), "run")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "def run():\n    return 1\n", textOf(t, ws, "a.py"))
	assert.Equal(t, "from a import run\nprint(run())\n", textOf(t, ws, "pkg/b.py"))
	assert.Equal(t, "g = 2\n", textOf(t, ws, "pkg/c.py"))
}

func TestApplyRename_SameLineEditsApplyRightToLeft(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "b = 1\na = b + b\n"})
	svc.rename = edits(ws, map[string][]lsp.TextEdit{
		"a.py": {
			{Range: rng(0, 0, 0, 1), NewText: "cc"},
			{Range: rng(1, 4, 1, 5), NewText: "cc"},
			{Range: rng(1, 8, 1, 9), NewText: "cc"},
		},
	})

	n, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 0), "cc")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "cc = 1\na = cc + cc\n", textOf(t, ws, "a.py"))
}

func TestApplyRename_Rejected(t *testing.T) {
	const a = "x = 1\ny = x"
	const b = "z = 2\n"

	tests := []struct {
		name    string
		edits   func(ws *Workspace) *lsp.WorkspaceEdit
		wantErr error
	}{
		{
			name: "multi-line edit in a later file",
			edits: func(ws *Workspace) *lsp.WorkspaceEdit {
				return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
					ws.Store().LocationOf("a.py"): {{Range: rng(0, 0, 0, 1), NewText: "bb"}},
					ws.Store().LocationOf("b.py"): {{Range: rng(0, 0, 1, 0), NewText: "bb"}},
				}}
			},
			wantErr: ErrMultiLineEditUnsupported,
		},
		{
			name: "line past end of file",
			edits: func(ws *Workspace) *lsp.WorkspaceEdit {
				return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
					ws.Store().LocationOf("a.py"): {
						{Range: rng(0, 0, 0, 1), NewText: "bb"},
						{Range: rng(7, 0, 7, 1), NewText: "bb"},
					},
				}}
			},
			wantErr: ErrEditOutOfRange,
		},
		{
			name: "column past end of line",
			edits: func(ws *Workspace) *lsp.WorkspaceEdit {
				return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
					ws.Store().LocationOf("a.py"): {{Range: rng(0, 3, 0, 40), NewText: "bb"}},
				}}
			},
			wantErr: ErrEditOutOfRange,
		},
		{
			name: "reversed range",
			edits: func(ws *Workspace) *lsp.WorkspaceEdit {
				return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
					ws.Store().LocationOf("a.py"): {{Range: rng(0, 3, 0, 1), NewText: "bb"}},
				}}
			},
			wantErr: ErrEditOutOfRange,
		},
		{
			name: "overlapping edits",
			edits: func(ws *Workspace) *lsp.WorkspaceEdit {
				return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
					ws.Store().LocationOf("a.py"): {
						{Range: rng(1, 0, 1, 5), NewText: "q"},
						{Range: rng(1, 4, 1, 5), NewText: "bb"},
					},
				}}
			},
			wantErr: ErrOverlappingEdits,
		},
		{
			name: "edit outside the workspace",
			edits: func(ws *Workspace) *lsp.WorkspaceEdit {
				return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
					ws.Store().LocationOf("a.py"):       {{Range: rng(0, 0, 0, 1), NewText: "bb"}},
					"file:///usr/lib/python3/typing.py": {{Range: rng(0, 0, 0, 1), NewText: "bb"}},
				}}
			},
			wantErr: ErrInvalidLocation,
		},
		{
			name: "edit to an unloaded file",
			edits: func(ws *Workspace) *lsp.WorkspaceEdit {
				return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
					ws.Store().LocationOf("a.py"):  {{Range: rng(0, 0, 0, 1), NewText: "bb"}},
					ws.Store().LocationOf("zz.py"): {{Range: rng(0, 0, 0, 1), NewText: "bb"}},
				}}
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws, svc := newWorkspace(t, map[string]string{"a.py": a, "b.py": b})
			svc.rename = func(string, lsp.Position, string) (*lsp.WorkspaceEdit, error) {
				return tt.edits(ws), nil
			}

			n, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 0), "bb")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, n)
			assert.Equal(t, a, textOf(t, ws, "a.py"))
			assert.Equal(t, b, textOf(t, ws, "b.py"))
			assert.Equal(t, []string{"x", "y", "x"}, identifierNames(t, ws, "a.py"))
		})
	}
}

func TestApplyRename_InvalidName(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1"})
	_, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 0), "  ")
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.Zero(t, svc.renameCalls)
}

func TestApplyRename_UnknownPath(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1"})
	_, err := ws.ApplyRename(context.Background(), "b.py", pos(0, 0), "bb")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, svc.renameCalls)
}

func TestApplyRename_ServiceFailure(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1"})
	svc.rename = func(string, lsp.Position, string) (*lsp.WorkspaceEdit, error) {
		return nil, &lsp.LSPError{Code: -32803, Message: "cannot rename"}
	}
	_, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 0), "bb")
	var lerr *lsp.LSPError
	require.True(t, errors.As(err, &lerr))
	assert.True(t, lerr.IsRequestFailed())
}

func TestApplyRename_NoOpEditsModifyNothing(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})
	svc.rename = edits(ws, map[string][]lsp.TextEdit{
		"a.py": {{Range: rng(0, 0, 0, 1), NewText: "x"}},
	})
	n, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 0), "x")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestApplyRename_WriteThrough(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x\n"}, WithWriteThrough(true))
	svc.rename = edits(ws, map[string][]lsp.TextEdit{
		"a.py": {
			{Range: rng(0, 0, 0, 1), NewText: "bb"},
			{Range: rng(1, 4, 1, 5), NewText: "bb"},
		},
	})

	n, err := ws.ApplyRename(context.Background(), "a.py", pos(0, 0), "bb")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	disk, err := os.ReadFile(ws.Store().AbsPath("a.py"))
	require.NoError(t, err)
	assert.Equal(t, "bb = 1\ny = bb\n", string(disk))
}

func TestRenameNode(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})
	var asked lsp.Position
	svc.rename = func(uri string, p lsp.Position, newName string) (*lsp.WorkspaceEdit, error) {
		asked = p
		return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
			uri: {
				{Range: rng(0, 0, 0, 1), NewText: newName},
				{Range: rng(1, 4, 1, 5), NewText: newName},
			},
		}}, nil
	}

	ids, err := ws.Identifiers("a.py")
	require.NoError(t, err)
	last := ids[len(ids)-1]

	n, err := ws.RenameNode(context.Background(), "a.py", last.Node, "bb")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, pos(1, 4), asked)
	assert.Equal(t, "bb = 1\ny = bb", textOf(t, ws, "a.py"))
}

// =============================================================================
// PREVIEW TESTS
// =============================================================================

func TestPreviewRename(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x\n"})
	svc.rename = edits(ws, map[string][]lsp.TextEdit{
		"a.py": {
			{Range: rng(0, 0, 0, 1), NewText: "bb"},
			{Range: rng(1, 4, 1, 5), NewText: "bb"},
		},
	})

	plan, err := ws.PreviewRename(context.Background(), "a.py", pos(0, 0), "bb")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 1, plan.Modified())
	require.Len(t, plan.Files, 1)
	assert.Equal(t, "bb = 1\ny = bb\n", string(plan.Files[0].After))

	// Nothing is applied.
	assert.Equal(t, "x = 1\ny = x\n", textOf(t, ws, "a.py"))

	out, err := plan.Diff()
	require.NoError(t, err)
	assert.True(t, bytes.Contains(out, []byte("-x = 1\n")))
	assert.True(t, bytes.Contains(out, []byte("+bb = 1\n")))

	fds, err := diff.NewMultiFileDiffReader(bytes.NewReader(out)).ReadAllFiles()
	require.NoError(t, err)
	require.Len(t, fds, 1)
	assert.Equal(t, "a/a.py", fds[0].OrigName)
	assert.Equal(t, "b/a.py", fds[0].NewName)
	require.Len(t, fds[0].Hunks, 1)
	assert.Equal(t, int32(1), fds[0].Hunks[0].OrigStartLine)
	assert.Equal(t, int32(2), fds[0].Hunks[0].OrigLines)
	assert.Equal(t, int32(2), fds[0].Hunks[0].NewLines)
}

func TestApplyPlan(t *testing.T) {
	newPlan := func(t *testing.T) (*Workspace, *RenamePlan) {
		ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x\n", "b.py": "z = 2\n"})
		svc.rename = edits(ws, map[string][]lsp.TextEdit{
			"a.py": {
				{Range: rng(0, 0, 0, 1), NewText: "bb"},
				{Range: rng(1, 4, 1, 5), NewText: "bb"},
			},
		})
		plan, err := ws.PreviewRename(context.Background(), "a.py", pos(0, 0), "bb")
		require.NoError(t, err)
		require.NotNil(t, plan)
		return ws, plan
	}

	t.Run("applies the previewed edits", func(t *testing.T) {
		ws, plan := newPlan(t)
		n, err := ws.ApplyPlan(context.Background(), plan)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, "bb = 1\ny = bb\n", textOf(t, ws, "a.py"))
	})

	t.Run("rejects a stale plan", func(t *testing.T) {
		ws, plan := newPlan(t)
		require.NoError(t, ws.Store().ReplaceText(context.Background(), "a.py", []byte("x = 3\ny = x\n")))

		n, err := ws.ApplyPlan(context.Background(), plan)
		assert.ErrorIs(t, err, ErrStalePlan)
		assert.Zero(t, n)
		assert.Equal(t, "x = 3\ny = x\n", textOf(t, ws, "a.py"))
	})

	t.Run("unrelated changes do not stale the plan", func(t *testing.T) {
		ws, plan := newPlan(t)
		require.NoError(t, ws.Store().ReplaceText(context.Background(), "b.py", []byte("z = 3\n")))

		n, err := ws.ApplyPlan(context.Background(), plan)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("nil plan", func(t *testing.T) {
		ws, _ := newWorkspace(t, map[string]string{"a.py": "x = 1"})
		n, err := ws.ApplyPlan(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestPreviewRename_Declined(t *testing.T) {
	ws, _ := newWorkspace(t, map[string]string{"a.py": "x = 1"})
	plan, err := ws.PreviewRename(context.Background(), "a.py", pos(0, 0), "bb")
	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.Zero(t, plan.Modified())

	out, err := plan.Diff()
	require.NoError(t, err)
	assert.Empty(t, out)
}

// =============================================================================
// EDIT APPLICATION TESTS
// =============================================================================

func TestApplyEdits(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		enc   ast.PositionEncoding
		edits []Edit
		want  string
	}{
		{
			name:  "trailing newline kept",
			text:  "x = 1\n",
			enc:   ast.EncodingUTF16,
			edits: []Edit{{Line: 0, StartColumn: 0, EndColumn: 1, NewText: "bb"}},
			want:  "bb = 1\n",
		},
		{
			name:  "insertion",
			text:  "f()",
			enc:   ast.EncodingUTF16,
			edits: []Edit{{Line: 0, StartColumn: 1, EndColumn: 1, NewText: "oo"}},
			want:  "foo()",
		},
		{
			name:  "utf-16 columns after a wide character",
			text:  "s = \"é\"; y = 1",
			enc:   ast.EncodingUTF16,
			edits: []Edit{{Line: 0, StartColumn: 9, EndColumn: 10, NewText: "why"}},
			want:  "s = \"é\"; why = 1",
		},
		{
			name:  "utf-8 columns after a wide character",
			text:  "s = \"é\"; y = 1",
			enc:   ast.EncodingUTF8,
			edits: []Edit{{Line: 0, StartColumn: 10, EndColumn: 11, NewText: "why"}},
			want:  "s = \"é\"; why = 1",
		},
		{
			name: "adjacent edits",
			text: "ab",
			enc:  ast.EncodingUTF16,
			edits: []Edit{
				{Line: 0, StartColumn: 0, EndColumn: 1, NewText: "xx"},
				{Line: 0, StartColumn: 1, EndColumn: 2, NewText: "yy"},
			},
			want: "xxyy",
		},
		{
			name:  "crlf line endings survive",
			text:  "x = 1\r\ny = x\r\n",
			enc:   ast.EncodingUTF16,
			edits: []Edit{{Line: 1, StartColumn: 4, EndColumn: 5, NewText: "z"}},
			want:  "x = 1\r\ny = z\r\n",
		},
		{
			name: "insertions at one position keep list order",
			text: "x",
			enc:  ast.EncodingUTF16,
			edits: []Edit{
				{Line: 0, StartColumn: 0, EndColumn: 0, NewText: "a"},
				{Line: 0, StartColumn: 0, EndColumn: 0, NewText: "b"},
			},
			want: "abx",
		},
		{
			name: "insertion listed before a replacement at the same start",
			text: "x = 1",
			enc:  ast.EncodingUTF16,
			edits: []Edit{
				{Line: 0, StartColumn: 0, EndColumn: 0, NewText: "_"},
				{Line: 0, StartColumn: 0, EndColumn: 1, NewText: "bb"},
			},
			want: "_bb = 1",
		},
		{
			name: "insertion listed after a replacement at the same start",
			text: "x = 1",
			enc:  ast.EncodingUTF16,
			edits: []Edit{
				{Line: 0, StartColumn: 0, EndColumn: 1, NewText: "bb"},
				{Line: 0, StartColumn: 0, EndColumn: 0, NewText: "_"},
			},
			want: "bb_ = 1",
		},
		{
			name: "same-start ties among other edits on the line",
			text: "f(x, y)",
			enc:  ast.EncodingUTF16,
			edits: []Edit{
				{Line: 0, StartColumn: 5, EndColumn: 6, NewText: "w"},
				{Line: 0, StartColumn: 2, EndColumn: 2, NewText: "*"},
				{Line: 0, StartColumn: 2, EndColumn: 3, NewText: "v"},
				{Line: 0, StartColumn: 2, EndColumn: 2, NewText: "!"},
			},
			want: "f(*v!, w)",
		},
		{
			name:  "edit at the end of a crlf line",
			text:  "ab\r\ncd",
			enc:   ast.EncodingUTF16,
			edits: []Edit{{Line: 0, StartColumn: 2, EndColumn: 2, NewText: "Z"}},
			want:  "abZ\r\ncd",
		},
		{
			name:  "no edits",
			text:  "x = 1",
			enc:   ast.EncodingUTF16,
			edits: nil,
			want:  "x = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := []byte(tt.text)
			got, err := applyEdits(original, tt.edits, tt.enc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
			assert.Equal(t, tt.text, string(original))
		})
	}
}

func TestApplyEdits_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		edits   []Edit
		wantErr error
	}{
		{
			name: "two replacements at the same start",
			text: "x = 1",
			edits: []Edit{
				{Line: 0, StartColumn: 0, EndColumn: 1, NewText: "a"},
				{Line: 0, StartColumn: 0, EndColumn: 3, NewText: "b"},
			},
			wantErr: ErrOverlappingEdits,
		},
		{
			name: "insertion inside a replacement",
			text: "x = 1",
			edits: []Edit{
				{Line: 0, StartColumn: 0, EndColumn: 3, NewText: "a"},
				{Line: 0, StartColumn: 1, EndColumn: 1, NewText: "b"},
			},
			wantErr: ErrOverlappingEdits,
		},
		{
			name:    "column on a carriage return",
			text:    "ab\r\ncd",
			edits:   []Edit{{Line: 0, StartColumn: 2, EndColumn: 3, NewText: "Z"}},
			wantErr: ErrEditOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyEdits([]byte(tt.text), tt.edits, ast.EncodingUTF16)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}
}

// =============================================================================
// SERIALIZED TESTS
// =============================================================================

func TestSerialized_ConcurrentCallers(t *testing.T) {
	ws, svc := newWorkspace(t, map[string]string{"a.py": "x = 1\ny = x"})
	uri := ws.Store().LocationOf("a.py")
	svc.definitions = locations(lsp.Location{URI: uri, Range: rng(1, 0, 1, 1)})
	svc.rename = func(_ string, _ lsp.Position, newName string) (*lsp.WorkspaceEdit, error) {
		return &lsp.WorkspaceEdit{Changes: map[string][]lsp.TextEdit{
			uri: {{Range: rng(0, 4, 0, 5), NewText: newName}},
		}}, nil
	}
	s := NewSerialized(ws)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			def, err := s.ResolveDefinition(context.Background(), "a.py", pos(1, 4))
			assert.NoError(t, err)
			if assert.NotNil(t, def) {
				assert.Equal(t, "y", def.Name)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := s.ApplyRename(context.Background(), "a.py", pos(0, 4), "2")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	text, err := s.Text("a.py")
	require.NoError(t, err)
	assert.Equal(t, "x = 2\ny = x", text)
	assert.Len(t, s.Files(), 1)
}

func TestSerialized_ApplyChanges(t *testing.T) {
	ws, _ := newWorkspace(t, map[string]string{"a.py": "x = 1"})
	s := NewSerialized(ws)

	s.ApplyChanges(context.Background(), []store.Change{
		{Path: "b.py", Op: store.ChangeWrite, Text: []byte("z = 3")},
		{Path: "a.py", Op: store.ChangeRemove},
	})

	files := s.Files()
	require.Len(t, files, 1)
	assert.Equal(t, "b.py", files[0].Path)
	assert.Equal(t, 1, files[0].Identifiers)

	err := s.Do(func(w *Workspace) error {
		_, err := w.Text("a.py")
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFiles(t *testing.T) {
	ws, _ := newWorkspace(t, map[string]string{
		"a.py":     "x = 1\ny = x\n",
		"pkg/b.py": "def (:\n",
	})
	files := ws.Files()
	require.Len(t, files, 2)

	assert.Equal(t, "a.py", files[0].Path)
	assert.Equal(t, 3, files[0].Lines)
	assert.Equal(t, 3, files[0].Identifiers)
	assert.False(t, files[0].HasErrors)
	assert.Equal(t, ws.Store().LocationOf("a.py"), files[0].Location)

	assert.Equal(t, "pkg/b.py", files[1].Path)
	assert.True(t, files[1].HasErrors)
}

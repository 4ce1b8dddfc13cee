// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/symbridge/pkg/ux"
	"github.com/AleutianAI/symbridge/services/workspace"
	"github.com/AleutianAI/symbridge/services/workspace/api"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

// =============================================================================
// HELPERS
// =============================================================================

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the CLI with args and returns stdout, stderr, and the error.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func machinePrinter() (*ux.Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return ux.NewPrinter(&out, &errOut, ux.ModeMachine), &out, &errOut
}

func rng(sl, sc, el, ec int) lsp.Range {
	return lsp.Range{
		Start: lsp.Position{Line: sl, Character: sc},
		End:   lsp.Position{Line: el, Character: ec},
	}
}

// =============================================================================
// ARGUMENT PARSING
// =============================================================================

func TestParsePosition(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		col     string
		want    lsp.Position
		wantErr string
	}{
		{"origin", "0", "0", lsp.Position{}, ""},
		{"values", "12", "4", lsp.Position{Line: 12, Character: 4}, ""},
		{"negative line", "-1", "0", lsp.Position{}, "invalid line"},
		{"negative column", "0", "-3", lsp.Position{}, "invalid column"},
		{"not a number", "x", "0", lsp.Position{}, "invalid line"},
		{"empty column", "1", "", lsp.Position{}, "invalid column"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePosition(tt.line, tt.col)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parsePosition(%q, %q) error = %v, want %q", tt.line, tt.col, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePosition(%q, %q): %v", tt.line, tt.col, err)
			}
			if got != tt.want {
				t.Errorf("parsePosition(%q, %q) = %v, want %v", tt.line, tt.col, got, tt.want)
			}
		})
	}
}

func TestFormatRange(t *testing.T) {
	if got := formatRange(rng(1, 2, 3, 4)); got != "1:2-3:4" {
		t.Errorf("formatRange = %q, want 1:2-3:4", got)
	}
}

// =============================================================================
// RENDERING
// =============================================================================

func TestRenderFiles_Machine(t *testing.T) {
	p, out, errOut := machinePrinter()
	renderFiles(p, filesOutput{
		Root:     "/w",
		Language: "python",
		Files: []workspace.FileSummary{
			{Path: "a.py", Lines: 2, Identifiers: 3},
			{Path: "b.py", Lines: 1, Identifiers: 0, HasErrors: true},
		},
		ParseFailures: []parseFailure{{Path: "c.py", Reason: "binary content"}},
	})

	want := "a.py\t2\t3\t\nb.py\t1\t0\tsyntax errors\n2 files loaded\n"
	if out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}
	if !strings.Contains(errOut.String(), "WARN: c.py excluded: binary content") {
		t.Errorf("stderr = %q, want parse failure warning", errOut.String())
	}
}

func TestRenderIdentifiers_Machine(t *testing.T) {
	p, out, _ := machinePrinter()
	renderIdentifiers(p, "a.py", []identifierOutput{
		{Name: "x", Range: rng(0, 0, 0, 1)},
	})

	want := "x\t0:0-0:1\n1 identifier\n"
	if out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}
}

func TestRenderDefinition_Machine(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		p, out, _ := machinePrinter()
		renderDefinition(p, "b.py", lsp.Position{Line: 1, Character: 4}, definitionOutput{
			Found: true,
			Definition: &api.DefinitionInfo{
				Path: "a.py", Range: rng(0, 0, 0, 1), Kind: "node", Name: "x",
			},
		})
		got := out.String()
		for _, want := range []string{"OK: b.py:1:4", "a.py:0:0-0:1", "kind\tnode", "name\tx"} {
			if !strings.Contains(got, want) {
				t.Errorf("output missing %q:\n%s", want, got)
			}
		}
	})

	t.Run("file sentinel", func(t *testing.T) {
		p, out, _ := machinePrinter()
		renderDefinition(p, "b.py", lsp.Position{}, definitionOutput{
			Found:      true,
			Definition: &api.DefinitionInfo{Path: "m.py", Range: rng(0, 0, 0, 1), Kind: "file"},
		})
		if !strings.Contains(out.String(), "m.py (file)") {
			t.Errorf("output = %q, want file target", out.String())
		}
		if strings.Contains(out.String(), "name\t") {
			t.Errorf("output = %q, want no name for the file sentinel", out.String())
		}
	})

	t.Run("not found", func(t *testing.T) {
		p, out, _ := machinePrinter()
		renderDefinition(p, "b.py", lsp.Position{Line: 2, Character: 0}, definitionOutput{})
		if out.String() != "No definition for b.py:2:0\n" {
			t.Errorf("output = %q", out.String())
		}
	})
}

func TestRenderDefinitions_Machine(t *testing.T) {
	p, out, _ := machinePrinter()
	renderDefinitions(p, "b.py", []resolutionOutput{
		{Name: "y", Range: rng(0, 0, 0, 1)},
		{Name: "x", Range: rng(0, 4, 0, 5), Definition: &api.DefinitionInfo{Path: "a.py", Range: rng(0, 0, 0, 1), Kind: "node"}},
		{Name: "z", Range: rng(1, 0, 1, 1), Error: "unresolved definition"},
	})

	want := "y\t0:0-0:1\tnone\n" +
		"x\t0:4-0:5\ta.py:0:0-0:1\n" +
		"z\t1:0-1:1\tunresolved\n" +
		"1 definition resolved of 3 identifiers\n"
	if out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}
}

func TestRenderRename_Machine(t *testing.T) {
	tests := []struct {
		name  string
		wrote bool
		out   renameOutput
		want  string
	}{
		{
			name: "dry run",
			out:  renameOutput{DryRun: true, Modified: 1, Diff: "--- a/a.py\n+++ b/a.py\n"},
			want: "--- a/a.py\n+++ b/a.py\n1 file would change\n",
		},
		{
			name: "nothing",
			out:  renameOutput{},
			want: "Nothing to rename to \"bb\"\n",
		},
		{
			name: "in memory",
			out:  renameOutput{Modified: 2},
			want: "OK: Renamed to \"bb\"\n2 files modified in memory\n",
		},
		{
			name: "cancelled",
			out:  renameOutput{Cancelled: true},
			want: "Rename cancelled\n",
		},
		{
			name:  "written",
			wrote: true,
			out:   renameOutput{Modified: 1},
			want:  "OK: Renamed to \"bb\"\n1 file written\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, out, _ := machinePrinter()
			renderRename(p, "bb", tt.wrote, tt.out)
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

// =============================================================================
// OFFLINE SERVICE
// =============================================================================

func TestOfflineService(t *testing.T) {
	var svc workspace.AnalysisService = offlineService{}
	ctx := context.Background()

	if _, err := svc.Definition(ctx, "file:///a.py", lsp.Position{}); !errors.Is(err, errOffline) {
		t.Errorf("Definition error = %v, want errOffline", err)
	}
	if _, err := svc.Rename(ctx, "file:///a.py", lsp.Position{}, "b"); !errors.Is(err, errOffline) {
		t.Errorf("Rename error = %v, want errOffline", err)
	}
	if err := svc.SyncDocument(ctx, "file:///a.py", ""); err != nil {
		t.Errorf("SyncDocument: %v", err)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestFilesCommand_JSON(t *testing.T) {
	root := writeWorkspace(t, map[string]string{
		"a.py":       "x = 1\n",
		"pkg/b.py":   "from a import x\ny = x\n",
		"notes.txt":  "ignored\n",
		".venv/c.py": "z = 1\n",
		"pkg/d.py":   "def f(:\n",
		"pkg/e/f.py": "w = 2\n",
	})

	stdout, stderr, err := execute(t, "files", "--root", root, "--json", "--trace-exporter", "none", "--metric-exporter", "none")
	if err != nil {
		t.Fatalf("files: %v\nstderr: %s", err, stderr)
	}

	var got filesOutput
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if got.Language != "python" {
		t.Errorf("language = %q, want python", got.Language)
	}

	paths := make(map[string]workspace.FileSummary, len(got.Files))
	for _, f := range got.Files {
		paths[f.Path] = f
	}
	if len(got.Files) != 4 {
		t.Errorf("files = %+v, want 4", got.Files)
	}
	for _, want := range []string{"a.py", "pkg/b.py", "pkg/d.py", "pkg/e/f.py"} {
		if _, ok := paths[want]; !ok {
			t.Errorf("files missing %s: %+v", want, got.Files)
		}
	}
	if _, ok := paths[".venv/c.py"]; ok {
		t.Error("files include an ignored directory")
	}
	if !paths["pkg/d.py"].HasErrors {
		t.Error("pkg/d.py should report syntax errors")
	}
}

func TestIdentifiersCommand_JSON(t *testing.T) {
	root := writeWorkspace(t, map[string]string{"a.py": "x = 1\ny = x\n"})

	stdout, stderr, err := execute(t, "identifiers", "a.py", "--root", root, "--json")
	if err != nil {
		t.Fatalf("identifiers: %v\nstderr: %s", err, stderr)
	}

	var got []identifierOutput
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode %q: %v", stdout, err)
	}
	if len(got) != 3 {
		t.Fatalf("identifiers = %+v, want 3", got)
	}
	if got[2].Name != "x" || got[2].Range != rng(1, 4, 1, 5) {
		t.Errorf("last identifier = %+v, want x at 1:4-1:5", got[2])
	}
	if got[2].Start.Row != 1 || got[2].Start.Column != 4 {
		t.Errorf("start point = %+v, want 1:4", got[2].Start)
	}
}

func TestIdentifiersCommand_UnknownFile(t *testing.T) {
	root := writeWorkspace(t, map[string]string{"a.py": "x = 1\n"})

	_, _, err := execute(t, "identifiers", "missing.py", "--root", root)
	if !errors.Is(err, workspace.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestCommands_InvalidConfigExitsTwo(t *testing.T) {
	root := writeWorkspace(t, map[string]string{"a.py": "x = 1\n"})

	_, _, err := execute(t, "files", "--root", root, "--language", "cobol")
	var exit *exitError
	if !errors.As(err, &exit) {
		t.Fatalf("error = %v, want exitError", err)
	}
	if exit.code != 2 {
		t.Errorf("exit code = %d, want 2", exit.code)
	}
}

func TestServeCommand_NeedsSurface(t *testing.T) {
	root := writeWorkspace(t, map[string]string{"a.py": "x = 1\n"})
	t.Setenv("SYMBRIDGE_HTTP_ADDRESS", "")

	_, _, err := execute(t, "serve", "--root", root)
	if !errors.Is(err, errNoSurface) {
		t.Fatalf("error = %v, want errNoSurface", err)
	}
}

func TestRenameCommand_BadPosition(t *testing.T) {
	root := writeWorkspace(t, map[string]string{"a.py": "x = 1\n"})

	_, _, err := execute(t, "rename", "a.py", "zero", "0", "y", "--root", root)
	if err == nil || !strings.Contains(err.Error(), "invalid line") {
		t.Fatalf("error = %v, want invalid line", err)
	}
}

func TestReviewFiles(t *testing.T) {
	plan := &workspace.RenamePlan{
		NewName: "bb",
		Files: []workspace.FileChange{
			{Path: "a.py", Before: []byte("x = 1\n"), After: []byte("bb = 1\n")},
			{Path: "b.py", Before: []byte("y = 2\n"), After: []byte("y = 2\n")},
			{Path: "pkg/c.py", Before: []byte("z = x\n"), After: []byte("z = bb\n")},
		},
	}

	files, err := reviewFiles(plan)
	if err != nil {
		t.Fatalf("reviewFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %+v, want the 2 changed files", files)
	}
	if files[0].Path != "a.py" || files[1].Path != "pkg/c.py" {
		t.Errorf("paths = %q, %q", files[0].Path, files[1].Path)
	}
	if !strings.Contains(files[1].Diff, "+z = bb") {
		t.Errorf("diff = %q", files[1].Diff)
	}

	none, err := reviewFiles(nil)
	if err != nil || len(none) != 0 {
		t.Errorf("reviewFiles(nil) = %v, %v", none, err)
	}
}

func TestApplyFlags_OnlyChanged(t *testing.T) {
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	cmd := &cobra.Command{Use: "probe"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	before := cfg.Root

	if err := cmd.Flags().Set("language", "go"); err != nil {
		t.Fatal(err)
	}
	cfg.Extension = ".pyi"
	applyFlags(cmd, &cfg)

	if cfg.Language != "go" {
		t.Errorf("language = %q, want go", cfg.Language)
	}
	if cfg.Extension != "" {
		t.Errorf("extension = %q, want cleared with the language", cfg.Extension)
	}
	if cfg.Root != before {
		t.Errorf("root = %q, want unchanged %q", cfg.Root, before)
	}
}

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
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/symbridge/pkg/ux"
	"github.com/AleutianAI/symbridge/services/workspace"
	"github.com/AleutianAI/symbridge/services/workspace/ast"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the workspace files and any that failed to parse",
	Args:  cobra.NoArgs,
	RunE:  runWithApp(runFiles),
}

var identifiersCmd = &cobra.Command{
	Use:   "identifiers FILE",
	Short: "List the identifier nodes of a file with their protocol ranges",
	Args:  cobra.ExactArgs(1),
	RunE:  runWithApp(runIdentifiers),
}

// filesOutput is the JSON shape of the files command.
type filesOutput struct {
	Root          string                  `json:"root"`
	Language      string                  `json:"language"`
	Files         []workspace.FileSummary `json:"files"`
	ParseFailures []parseFailure          `json:"parse_failures,omitempty"`
}

type parseFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func runFiles(cmd *cobra.Command, a *app, _ []string) error {
	st, err := a.loadStore(cmd.Context())
	if err != nil {
		return err
	}
	ws := workspace.New(st, offlineService{})

	out := filesOutput{
		Root:     st.Root(),
		Language: st.Language(),
		Files:    ws.Files(),
	}
	for _, pe := range st.ParseFailures() {
		out.ParseFailures = append(out.ParseFailures, parseFailure{Path: pe.FilePath, Reason: pe.Message})
	}

	if a.json {
		return printJSON(a.printer.Out(), out)
	}
	renderFiles(a.printer, out)
	return nil
}

func renderFiles(p *ux.Printer, out filesOutput) {
	p.Title(fmt.Sprintf("%s workspace at %s", out.Language, out.Root))
	rows := make([][]string, 0, len(out.Files))
	for _, f := range out.Files {
		status := ""
		if f.HasErrors {
			status = "syntax errors"
		}
		rows = append(rows, []string{
			f.Path,
			strconv.Itoa(f.Lines),
			strconv.Itoa(f.Identifiers),
			status,
		})
	}
	p.Table([]string{"PATH", "LINES", "IDENTIFIERS", "STATUS"}, rows)
	for _, pf := range out.ParseFailures {
		p.Warning(fmt.Sprintf("%s excluded: %s", pf.Path, pf.Reason))
	}
	p.Count(len(out.Files), "file", "loaded")
}

// identifierOutput is the JSON shape of one identifier.
type identifierOutput struct {
	Name  string    `json:"name"`
	Range lsp.Range `json:"range"`
	Start ast.Point `json:"start_point"`
}

func runIdentifiers(cmd *cobra.Command, a *app, args []string) error {
	st, err := a.loadStore(cmd.Context())
	if err != nil {
		return err
	}
	ws := workspace.New(st, offlineService{})

	ids, err := ws.Identifiers(args[0])
	if err != nil {
		return err
	}

	out := make([]identifierOutput, 0, len(ids))
	for _, id := range ids {
		out = append(out, identifierOutput{
			Name:  id.Name,
			Range: id.Range,
			Start: ast.PointOf(id.Node.StartPoint()),
		})
	}

	if a.json {
		return printJSON(a.printer.Out(), out)
	}
	renderIdentifiers(a.printer, args[0], out)
	return nil
}

func renderIdentifiers(p *ux.Printer, path string, ids []identifierOutput) {
	p.Title(path)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{id.Name, formatRange(id.Range)})
	}
	p.Table([]string{"NAME", "RANGE"}, rows)
	p.Count(len(ids), "identifier", "")
}

// formatRange renders a range as "line:col-line:col".
func formatRange(r lsp.Range) string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Line, r.Start.Character, r.End.Line, r.End.Character)
}

// parsePosition parses zero-based LINE and COL arguments.
func parsePosition(line, col string) (lsp.Position, error) {
	l, err := strconv.Atoi(line)
	if err != nil || l < 0 {
		return lsp.Position{}, fmt.Errorf("invalid line %q: want a non-negative integer", line)
	}
	c, err := strconv.Atoi(col)
	if err != nil || c < 0 {
		return lsp.Position{}, fmt.Errorf("invalid column %q: want a non-negative integer", col)
	}
	return lsp.Position{Line: l, Character: c}, nil
}

// errOffline is returned by offlineService for every query.
var errOffline = errors.New("no language server in this command")

// offlineService lets syntax-only commands build a workspace without
// starting a language server. Columns use the protocol default, UTF-16.
type offlineService struct{}

func (offlineService) Definition(context.Context, string, lsp.Position) ([]lsp.Location, error) {
	return nil, errOffline
}

func (offlineService) Rename(context.Context, string, lsp.Position, string) (*lsp.WorkspaceEdit, error) {
	return nil, errOffline
}

func (offlineService) SyncDocument(context.Context, string, string) error { return nil }

func (offlineService) PositionEncoding() ast.PositionEncoding { return ast.EncodingUTF16 }

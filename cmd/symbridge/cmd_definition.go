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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/symbridge/pkg/ux"
	"github.com/AleutianAI/symbridge/services/workspace"
	"github.com/AleutianAI/symbridge/services/workspace/api"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

var definitionCmd = &cobra.Command{
	Use:   "definition FILE LINE COL",
	Short: "Resolve the definition of the symbol at a position",
	Long: `Ask the language server where the symbol at FILE:LINE:COL is defined and map
the answer onto an identifier node. LINE and COL are zero-based.

Exits 0 with "no definition" when the server has no candidates, and fails when
candidates exist but none match an identifier.`,
	Args: cobra.ExactArgs(3),
	RunE: runWithApp(runDefinition),
}

var definitionsCmd = &cobra.Command{
	Use:   "definitions FILE",
	Short: "Resolve the definition of every identifier in a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runWithApp(runDefinitions),
}

// definitionOutput is the JSON shape of the definition command.
type definitionOutput struct {
	Found      bool                `json:"found"`
	Definition *api.DefinitionInfo `json:"definition,omitempty"`
}

func runDefinition(cmd *cobra.Command, a *app, args []string) error {
	pos, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}

	var def *workspace.Definition
	err = a.withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
		var err error
		def, err = ws.ResolveDefinition(cmd.Context(), args[0], pos)
		return err
	})
	if err != nil {
		return err
	}

	out := definitionOutput{Found: def != nil, Definition: api.NewDefinitionInfo(def)}
	if a.json {
		return printJSON(a.printer.Out(), out)
	}
	renderDefinition(a.printer, args[0], pos, out)
	return nil
}

func renderDefinition(p *ux.Printer, path string, pos lsp.Position, out definitionOutput) {
	if !out.Found {
		p.Info(fmt.Sprintf("No definition for %s:%s", path, pos))
		return
	}
	d := out.Definition
	p.Success(fmt.Sprintf("%s:%s %s %s", path, pos, ux.IconArrow, describeTarget(d)))
	p.Field("path", d.Path)
	p.Field("range", formatRange(d.Range))
	p.Field("kind", d.Kind)
	if d.Name != "" {
		p.Field("name", d.Name)
	}
}

// describeTarget renders a definition as "path:range" or "path (file)".
func describeTarget(d *api.DefinitionInfo) string {
	if d.Kind == "file" {
		return d.Path + " (file)"
	}
	return d.Path + ":" + formatRange(d.Range)
}

// resolutionOutput is the JSON shape of one definitions row.
type resolutionOutput struct {
	Name       string              `json:"name"`
	Range      lsp.Range           `json:"range"`
	Definition *api.DefinitionInfo `json:"definition,omitempty"`
	Error      string              `json:"error,omitempty"`
}

func runDefinitions(cmd *cobra.Command, a *app, args []string) error {
	var results []workspace.Resolution
	err := a.withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
		var err error
		results, err = ws.ResolveAll(cmd.Context(), args[0])
		return err
	})
	if err != nil {
		return err
	}

	out := make([]resolutionOutput, 0, len(results))
	for _, r := range results {
		row := resolutionOutput{
			Name:       r.Identifier.Name,
			Range:      r.Identifier.Range,
			Definition: api.NewDefinitionInfo(r.Definition),
		}
		if r.Err != nil {
			row.Error = r.Err.Error()
		}
		out = append(out, row)
	}

	if a.json {
		return printJSON(a.printer.Out(), out)
	}
	renderDefinitions(a.printer, args[0], out)
	return nil
}

func renderDefinitions(p *ux.Printer, path string, rows []resolutionOutput) {
	p.Title(path)
	resolved := 0
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		target := "none"
		switch {
		case r.Error != "":
			target = "unresolved"
		case r.Definition != nil:
			target = describeTarget(r.Definition)
			resolved++
		}
		table = append(table, []string{r.Name, formatRange(r.Range), target})
	}
	p.Table([]string{"NAME", "RANGE", "DEFINITION"}, table)
	p.Count(resolved, "definition", fmt.Sprintf("resolved of %d identifiers", len(rows)))
}

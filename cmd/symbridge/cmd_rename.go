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
	"strings"

	"github.com/sourcegraph/go-diff/diff"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/symbridge/pkg/ux"
	"github.com/AleutianAI/symbridge/services/workspace"
)

var (
	renameDryRun      bool
	renameWrite       bool
	renameInteractive bool

	renameCmd = &cobra.Command{
		Use:   "rename FILE LINE COL NEW_NAME",
		Short: "Rename the symbol at a position across the workspace",
		Long: `Ask the language server for the edits that rename the symbol at FILE:LINE:COL
and apply them. Every edit is validated before any file changes; a rename with
an edit spanning lines is rejected as a whole.

Without --write the rename changes only the in-memory workspace, which is
useful with --dry-run to review the diff. With --interactive the diff is shown
in a full-screen review and applied only when accepted.`,
		Args: cobra.ExactArgs(4),
		RunE: runWithApp(runRename),
	}
)

func init() {
	renameCmd.Flags().BoolVar(&renameDryRun, "dry-run", false, "print a unified diff instead of applying")
	renameCmd.Flags().BoolVarP(&renameWrite, "write", "w", false, "write renamed files to disk")
	renameCmd.Flags().BoolVarP(&renameInteractive, "interactive", "i", false, "review the diff before applying")
	renameCmd.MarkFlagsMutuallyExclusive("dry-run", "interactive")
}

// renameOutput is the JSON shape of the rename command.
type renameOutput struct {
	Modified  int      `json:"modified"`
	DryRun    bool     `json:"dry_run"`
	Cancelled bool     `json:"cancelled,omitempty"`
	Files     []string `json:"files,omitempty"`
	Diff      string   `json:"diff,omitempty"`
}

func runRename(cmd *cobra.Command, a *app, args []string) error {
	pos, err := parsePosition(args[1], args[2])
	if err != nil {
		return err
	}
	path, newName := args[0], args[3]
	if renameWrite {
		a.cfg.WriteThrough = true
	}

	out := renameOutput{DryRun: renameDryRun}
	err = a.withWorkspace(cmd.Context(), func(ws *workspace.Workspace) error {
		if !renameDryRun && !renameInteractive {
			n, err := ws.ApplyRename(cmd.Context(), path, pos, newName)
			out.Modified = n
			return err
		}
		plan, err := ws.PreviewRename(cmd.Context(), path, pos, newName)
		if err != nil {
			return err
		}
		if renameInteractive {
			return reviewAndApply(cmd, ws, plan, &out)
		}
		d, err := plan.Diff()
		if err != nil {
			return err
		}
		out.Modified = plan.Modified()
		out.Diff = string(d)
		for _, f := range plan.Files {
			if f.Changed() {
				out.Files = append(out.Files, f.Path)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if a.json {
		return printJSON(a.printer.Out(), out)
	}
	renderRename(a.printer, newName, a.cfg.WriteThrough, out)
	return nil
}

// reviewAndApply shows plan in the review screen and applies it when the
// user accepts.
func reviewAndApply(cmd *cobra.Command, ws *workspace.Workspace, plan *workspace.RenamePlan, out *renameOutput) error {
	files, err := reviewFiles(plan)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}
	title := fmt.Sprintf("Rename to %q: %d file(s)", plan.NewName, len(files))
	ok, err := ux.Review(title, files, cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if !ok {
		out.Cancelled = true
		return nil
	}
	out.Modified, err = ws.ApplyPlan(cmd.Context(), plan)
	return err
}

// reviewFiles splits a plan into one diff per changed file.
func reviewFiles(plan *workspace.RenamePlan) ([]ux.ReviewFile, error) {
	fds := plan.FileDiffs()
	files := make([]ux.ReviewFile, 0, len(fds))
	for _, fd := range fds {
		b, err := diff.PrintFileDiff(fd)
		if err != nil {
			return nil, err
		}
		files = append(files, ux.ReviewFile{
			Path: strings.TrimPrefix(fd.NewName, "b/"),
			Diff: string(b),
		})
	}
	return files, nil
}

func renderRename(p *ux.Printer, newName string, wrote bool, out renameOutput) {
	if out.Cancelled {
		p.Info("Rename cancelled")
		return
	}
	if out.DryRun {
		if out.Diff != "" {
			p.Diff([]byte(out.Diff))
		}
		p.Count(out.Modified, "file", "would change")
		return
	}
	if out.Modified == 0 {
		p.Info(fmt.Sprintf("Nothing to rename to %q", newName))
		return
	}
	p.Success(fmt.Sprintf("Renamed to %q", newName))
	suffix := "modified in memory"
	if wrote {
		suffix = "written"
	}
	p.Count(out.Modified, "file", suffix)
}

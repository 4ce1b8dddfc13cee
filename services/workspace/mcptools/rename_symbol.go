// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcptools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AleutianAI/symbridge/services/workspace"
)

// RenameSymbolTool applies or previews a rename.
type RenameSymbolTool struct {
	ws *workspace.Serialized
}

// NewRenameSymbolTool creates the rename_symbol tool.
func NewRenameSymbolTool(ws *workspace.Serialized) *RenameSymbolTool {
	return &RenameSymbolTool{ws: ws}
}

// GetTool returns the MCP tool definition.
func (t *RenameSymbolTool) GetTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Rename the symbol at a position across the workspace. " +
			"All edits are validated before any file changes."),
	}, positionOptions()...)
	opts = append(opts,
		mcp.WithString("new_name", mcp.Required(), mcp.Description("New name for the symbol")),
		mcp.WithBoolean("dry_run", mcp.Description("Return a unified diff without applying the rename")),
	)
	return mcp.NewTool(ToolRenameSymbol, opts...)
}

// Handle processes the tool request.
func (t *RenameSymbolTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, pos, err := positionArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	newName := mcp.ParseString(req, "new_name", "")
	if newName == "" {
		return mcp.NewToolResultError("new_name parameter is required"), nil
	}

	if mcp.ParseBoolean(req, "dry_run", false) {
		plan, err := t.ws.PreviewRename(ctx, path, pos, newName)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to plan rename: %v", err)), nil
		}
		d, err := plan.Diff()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to diff rename: %v", err)), nil
		}
		if len(d) == 0 {
			return mcp.NewToolResultText("Rename would modify 0 file(s)"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Rename would modify %d file(s):\n%s", plan.Modified(), d)), nil
	}

	modified, err := t.ws.ApplyRename(ctx, path, pos, newName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to rename symbol: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Rename complete. Modified %d file(s)", modified)), nil
}

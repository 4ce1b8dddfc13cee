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

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/AleutianAI/symbridge/services/workspace"
)

// ListFilesTool lists the loaded files.
type ListFilesTool struct {
	ws *workspace.Serialized
}

// NewListFilesTool creates the list_files tool.
func NewListFilesTool(ws *workspace.Serialized) *ListFilesTool {
	return &ListFilesTool{ws: ws}
}

// GetTool returns the MCP tool definition.
func (t *ListFilesTool) GetTool() mcp.Tool {
	return mcp.NewTool(ToolListFiles,
		mcp.WithDescription("List the workspace files with line and identifier counts"),
	)
}

// Handle processes the tool request.
func (t *ListFilesTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.ws.Files())
}

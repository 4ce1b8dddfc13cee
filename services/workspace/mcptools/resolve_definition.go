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
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

// ResolveDefinitionTool resolves a definition to a syntax node.
type ResolveDefinitionTool struct {
	ws *workspace.Serialized
}

// NewResolveDefinitionTool creates the resolve_definition tool.
func NewResolveDefinitionTool(ws *workspace.Serialized) *ResolveDefinitionTool {
	return &ResolveDefinitionTool{ws: ws}
}

// definitionResult is the JSON body of a resolved definition.
type definitionResult struct {
	Path     string    `json:"path"`
	Location string    `json:"location"`
	Range    lsp.Range `json:"range"`
	Kind     string    `json:"kind"`
	Name     string    `json:"name,omitempty"`
}

// GetTool returns the MCP tool definition.
func (t *ResolveDefinitionTool) GetTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Find where the symbol at a position is defined. " +
			"Returns the defining identifier, or kind \"file\" when the target is a whole module."),
	}, positionOptions()...)
	return mcp.NewTool(ToolResolveDefinition, opts...)
}

// Handle processes the tool request.
func (t *ResolveDefinitionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, pos, err := positionArgs(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	def, err := t.ws.ResolveDefinition(ctx, path, pos)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve definition: %v", err)), nil
	}
	if def == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No definition found for %s:%d:%d", path, pos.Line, pos.Character)), nil
	}

	return jsonResult(definitionResult{
		Path:     def.Path,
		Location: def.Location,
		Range:    def.Range,
		Kind:     def.Kind.String(),
		Name:     def.Name,
	})
}

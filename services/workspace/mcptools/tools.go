// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mcptools exposes the workspace as Model Context Protocol tools.
//
// Tools:
//
//	list_files         - Loaded files with line and identifier counts
//	resolve_definition - Definition of the symbol at a position, as a node
//	rename_symbol      - Apply or preview a rename across the workspace
//
// Positions are zero-based lines and protocol columns, matching the
// language server.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/AleutianAI/symbridge/services/workspace"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

// Tool names.
const (
	ToolListFiles         = "list_files"
	ToolResolveDefinition = "resolve_definition"
	ToolRenameSymbol      = "rename_symbol"
)

// Tool is one registrable MCP tool.
type Tool interface {
	GetTool() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tools returns every workspace tool over ws.
func Tools(ws *workspace.Serialized) []Tool {
	return []Tool{
		NewListFilesTool(ws),
		NewResolveDefinitionTool(ws),
		NewRenameSymbolTool(ws),
	}
}

// NewServer creates an MCP server with every workspace tool registered.
func NewServer(ws *workspace.Serialized, name, version string) *server.MCPServer {
	s := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	for _, t := range Tools(ws) {
		s.AddTool(t.GetTool(), t.Handle)
	}
	return s
}

// ServeStdio serves s over in and out until ctx is canceled or in closes.
func ServeStdio(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer) error {
	slog.Info("MCP server listening on stdio")
	if err := server.NewStdioServer(s).Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}

// positionArgs reads the shared path, line, and character arguments.
func positionArgs(req mcp.CallToolRequest) (string, lsp.Position, error) {
	path := mcp.ParseString(req, "path", "")
	if path == "" {
		return "", lsp.Position{}, fmt.Errorf("path parameter is required")
	}
	line := int(mcp.ParseFloat64(req, "line", -1))
	character := int(mcp.ParseFloat64(req, "character", -1))
	if line < 0 || character < 0 {
		return "", lsp.Position{}, fmt.Errorf("line and character must be non-negative integers")
	}
	return path, lsp.Position{Line: line, Character: character}, nil
}

func positionOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("path", mcp.Required(), mcp.Description("Workspace-relative file path")),
		mcp.WithNumber("line", mcp.Required(), mcp.Description("Line number (0-based)")),
		mcp.WithNumber("character", mcp.Required(), mcp.Description("Column in the server's position encoding (0-based)")),
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

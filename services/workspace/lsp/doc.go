// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp is the client side of the Language Server Protocol used by
// the workspace to ask an external analysis service for definitions and
// renames.
//
// # Components
//
//   - Protocol: JSON-RPC framing with Content-Length headers, request/response
//     correlation, and replies to server-initiated requests.
//   - Server: lifecycle of one language server process or connection.
//   - Session: explicitly scoped use of a Server. Acquire starts it, Release
//     shuts it down; WithSession guarantees the release.
//
// # Example
//
//	err := lsp.WithSession(ctx, lsp.SessionConfig{
//	    Language: cfg,
//	    RootPath: "/path/to/project",
//	}, func(s *lsp.Session) error {
//	    locs, err := s.Definition(ctx, uri, lsp.Position{Line: 1, Character: 4})
//	    ...
//	})
//
// # Thread Safety
//
// Session serializes its requests; at most one request is outstanding at
// any time.
package lsp

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// PathToURI converts a file path to a file:// URI. Relative paths are made
// absolute first.
func PathToURI(path string) string {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		// Windows drive paths gain a leading slash: file:///C:/x
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// URIToPath decodes a file:// URI into a cleaned local path.
//
// Outputs:
//
//	string - The decoded path
//	error - Non-nil if uri is not a file URI
func URIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse uri %q: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("uri %q: scheme %q is not file", uri, u.Scheme)
	}
	if u.Host != "" && u.Host != "localhost" {
		return "", fmt.Errorf("uri %q: remote host %q", uri, u.Host)
	}

	p := u.Path
	if runtime.GOOS == "windows" && len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.Clean(filepath.FromSlash(p)), nil
}

// definitionResult covers both Location and LocationLink shapes so a
// single decode pass tells them apart.
type definitionResult struct {
	URI                  string `json:"uri"`
	Range                Range  `json:"range"`
	TargetURI            string `json:"targetUri"`
	TargetSelectionRange Range  `json:"targetSelectionRange"`
}

func (d definitionResult) location() (Location, bool) {
	switch {
	case d.TargetURI != "":
		return Location{URI: d.TargetURI, Range: d.TargetSelectionRange}, true
	case d.URI != "":
		return Location{URI: d.URI, Range: d.Range}, true
	default:
		return Location{}, false
	}
}

// ParseLocations decodes a textDocument/definition result.
//
// Description:
//
//	Accepts null, a Location, a Location[], or a LocationLink[]. Links are
//	reduced to their target selection range, which is the identifier span.
//	Order is preserved.
//
// Outputs:
//
//	[]Location - Candidates in server order; nil for null or empty results
//	error - ErrInvalidResponse if the payload matches none of the shapes
func ParseLocations(data json.RawMessage) ([]Location, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '[' {
		var items []definitionResult
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
		if len(items) == 0 {
			return nil, nil
		}
		locs := make([]Location, 0, len(items))
		for i, it := range items {
			loc, ok := it.location()
			if !ok {
				return nil, fmt.Errorf("%w: definition item %d has no uri", ErrInvalidResponse, i)
			}
			locs = append(locs, loc)
		}
		return locs, nil
	}

	var single definitionResult
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	loc, ok := single.location()
	if !ok {
		return nil, fmt.Errorf("%w: definition has no uri", ErrInvalidResponse)
	}
	return []Location{loc}, nil
}

// ParseWorkspaceEdit decodes a textDocument/rename result. A null result
// yields nil, nil.
func ParseWorkspaceEdit(data json.RawMessage) (*WorkspaceEdit, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var edit WorkspaceEdit
	if err := json.Unmarshal(data, &edit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return &edit, nil
}

// FileEdits is the ordered set of text edits for one document.
type FileEdits struct {
	URI   string
	Edits []TextEdit
}

// Batches flattens a WorkspaceEdit into per-document batches.
//
// Description:
//
//	DocumentChanges wins over Changes when both are present. Resource
//	operations (create/rename/delete) carry no text; they are skipped
//	with a warning. The workspace does not create or move files.
//	Batches taken from Changes are ordered by URI.
func (e *WorkspaceEdit) Batches() []FileEdits {
	if e == nil {
		return nil
	}

	if len(e.DocumentChanges) > 0 {
		out := make([]FileEdits, 0, len(e.DocumentChanges))
		for _, dc := range e.DocumentChanges {
			if dc.Kind != "" {
				slog.Warn("Skipping resource operation in workspace edit",
					slog.String("kind", dc.Kind),
					slog.String("uri", dc.URI),
					slog.String("old_uri", dc.OldURI),
					slog.String("new_uri", dc.NewURI),
				)
				continue
			}
			out = append(out, FileEdits{URI: dc.TextDocument.URI, Edits: dc.Edits})
		}
		return out
	}

	uris := make([]string, 0, len(e.Changes))
	for uri := range e.Changes {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	out := make([]FileEdits, 0, len(uris))
	for _, uri := range uris {
		out = append(out, FileEdits{URI: uri, Edits: e.Changes[uri]})
	}
	return out
}

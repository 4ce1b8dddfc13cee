// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

const (
	// DefaultMaxFileSize is the maximum file size the parser will accept (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize is the threshold at which a warning is logged (1MB).
	WarnFileSize = 1 * 1024 * 1024
)

// ParserOption configures a Parser instance.
type ParserOption func(*Parser)

// WithMaxFileSize sets the maximum file size the parser will accept.
//
// Example:
//
//	parser, err := NewParser(grammar, WithMaxFileSize(5 * 1024 * 1024)) // 5MB limit
func WithMaxFileSize(bytes int64) ParserOption {
	return func(p *Parser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// Parser turns file content into trees for a single grammar.
//
// Description:
//
//	The identifier query is compiled once in NewParser and attached to
//	every Tree the parser produces, so each tree exposes the same
//	identifier capability without recompiling the pattern.
//
// Thread Safety:
//
//	Parse is safe for concurrent use. A fresh tree-sitter parser is
//	created per call; the compiled query is only read.
type Parser struct {
	grammar     Grammar
	language    *sitter.Language
	identifiers *sitter.Query
	maxFileSize int64
}

// NewParser creates a parser for the given grammar.
//
// Inputs:
//
//	grammar - The grammar to parse with. Language and IdentifierPattern are required.
//	opts - Optional configuration (WithMaxFileSize).
//
// Outputs:
//
//	*Parser - The configured parser.
//	error - ErrInvalidQuery if the identifier pattern does not compile.
func NewParser(grammar Grammar, opts ...ParserOption) (*Parser, error) {
	if grammar.Language == nil {
		return nil, fmt.Errorf("%w: grammar %q has no language", ErrUnsupportedLanguage, grammar.Name)
	}

	lang := grammar.Language()
	query, err := sitter.NewQuery([]byte(grammar.IdentifierPattern), lang)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidQuery, grammar.Name, err)
	}

	p := &Parser{
		grammar:     grammar,
		language:    lang,
		identifiers: query,
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewParserForLanguage looks up name in the default grammar registry and
// creates a parser for it.
func NewParserForLanguage(name string, opts ...ParserOption) (*Parser, error) {
	g, err := DefaultGrammars().Get(name)
	if err != nil {
		return nil, err
	}
	return NewParser(g, opts...)
}

// Grammar returns the grammar this parser was built for.
func (p *Parser) Grammar() Grammar {
	return p.grammar
}

// Parse parses content into a Tree.
//
// Description:
//
//	Validates size and encoding, then runs a full tree-sitter parse. Files
//	with syntax errors still produce a tree (tree-sitter recovers with
//	ERROR nodes); the tree reports HasErrors and a warning is logged.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	content - File content. The slice is retained by the returned Tree
//	          and must not be modified afterwards.
//	filePath - Path used in errors and logs.
//
// Outputs:
//
//	*Tree - The parsed tree.
//	error - A *ParseError wrapping ErrFileTooLarge, ErrInvalidContent or
//	        ErrParseFailed.
func (p *Parser) Parse(ctx context.Context, content []byte, filePath string) (*Tree, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := startParseSpan(ctx, p.grammar.Name, filePath, len(content))
	defer span.End()
	start := time.Now()

	tree, err := p.parse(ctx, content, filePath)
	if err != nil {
		setParseSpanResult(span, 0, false)
		recordParseMetrics(ctx, p.grammar.Name, time.Since(start), false)
		return nil, err
	}

	setParseSpanResult(span, len(tree.lineStarts), true)
	recordParseMetrics(ctx, p.grammar.Name, time.Since(start), true)
	return tree, nil
}

func (p *Parser) parse(ctx context.Context, content []byte, filePath string) (*Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewParseError(filePath, "parse canceled before start", err)
	}

	if int64(len(content)) > p.maxFileSize {
		return nil, NewParseError(filePath,
			fmt.Sprintf("size %d exceeds limit %d", len(content), p.maxFileSize), ErrFileTooLarge)
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		return nil, NewParseError(filePath, "content is not valid UTF-8", ErrInvalidContent)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(p.language)

	st, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, NewParseError(filePath, "tree-sitter parse failed", fmt.Errorf("%w: %v", ErrParseFailed, err))
	}
	if st == nil || st.RootNode() == nil {
		return nil, NewParseError(filePath, "tree-sitter returned no tree", ErrParseFailed)
	}

	tree := newTree(content, st, p.identifiers)
	if tree.HasErrors() {
		slog.Warn("source contains syntax errors",
			slog.String("file", filePath),
			slog.String("language", p.grammar.Name))
	}
	return tree, nil
}

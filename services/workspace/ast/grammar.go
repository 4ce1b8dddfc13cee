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
	"fmt"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Grammar describes a tree-sitter language and how identifiers are found in it.
type Grammar struct {
	// Name is the language identifier (e.g., "python").
	Name string

	// Extensions are the file extensions handled by this grammar,
	// including the leading dot.
	Extensions []string

	// Language returns the tree-sitter language.
	Language func() *sitter.Language

	// IdentifierPattern is the structural query whose captures form the
	// identifier candidate set of a tree.
	IdentifierPattern string
}

// Identifier patterns per grammar. Go and TypeScript split identifiers
// into several node types, all of which an LSP server may report as a
// definition target.
const (
	pythonIdentifierPattern     = `(identifier) @element`
	goIdentifierPattern         = `[(identifier) (field_identifier) (type_identifier) (package_identifier)] @element`
	javascriptIdentifierPattern = `[(identifier) (property_identifier) (shorthand_property_identifier)] @element`
	typescriptIdentifierPattern = `[(identifier) (property_identifier) (type_identifier) (shorthand_property_identifier)] @element`
)

// GrammarRegistry maps language names and extensions to grammars.
//
// Thread Safety:
//
//	Safe for concurrent use.
type GrammarRegistry struct {
	mu       sync.RWMutex
	byName   map[string]Grammar
	byExtMap map[string]string
}

// NewGrammarRegistry creates a registry pre-populated with the built-in grammars.
func NewGrammarRegistry() *GrammarRegistry {
	r := &GrammarRegistry{
		byName:   make(map[string]Grammar),
		byExtMap: make(map[string]string),
	}

	r.Register(Grammar{
		Name:              "python",
		Extensions:        []string{".py", ".pyi"},
		Language:          python.GetLanguage,
		IdentifierPattern: pythonIdentifierPattern,
	})
	r.Register(Grammar{
		Name:              "go",
		Extensions:        []string{".go"},
		Language:          golang.GetLanguage,
		IdentifierPattern: goIdentifierPattern,
	})
	r.Register(Grammar{
		Name:              "javascript",
		Extensions:        []string{".js", ".jsx", ".mjs", ".cjs"},
		Language:          javascript.GetLanguage,
		IdentifierPattern: javascriptIdentifierPattern,
	})
	r.Register(Grammar{
		Name:              "typescript",
		Extensions:        []string{".ts", ".mts", ".cts"},
		Language:          typescript.GetLanguage,
		IdentifierPattern: typescriptIdentifierPattern,
	})

	return r
}

// Register adds or replaces a grammar. Extensions are matched case-insensitively.
func (r *GrammarRegistry) Register(g Grammar) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byName[g.Name] = g
	for _, ext := range g.Extensions {
		r.byExtMap[strings.ToLower(ext)] = g.Name
	}
}

// Get returns the grammar registered under name.
func (r *GrammarRegistry) Get(name string) (Grammar, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.byName[name]
	if !ok {
		return Grammar{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, name)
	}
	return g, nil
}

// GetByExtension returns the grammar for a file extension such as ".py".
func (r *GrammarRegistry) GetByExtension(ext string) (Grammar, error) {
	r.mu.RLock()
	name, ok := r.byExtMap[strings.ToLower(ext)]
	r.mu.RUnlock()

	if !ok {
		return Grammar{}, fmt.Errorf("%w: extension %q", ErrUnsupportedLanguage, ext)
	}
	return r.Get(name)
}

// Languages returns the registered language names, sorted.
func (r *GrammarRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	defaultRegistry     *GrammarRegistry
	defaultRegistryOnce sync.Once
)

// DefaultGrammars returns the shared registry of built-in grammars.
func DefaultGrammars() *GrammarRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewGrammarRegistry()
	})
	return defaultRegistry
}

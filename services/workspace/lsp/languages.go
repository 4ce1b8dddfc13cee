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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LanguageConfig describes how to launch and talk to one language server.
type LanguageConfig struct {
	// Language is the key shared with the ast grammar registry ("python").
	Language string `yaml:"language"`

	// LanguageID is sent in didOpen ("python", "typescript").
	LanguageID string `yaml:"language_id"`

	// Command is the server binary, resolved through PATH.
	Command string `yaml:"command"`

	// Args are passed to Command.
	Args []string `yaml:"args"`

	// Extensions are the file extensions the server handles, with the dot.
	Extensions []string `yaml:"extensions"`

	// RootFiles mark a project root ("pyproject.toml", "go.mod").
	RootFiles []string `yaml:"root_files"`

	// InitializationOptions are passed verbatim in the initialize request.
	InitializationOptions map[string]interface{} `yaml:"initialization_options"`
}

// HandlesExtension reports whether ext (with dot, any case) belongs to this server.
func (c LanguageConfig) HandlesExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range c.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// FindRoot walks up from dir to the nearest directory holding one of
// RootFiles. It returns dir itself when no marker is found.
func (c LanguageConfig) FindRoot(dir string) string {
	start := filepath.Clean(dir)
	for cur := start; ; {
		for _, marker := range c.RootFiles {
			if _, err := os.Stat(filepath.Join(cur, marker)); err == nil {
				return cur
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return start
		}
		cur = parent
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

// ConfigRegistry holds language server configurations by language name.
//
// Thread Safety:
//
//	Safe for concurrent use.
type ConfigRegistry struct {
	mu      sync.RWMutex
	configs map[string]LanguageConfig
}

// NewConfigRegistry returns a registry preloaded with the built-in servers.
func NewConfigRegistry() *ConfigRegistry {
	r := &ConfigRegistry{configs: make(map[string]LanguageConfig)}
	for _, c := range builtinConfigs() {
		r.configs[c.Language] = c
	}
	return r
}

// Register adds or replaces a configuration.
func (r *ConfigRegistry) Register(c LanguageConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[c.Language] = c
}

// Get returns the configuration for language.
func (r *ConfigRegistry) Get(language string) (LanguageConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.configs[language]
	if !ok {
		return LanguageConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return c, nil
}

// GetByExtension returns the configuration whose server handles ext.
func (r *ConfigRegistry) GetByExtension(ext string) (LanguageConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.sortedLocked() {
		if c := r.configs[name]; c.HandlesExtension(ext) {
			return c, nil
		}
	}
	return LanguageConfig{}, fmt.Errorf("%w: extension %s", ErrUnsupportedLanguage, ext)
}

// Languages returns the registered language names, sorted.
func (r *ConfigRegistry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *ConfigRegistry) sortedLocked() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func builtinConfigs() []LanguageConfig {
	return []LanguageConfig{
		{
			Language:   "python",
			LanguageID: "python",
			Command:    "pyright-langserver",
			Args:       []string{"--stdio"},
			Extensions: []string{".py", ".pyi"},
			RootFiles:  []string{"pyproject.toml", "setup.py", "setup.cfg", "pyrightconfig.json"},
		},
		{
			Language:   "go",
			LanguageID: "go",
			Command:    "gopls",
			Args:       []string{"serve"},
			Extensions: []string{".go"},
			RootFiles:  []string{"go.work", "go.mod"},
		},
		{
			Language:   "typescript",
			LanguageID: "typescript",
			Command:    "typescript-language-server",
			Args:       []string{"--stdio"},
			Extensions: []string{".ts", ".mts", ".cts"},
			RootFiles:  []string{"tsconfig.json", "package.json"},
		},
		{
			Language:   "javascript",
			LanguageID: "javascript",
			Command:    "typescript-language-server",
			Args:       []string{"--stdio"},
			Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
			RootFiles:  []string{"jsconfig.json", "package.json"},
		},
	}
}

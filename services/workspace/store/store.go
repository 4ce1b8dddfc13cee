// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store holds the parsed files of one workspace.
//
// A Store maps workspace-relative paths to records of source text plus the
// syntax tree parsed from exactly that text. Text and tree only change
// together, through ReplaceText, ReplaceAll or Put.
//
// # Thread Safety
//
// A Store is not safe for concurrent mutation. Callers that share one
// across goroutines serialize access themselves.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
)

// DefaultIgnoreDirs are directory names never descended into by Load.
var DefaultIgnoreDirs = []string{".git", ".hg", ".svn", "node_modules", "__pycache__", ".venv", "venv", ".mypy_cache", ".idea"}

// FileRecord is a snapshot of one workspace file.
//
// Tree is always the parse of Text. Records are values; holding one does
// not keep it current after the file is replaced.
type FileRecord struct {
	// Path is workspace-relative and slash-separated.
	Path string

	// Text is the full file content. Shared with Tree; do not modify.
	Text []byte

	// Tree is the syntax tree of Text.
	Tree *ast.Tree
}

// Update is one file's new text for ReplaceAll.
type Update struct {
	Path string
	Text []byte
}

// Option configures Load.
type Option func(*options)

type options struct {
	parser      *ast.Parser
	concurrency int
	ignoreDirs  []string
}

// WithParser parses with p instead of the default grammar for the extension.
func WithParser(p *ast.Parser) Option {
	return func(o *options) { o.parser = p }
}

// WithConcurrency bounds the number of files parsed at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithIgnoreDirs replaces the directory names skipped during the walk.
func WithIgnoreDirs(names ...string) Option {
	return func(o *options) { o.ignoreDirs = names }
}

// Store is the set of parsed files under one root.
type Store struct {
	root     string
	realRoot string
	ext      string
	parser   *ast.Parser
	records  map[string]*FileRecord
	failures []*ast.ParseError
}

// Load walks root, parses every file with extension ext, and returns the
// resulting store.
//
// Description:
//
//	Files are parsed in parallel. A file that cannot be read or parsed is
//	left out of the store and reported by ParseFailures. The store is
//	returned only after every parse has finished.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	root - Workspace root directory.
//	ext - File extension to load, with or without the leading dot.
//	opts - WithParser, WithConcurrency, WithIgnoreDirs.
//
// Outputs:
//
//	*Store - The loaded store.
//	error - ErrIO if root cannot be walked; ast.ErrUnsupportedLanguage if
//	        no grammar handles ext; ctx.Err() if canceled.
func Load(ctx context.Context, root, ext string, opts ...Option) (*Store, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	o := options{concurrency: runtime.GOMAXPROCS(0), ignoreDirs: DefaultIgnoreDirs}
	for _, opt := range opts {
		opt(&o)
	}

	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	parser := o.parser
	if parser == nil {
		grammar, err := ast.DefaultGrammars().GetByExtension(ext)
		if err != nil {
			return nil, err
		}
		if parser, err = ast.NewParser(grammar); err != nil {
			return nil, err
		}
	}

	ctx, span := startLoadSpan(ctx, root, ext)
	defer span.End()
	start := time.Now()

	s, err := load(ctx, root, ext, parser, o)
	if err != nil {
		span.RecordError(err)
		recordLoadMetrics(ctx, parser.Grammar().Name, time.Since(start), 0, 0)
		return nil, err
	}

	setLoadSpanResult(span, len(s.records), len(s.failures))
	recordLoadMetrics(ctx, parser.Grammar().Name, time.Since(start), len(s.records), len(s.failures))
	slog.Info("Workspace loaded",
		slog.String("root", s.root),
		slog.String("extension", ext),
		slog.Int("files", len(s.records)),
		slog.Int("parse_failures", len(s.failures)),
		slog.Duration("duration", time.Since(start)),
	)
	return s, nil
}

func load(ctx context.Context, root, ext string, parser *ast.Parser, o options) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve root %q: %v", ErrIO, root, err)
	}
	abs = filepath.Clean(abs)

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrIO, abs)
	}

	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		realRoot = abs
	}

	files, err := collectFiles(abs, ext, o.ignoreDirs)
	if err != nil {
		return nil, err
	}

	type result struct {
		record  *FileRecord
		failure *ast.ParseError
	}
	results := make([]result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			text, err := os.ReadFile(filepath.Join(abs, filepath.FromSlash(rel)))
			if err != nil {
				results[i].failure = ast.NewParseError(rel, "read failed", err)
				return nil
			}
			tree, err := parser.Parse(gctx, text, rel)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				var perr *ast.ParseError
				if !errors.As(err, &perr) {
					perr = ast.NewParseError(rel, err.Error(), err)
				}
				results[i].failure = perr
				return nil
			}
			results[i].record = &FileRecord{Path: rel, Text: text, Tree: tree}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Store{
		root:     abs,
		realRoot: realRoot,
		ext:      ext,
		parser:   parser,
		records:  make(map[string]*FileRecord, len(files)),
	}
	for _, r := range results {
		switch {
		case r.record != nil:
			s.records[r.record.Path] = r.record
		case r.failure != nil:
			slog.Warn("Excluding file from workspace",
				slog.String("file", r.failure.FilePath),
				slog.String("error", r.failure.Error()),
			)
			s.failures = append(s.failures, r.failure)
		}
	}
	return s, nil
}

// collectFiles returns the slash-separated relative paths of matching
// files under root, in walk order.
func collectFiles(root, ext string, ignore []string) ([]string, error) {
	skip := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		skip[name] = true
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			slog.Warn("Skipping unreadable path", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && skip[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", ErrIO, root, err)
	}
	return files, nil
}

// =============================================================================
// LOOKUPS
// =============================================================================

// GetByRelativePath returns the record for a workspace-relative path.
//
// Outputs:
//
//	FileRecord - Snapshot of the record
//	error - ErrNotFound if no record exists
func (s *Store) GetByRelativePath(path string) (FileRecord, error) {
	key := normalize(path)
	rec, ok := s.records[key]
	if !ok {
		return FileRecord{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return *rec, nil
}

// GetByLocation returns the record for a file URI.
//
// Outputs:
//
//	FileRecord - Snapshot of the record
//	error - ErrInvalidLocation if uri is not a file URI inside the root;
//	        ErrNotFound if the file is inside the root but not loaded
func (s *Store) GetByLocation(uri string) (FileRecord, error) {
	rel, err := s.RelativePath(uri)
	if err != nil {
		return FileRecord{}, err
	}
	return s.GetByRelativePath(rel)
}

// RelativePath maps a file URI to its workspace-relative path.
func (s *Store) RelativePath(uri string) (string, error) {
	p, err := lsp.URIToPath(uri)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if rel, ok := within(s.root, p); ok {
		return rel, nil
	}
	if s.realRoot != s.root {
		if rel, ok := within(s.realRoot, p); ok {
			return rel, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrInvalidLocation, uri)
}

// within returns p relative to root when p lies strictly inside root.
func within(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// LocationOf returns the file URI of a workspace-relative path.
func (s *Store) LocationOf(path string) string {
	return lsp.PathToURI(s.AbsPath(path))
}

// AbsPath returns the absolute filesystem path of a workspace-relative path.
func (s *Store) AbsPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(normalize(path)))
}

// Paths returns every loaded path, sorted.
func (s *Store) Paths() []string {
	paths := make([]string, 0, len(s.records))
	for p := range s.records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of loaded files.
func (s *Store) Len() int {
	return len(s.records)
}

// Root returns the absolute workspace root.
func (s *Store) Root() string {
	return s.root
}

// Extension returns the loaded file extension, with the dot.
func (s *Store) Extension() string {
	return s.ext
}

// Language returns the grammar name files are parsed with.
func (s *Store) Language() string {
	return s.parser.Grammar().Name
}

// ParseFailures returns the files excluded during Load or a later Put.
func (s *Store) ParseFailures() []*ast.ParseError {
	out := make([]*ast.ParseError, len(s.failures))
	copy(out, s.failures)
	return out
}

// =============================================================================
// MUTATIONS
// =============================================================================

// ReplaceText re-parses path with text and swaps the record's text and
// tree together. On a parse failure the record is left unchanged.
//
// Errors:
//
//	ErrNotFound - path is not loaded
//	*ast.ParseError - text could not be parsed
func (s *Store) ReplaceText(ctx context.Context, path string, text []byte) error {
	return s.ReplaceAll(ctx, []Update{{Path: path, Text: text}})
}

// ReplaceAll replaces several files at once. Every update is parsed before
// any record is swapped, so either all records change or none do.
func (s *Store) ReplaceAll(ctx context.Context, updates []Update) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	next := make([]*FileRecord, 0, len(updates))
	for _, u := range updates {
		key := normalize(u.Path)
		if _, ok := s.records[key]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		rec, err := s.parse(ctx, key, u.Text)
		if err != nil {
			return err
		}
		next = append(next, rec)
	}

	for _, rec := range next {
		s.records[rec.Path] = rec
	}
	return nil
}

// Put inserts or replaces a file. Unlike ReplaceText it accepts paths that
// are not loaded yet; it is how files created after Load join the store.
func (s *Store) Put(ctx context.Context, path string, text []byte) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	key := normalize(path)
	if strings.HasPrefix(key, "../") || key == ".." || filepath.IsAbs(key) {
		return fmt.Errorf("%w: %s", ErrInvalidLocation, path)
	}
	rec, err := s.parse(ctx, key, text)
	if err != nil {
		var perr *ast.ParseError
		if _, loaded := s.records[key]; !loaded && errors.As(err, &perr) {
			s.dropFailure(key)
			s.failures = append(s.failures, perr)
		}
		return err
	}
	s.records[key] = rec
	s.dropFailure(key)
	return nil
}

// Remove drops a file from the store. Removing an unknown path is a no-op.
func (s *Store) Remove(path string) {
	key := normalize(path)
	delete(s.records, key)
	s.dropFailure(key)
}

func (s *Store) parse(ctx context.Context, key string, text []byte) (*FileRecord, error) {
	owned := make([]byte, len(text))
	copy(owned, text)

	tree, err := s.parser.Parse(ctx, owned, key)
	if err != nil {
		return nil, ast.WrapParseError(err, key)
	}
	return &FileRecord{Path: key, Text: owned, Tree: tree}, nil
}

func (s *Store) dropFailure(key string) {
	kept := s.failures[:0]
	for _, f := range s.failures {
		if f.FilePath != key {
			kept = append(kept, f)
		}
	}
	s.failures = kept
}

// normalize turns a caller path into a record key.
func normalize(path string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(filepath.FromSlash(path))), "./")
}

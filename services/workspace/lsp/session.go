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
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
)

const (
	// DefaultStartupTimeout bounds process launch plus initialize.
	DefaultStartupTimeout = 30 * time.Second

	// DefaultRequestTimeout bounds a single definition or rename request.
	DefaultRequestTimeout = 30 * time.Second
)

// SessionConfig configures Acquire.
type SessionConfig struct {
	// Language selects the server to run.
	Language LanguageConfig

	// RootPath is the workspace root announced to the server.
	RootPath string

	// Address, when set, connects over TCP to an already running server
	// instead of launching Language.Command.
	Address string

	// Dial overrides how the connection is made. It takes precedence over
	// Address and Language.Command.
	Dial func(ctx context.Context) (net.Conn, error)

	// StartupTimeout bounds launch plus initialize. Zero uses the default.
	StartupTimeout time.Duration

	// RequestTimeout bounds each request. Zero uses the default.
	RequestTimeout time.Duration

	// PositionEncodings are offered to the server in preference order.
	// Empty offers DefaultPositionEncodings.
	PositionEncodings []ast.PositionEncoding
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = DefaultStartupTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Dial == nil && c.Address != "" {
		addr := c.Address
		c.Dial = func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return c
}

// documentState tracks what the server has been told about one document.
type documentState struct {
	version int
	digest  [sha256.Size]byte
}

// Session is an explicitly scoped conversation with a language server.
//
// Description:
//
//	Acquire returns a ready session; Release ends it. Requests are
//	serialized so at most one is outstanding, and none is retried.
//	Documents are announced with didOpen on first sync and updated with
//	full-text didChange afterwards.
//
// Thread Safety:
//
//	Safe for concurrent use; calls block while another request is in flight.
type Session struct {
	id     string
	config SessionConfig
	server *Server

	reqMu sync.Mutex
	docs  map[string]*documentState

	releaseOnce sync.Once
	releaseErr  error
	released    bool
}

// Acquire starts (or connects to) a language server and completes the
// initialize handshake.
//
// Errors:
//
//	ErrServerNotInstalled - The configured command is not on PATH
//	ErrInitializeFailed - The handshake failed
func Acquire(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	cfg = cfg.withDefaults()

	startCtx, cancel := context.WithTimeout(ctx, cfg.StartupTimeout)
	defer cancel()

	server := NewServer(cfg.Language, cfg.RootPath)
	server.OfferEncodings(cfg.PositionEncodings...)

	var err error
	if cfg.Dial != nil {
		var conn net.Conn
		conn, err = cfg.Dial(startCtx)
		if err == nil {
			err = server.Connect(startCtx, conn, conn)
		} else {
			err = fmt.Errorf("dial language server: %w", err)
		}
	} else {
		err = server.Start(startCtx)
	}
	recordSessionAcquire(ctx, cfg.Language.Language, err == nil)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.NewString(),
		config: cfg,
		server: server,
		docs:   make(map[string]*documentState),
	}
	slog.Debug("LSP session acquired",
		slog.String("session_id", s.id),
		slog.String("language", cfg.Language.Language),
	)
	return s, nil
}

// WithSession acquires a session, runs fn, and releases the session even
// when fn fails or panics.
func WithSession(ctx context.Context, cfg SessionConfig, fn func(*Session) error) (err error) {
	s, err := Acquire(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := s.Release(context.Background()); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(s)
}

// Release shuts the server down. Further calls on the session fail with
// ErrSessionReleased. Release is idempotent.
func (s *Session) Release(ctx context.Context) error {
	s.releaseOnce.Do(func() {
		s.reqMu.Lock()
		s.released = true
		s.reqMu.Unlock()

		s.releaseErr = s.server.Shutdown(ctx)
		slog.Debug("LSP session released", slog.String("session_id", s.id))
	})
	return s.releaseErr
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Language returns the session's language name.
func (s *Session) Language() string {
	return s.config.Language.Language
}

// PositionEncoding returns the column unit negotiated with the server.
func (s *Session) PositionEncoding() ast.PositionEncoding {
	return s.server.PositionEncoding()
}

// Definition asks for the definition of the symbol at pos.
//
// Outputs:
//
//	[]Location - Candidates in server order; nil when there are none
//	error - Transport, timeout or server failure
func (s *Session) Definition(ctx context.Context, uri string, pos Position) ([]Location, error) {
	var locs []Location
	err := s.do(ctx, "textDocument/definition", uri, func(ctx context.Context) (int, error) {
		resp, err := s.server.Request(ctx, "textDocument/definition", TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     pos,
		})
		if err != nil {
			return 0, err
		}
		locs, err = ParseLocations(resp.Result)
		return len(locs), err
	})
	return locs, err
}

// Rename asks for the edits that rename the symbol at pos to newName.
//
// Outputs:
//
//	*WorkspaceEdit - The edits; nil when the server returned null
//	error - Transport, timeout or server failure
func (s *Session) Rename(ctx context.Context, uri string, pos Position, newName string) (*WorkspaceEdit, error) {
	var edit *WorkspaceEdit
	err := s.do(ctx, "textDocument/rename", uri, func(ctx context.Context) (int, error) {
		resp, err := s.server.Request(ctx, "textDocument/rename", RenameParams{
			TextDocumentPositionParams: TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: uri},
				Position:     pos,
			},
			NewName: newName,
		})
		if err != nil {
			return 0, err
		}
		edit, err = ParseWorkspaceEdit(resp.Result)
		return len(edit.Batches()), err
	})
	return edit, err
}

// SyncDocument tells the server the current full text of uri. The first
// call sends didOpen; later calls send didChange only when the text differs
// from what was last sent.
func (s *Session) SyncDocument(ctx context.Context, uri, text string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if s.released {
		return ErrSessionReleased
	}

	digest := sha256.Sum256([]byte(text))
	doc, open := s.docs[uri]
	if !open {
		err := s.server.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
			TextDocument: TextDocumentItem{
				URI:        uri,
				LanguageID: s.languageID(),
				Version:    1,
				Text:       text,
			},
		})
		if err != nil {
			return fmt.Errorf("didOpen %s: %w", uri, err)
		}
		s.docs[uri] = &documentState{version: 1, digest: digest}
		return nil
	}

	if doc.digest == digest {
		return nil
	}
	version := doc.version + 1
	err := s.server.Notify("textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
			Version:                &version,
		},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: text}},
	})
	if err != nil {
		return fmt.Errorf("didChange %s: %w", uri, err)
	}
	doc.version = version
	doc.digest = digest
	return nil
}

// do runs one request under the session lock with its timeout, span and
// metrics.
func (s *Session) do(ctx context.Context, method, uri string, fn func(context.Context) (int, error)) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}

	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if s.released {
		return ErrSessionReleased
	}

	language := s.config.Language.Language
	ctx, span := startRequestSpan(ctx, method, language, uri)
	defer span.End()
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	n, err := fn(reqCtx)
	setRequestSpanResult(span, n, err == nil)
	recordRequestMetrics(ctx, method, language, time.Since(start), n, err == nil)
	if err != nil {
		span.RecordError(err)
		var lspErr *LSPError
		if !errors.As(err, &lspErr) {
			slog.Warn("LSP request failed",
				slog.String("session_id", s.id),
				slog.String("method", method),
				slog.String("error", err.Error()),
			)
		}
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (s *Session) languageID() string {
	if s.config.Language.LanguageID != "" {
		return s.config.Language.LanguageID
	}
	return s.config.Language.Language
}

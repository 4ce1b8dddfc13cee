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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/symbridge/services/workspace/ast"
)

// shutdownGrace bounds each step of a graceful shutdown.
const shutdownGrace = 5 * time.Second

// =============================================================================
// SERVER STATE
// =============================================================================

// ServerState is the lifecycle state of a language server.
type ServerState int

const (
	ServerStateUninitialized ServerState = iota
	ServerStateStarting
	ServerStateReady
	ServerStateStopping
	ServerStateStopped
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	names := []string{"uninitialized", "starting", "ready", "stopping", "stopped"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// =============================================================================
// SERVER
// =============================================================================

// Server is one initialized connection to a language server, either a
// child process on stdio or a pre-established stream.
//
// Thread Safety:
//
//	Safe for concurrent use after Start or Connect returns successfully.
type Server struct {
	config   LanguageConfig
	rootPath string

	cmd    *exec.Cmd
	input  io.WriteCloser
	output io.ReadCloser

	protocol     *Protocol
	capabilities ServerCapabilities
	offered      []ast.PositionEncoding
	encoding     ast.PositionEncoding

	state   ServerState
	stateMu sync.RWMutex

	cancel   context.CancelFunc
	readDone chan struct{}
	readErr  error
}

// NewServer creates a server for the language rooted at rootPath. Nothing
// runs until Start or Connect.
func NewServer(config LanguageConfig, rootPath string) *Server {
	return &Server{
		config:   config,
		rootPath: rootPath,
		state:    ServerStateUninitialized,
		offered:  DefaultPositionEncodings,
		encoding: ast.EncodingUTF16,
		readDone: make(chan struct{}),
	}
}

// DefaultPositionEncodings is the client's encoding preference when none
// is configured. Byte columns need no conversion, so utf-8 comes first.
var DefaultPositionEncodings = []ast.PositionEncoding{
	ast.EncodingUTF8,
	ast.EncodingUTF32,
	ast.EncodingUTF16,
}

// OfferEncodings sets the position encodings advertised at initialize, in
// preference order. It must be called before Start or Connect. An empty
// list keeps the default.
func (s *Server) OfferEncodings(encs ...ast.PositionEncoding) {
	if len(encs) > 0 {
		s.offered = encs
	}
}

// Start launches the configured command and performs the initialize
// handshake over its stdio.
//
// Errors:
//
//	ErrServerNotInstalled - Command not found on PATH
//	ErrServerAlreadyStarted - Start or Connect was already called
//	ErrInitializeFailed - The handshake failed
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if err := s.beginStart(); err != nil {
		return err
	}

	path, err := exec.LookPath(s.config.Command)
	if err != nil {
		s.setState(ServerStateStopped)
		slog.Warn("LSP server not installed",
			slog.String("language", s.config.Language),
			slog.String("command", s.config.Command),
		)
		return fmt.Errorf("%w: %s", ErrServerNotInstalled, s.config.Command)
	}

	slog.Info("Starting LSP server",
		slog.String("language", s.config.Language),
		slog.String("command", path),
		slog.String("root_path", s.rootPath),
	)

	s.cmd = exec.Command(path, s.config.Args...)
	s.cmd.Dir = s.rootPath
	s.cmd.Stderr = io.Discard

	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		s.setState(ServerStateStopped)
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		s.setState(ServerStateStopped)
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := s.cmd.Start(); err != nil {
		_ = stdin.Close()
		s.setState(ServerStateStopped)
		return fmt.Errorf("start process: %w", err)
	}

	return s.attach(ctx, stdout, stdin)
}

// Connect performs the initialize handshake over an established stream,
// such as a TCP connection to a running server. The server owns r and w
// from here on and closes them on Shutdown.
func (s *Server) Connect(ctx context.Context, r io.ReadCloser, w io.WriteCloser) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if err := s.beginStart(); err != nil {
		return err
	}
	return s.attach(ctx, r, w)
}

func (s *Server) beginStart() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != ServerStateUninitialized {
		return ErrServerAlreadyStarted
	}
	s.state = ServerStateStarting
	return nil
}

// attach wires the protocol to the streams, starts the read loop, and runs
// the handshake.
func (s *Server) attach(ctx context.Context, r io.ReadCloser, w io.WriteCloser) error {
	s.input = w
	s.output = r
	s.protocol = NewProtocol(r, w)

	var loopCtx context.Context
	loopCtx, s.cancel = context.WithCancel(context.Background())
	go func() {
		defer close(s.readDone)
		s.readErr = s.protocol.ReadLoop(loopCtx)
		if s.readErr != nil {
			slog.Debug("LSP read loop ended",
				slog.String("language", s.config.Language),
				slog.String("error", s.readErr.Error()),
			)
		}
	}()

	if err := s.initialize(ctx); err != nil {
		_ = s.Shutdown(context.Background())
		return fmt.Errorf("%w: %v", ErrInitializeFailed, err)
	}

	s.setState(ServerStateReady)
	slog.Info("LSP server ready",
		slog.String("language", s.config.Language),
		slog.String("position_encoding", string(s.encoding)),
		slog.Bool("definition", s.capabilities.HasDefinitionProvider()),
		slog.Bool("rename", s.capabilities.HasRenameProvider()),
	)
	return nil
}

// initialize runs initialize/initialized and records the negotiated
// position encoding.
func (s *Server) initialize(ctx context.Context) error {
	rootURI := PathToURI(s.rootPath)
	offered := make([]string, 0, len(s.offered))
	for _, enc := range s.offered {
		offered = append(offered, string(enc))
	}
	params := InitializeParams{
		ProcessID: os.Getpid(),
		RootURI:   rootURI,
		RootPath:  s.rootPath,
		Capabilities: ClientCapabilities{
			General: &GeneralClientCapabilities{
				PositionEncodings: offered,
			},
			TextDocument: TextDocumentClientCapabilities{
				Synchronization: &TextDocumentSyncClientCapabilities{},
				Definition:      &DefinitionCapabilities{LinkSupport: true},
				Rename:          &RenameCapabilities{},
			},
			Workspace: WorkspaceClientCapabilities{
				WorkspaceEdit: &WorkspaceEditClientCapabilities{DocumentChanges: true},
				Configuration: true,
			},
		},
		WorkspaceFolders: []WorkspaceFolder{
			{URI: rootURI, Name: filepath.Base(s.rootPath)},
		},
	}
	if s.config.InitializationOptions != nil {
		params.InitializationOptions = s.config.InitializationOptions
	}

	resp, err := s.protocol.SendRequest(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	var result InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	s.capabilities = result.Capabilities

	if enc := ast.PositionEncoding(result.Capabilities.PositionEncoding); enc != "" {
		if !enc.Valid() {
			return fmt.Errorf("server chose unsupported position encoding %q", enc)
		}
		s.encoding = enc
	}

	if err := s.protocol.SendNotification("initialized", struct{}{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// Shutdown sends shutdown and exit, closes the streams, and reaps the
// process. It is idempotent; the server is stopped when it returns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == ServerStateStopped || s.state == ServerStateStopping {
		s.stateMu.Unlock()
		return nil
	}
	wasReady := s.state == ServerStateReady
	s.state = ServerStateStopping
	s.stateMu.Unlock()
	defer s.setState(ServerStateStopped)

	slog.Info("Shutting down LSP server", slog.String("language", s.config.Language))

	if s.protocol != nil {
		if wasReady {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
			_, _ = s.protocol.SendRequest(shutdownCtx, "shutdown", nil)
			cancel()
			_ = s.protocol.SendNotification("exit", nil)
		}
		s.protocol.Close()
	}

	if s.input != nil {
		_ = s.input.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- s.cmd.Wait() }()
		select {
		case <-time.After(shutdownGrace):
			_ = s.cmd.Process.Kill()
			<-done
		case <-done:
		}
	}

	if s.output != nil {
		_ = s.output.Close()
	}
	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.readDone:
		case <-time.After(time.Second):
		}
	}
	return nil
}

// =============================================================================
// ACCESSORS
// =============================================================================

// State returns the current lifecycle state.
func (s *Server) State() ServerState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Language returns the configured language name.
func (s *Server) Language() string {
	return s.config.Language
}

// Config returns the language configuration.
func (s *Server) Config() LanguageConfig {
	return s.config
}

// RootPath returns the workspace root announced to the server.
func (s *Server) RootPath() string {
	return s.rootPath
}

// Capabilities returns what the server announced during initialize.
func (s *Server) Capabilities() ServerCapabilities {
	return s.capabilities
}

// PositionEncoding returns the negotiated column unit.
func (s *Server) PositionEncoding() ast.PositionEncoding {
	return s.encoding
}

// =============================================================================
// REQUEST METHODS
// =============================================================================

// Request sends a request to a ready server and waits for its response.
func (s *Server) Request(ctx context.Context, method string, params interface{}) (*Response, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if s.State() != ServerStateReady {
		return nil, ErrServerNotRunning
	}
	resp, err := s.protocol.SendRequest(ctx, method, params)
	if err != nil && s.crashed() {
		return nil, fmt.Errorf("%w: %v", ErrServerCrashed, err)
	}
	return resp, err
}

// Notify sends a notification to a ready server.
func (s *Server) Notify(method string, params interface{}) error {
	if s.State() != ServerStateReady {
		return ErrServerNotRunning
	}
	return s.protocol.SendNotification(method, params)
}

func (s *Server) crashed() bool {
	select {
	case <-s.readDone:
		return s.readErr != nil
	default:
		return false
	}
}

func (s *Server) setState(state ServerState) {
	s.stateMu.Lock()
	s.state = state
	s.stateMu.Unlock()
}

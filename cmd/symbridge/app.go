// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/symbridge/pkg/logging"
	"github.com/AleutianAI/symbridge/pkg/ux"
	"github.com/AleutianAI/symbridge/services/workspace"
	"github.com/AleutianAI/symbridge/services/workspace/ast"
	"github.com/AleutianAI/symbridge/services/workspace/config"
	"github.com/AleutianAI/symbridge/services/workspace/lsp"
	"github.com/AleutianAI/symbridge/services/workspace/store"
	"github.com/AleutianAI/symbridge/services/workspace/telemetry"
)

// app holds what every command needs after startup.
type app struct {
	cfg     config.Config
	root    string
	ext     string
	logger  *logging.Logger
	printer *ux.Printer
	errOut  io.Writer
	json    bool

	shutdownTelemetry func(context.Context) error
}

// loadConfig layers the config file, the environment, and changed flags,
// then validates the result.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, &exitError{code: 2, err: err}
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, &exitError{code: 2, err: err}
	}
	return cfg, nil
}

// applyFlags copies global flags the user set onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("root") {
		cfg.Root = rootDir
	}
	if changed("language") {
		cfg.Language = language
		cfg.Extension = ""
	}
	if changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if changed("log-json") {
		cfg.Logging.JSON = logJSON
	}
	if changed("trace-exporter") {
		cfg.Telemetry.Traces = traceExporter
	}
	if changed("metric-exporter") {
		cfg.Telemetry.Metrics = metricExporter
	}
}

// newApp loads configuration and starts logging and telemetry.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	ext, err := cfg.FileExtension()
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logCfg := logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Telemetry.ServiceName,
		Writer:  cmd.ErrOrStderr(),
	}
	if cfg.Logging.JSON {
		logCfg.Format = logging.FormatJSON
	}
	logger := logging.New(logCfg)
	logger.Install()
	if err := logger.FileError(); err != nil {
		logger.Warn("File logging disabled", slog.String("error", err.Error()))
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = cfg.Telemetry.ServiceName
	tcfg.ServiceVersion = version
	tcfg.TraceExporter = cfg.Telemetry.Traces
	tcfg.MetricExporter = cfg.Telemetry.Metrics
	if cfg.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	tcfg.OTLPInsecure = !cfg.Telemetry.OTLPTLS
	tcfg.Output = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	out := cmd.OutOrStdout()
	mode := ux.DetectMode(out)
	if outputMode != "" {
		mode = ux.ParseMode(outputMode)
	}

	return &app{
		cfg:               cfg,
		root:              root,
		ext:               ext,
		logger:            logger,
		printer:           ux.NewPrinter(out, cmd.ErrOrStderr(), mode),
		errOut:            cmd.ErrOrStderr(),
		json:              jsonOutput,
		shutdownTelemetry: shutdown,
	}, nil
}

// Close flushes telemetry and the log file.
func (a *app) Close() {
	if err := a.shutdownTelemetry(context.Background()); err != nil {
		slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
	}
	_ = a.logger.Close()
}

// loadStore parses the workspace.
func (a *app) loadStore(ctx context.Context) (*store.Store, error) {
	parser, err := ast.NewParserForLanguage(a.cfg.Language)
	if err != nil {
		return nil, err
	}
	opts := []store.Option{
		store.WithParser(parser),
		store.WithConcurrency(a.cfg.Concurrency),
	}
	if len(a.cfg.IgnoreDirs) > 0 {
		opts = append(opts, store.WithIgnoreDirs(a.cfg.IgnoreDirs...))
	}
	return store.Load(ctx, a.root, a.ext, opts...)
}

// withWorkspace loads the store, starts a language server session, and
// runs fn with a workspace over both. The session is released afterwards.
func (a *app) withWorkspace(ctx context.Context, fn func(*workspace.Workspace) error) error {
	st, err := a.loadStore(ctx)
	if err != nil {
		return err
	}
	for _, pe := range st.ParseFailures() {
		slog.Warn("File excluded", slog.String("path", pe.FilePath), slog.String("reason", pe.Message))
	}

	sessCfg, err := a.cfg.SessionConfig(a.root)
	if err != nil {
		return err
	}

	spin := ux.NewSpinner(a.errOut, a.spinnerMode(), "Starting "+sessCfg.Language.Command)
	spin.Start()
	sess, err := lsp.Acquire(ctx, sessCfg)
	spin.Stop()
	if err != nil {
		if errors.Is(err, lsp.ErrServerNotInstalled) {
			return fmt.Errorf("%w: install %s or set server.command", err, sessCfg.Language.Command)
		}
		return err
	}
	defer func() {
		if err := sess.Release(context.Background()); err != nil {
			slog.Warn("Language server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	ws := workspace.New(st, sess, workspace.WithWriteThrough(a.cfg.WriteThrough))
	return fn(ws)
}

// spinnerMode animates only when stderr is a terminal and results are not
// JSON.
func (a *app) spinnerMode() ux.Mode {
	if a.json || !ux.IsTerminal(a.errOut) {
		return ux.ModeMachine
	}
	return a.printer.Mode()
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runWithApp wraps a command body with app setup and teardown.
func runWithApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command symbridge maps language server answers onto syntax trees.
//
// It loads every file of one language under a root, starts a language
// server for the same root, and exposes definition lookup and rename on
// the command line, over HTTP, and as MCP tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// --- Global flags ---
var (
	configPath     string
	rootDir        string
	language       string
	logLevel       string
	logJSON        bool
	traceExporter  string
	metricExporter string
	jsonOutput     bool
	outputMode     string

	rootCmd = &cobra.Command{
		Use:   "symbridge",
		Short: "Reconcile language server positions with syntax trees",
		Long: `symbridge loads a workspace of source files, parses them with tree-sitter,
and asks a language server for definitions and renames. Every answer is mapped
back onto a concrete identifier node, and renames are applied atomically to
the in-memory workspace (and optionally to disk).

Positions are zero-based lines and columns in the server's position encoding.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ./symbridge.yaml when present)")
	pf.StringVar(&rootDir, "root", "", "workspace root directory")
	pf.StringVar(&language, "language", "", "workspace language (python, go, javascript, typescript)")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&logJSON, "log-json", false, "write logs as JSON")
	pf.StringVar(&traceExporter, "trace-exporter", "", "trace exporter (none, stdout, otlp)")
	pf.StringVar(&metricExporter, "metric-exporter", "", "metric exporter (none, stdout, prometheus)")
	pf.BoolVar(&jsonOutput, "json", false, "print results as JSON")
	pf.StringVar(&outputMode, "output", "", "output style (rich, plain, machine); default detects the terminal")

	rootCmd.AddCommand(
		filesCmd,
		identifiersCmd,
		definitionCmd,
		definitionsCmd,
		renameCmd,
		serveCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(1)
	}
}

// exitError carries a specific process exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

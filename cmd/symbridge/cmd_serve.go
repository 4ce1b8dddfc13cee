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
	"errors"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/symbridge/services/workspace"
	"github.com/AleutianAI/symbridge/services/workspace/api"
	"github.com/AleutianAI/symbridge/services/workspace/mcptools"
	"github.com/AleutianAI/symbridge/services/workspace/store"
	"github.com/AleutianAI/symbridge/services/workspace/telemetry"
)

var (
	serveHTTP  string
	serveMCP   bool
	serveWatch bool

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the workspace over HTTP and/or MCP",
		Long: `Keep one workspace and one language server session alive and answer
definition and rename requests until interrupted.

  --http ADDR   serve the REST API under /v1/workspace (default from http.address)
  --mcp         serve MCP tools on stdin/stdout
  --watch       apply file changes made on disk to the workspace`,
		Args: cobra.NoArgs,
		RunE: runWithApp(runServe),
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveHTTP, "http", "", "HTTP listen address, e.g. 127.0.0.1:8090")
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "serve MCP tools over stdio")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "watch the root for changes")
}

// errNoSurface is returned when serve has nothing to serve.
var errNoSurface = errors.New("serve needs --http, --mcp, or http.address in the config")

func runServe(cmd *cobra.Command, a *app, _ []string) error {
	addr := serveHTTP
	if addr == "" {
		addr = a.cfg.HTTP.Address
	}
	if addr == "" && !serveMCP {
		return &exitError{code: 2, err: errNoSurface}
	}
	watch := serveWatch || a.cfg.Watch.Enabled

	if a.cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := cmd.Context()
	return a.withWorkspace(ctx, func(w *workspace.Workspace) error {
		ws := workspace.NewSerialized(w)
		g, gctx := errgroup.WithContext(ctx)

		if watch {
			watcher, err := store.NewWatcher(a.root, a.ext, ws.ApplyChanges, &store.WatcherOptions{
				Debounce:   a.cfg.Watch.Debounce,
				IgnoreDirs: a.cfg.IgnoreDirs,
			})
			if err != nil {
				return err
			}
			if err := watcher.Start(gctx); err != nil {
				return err
			}
			defer watcher.Stop()
			slog.Info("Watching workspace", slog.String("root", a.root), slog.String("extension", a.ext))
		}

		if addr != "" {
			router := api.NewRouter(api.NewHandlers(ws), api.RouterOptions{
				ServiceName: a.cfg.Telemetry.ServiceName,
				Metrics:     telemetry.MetricsHandler(),
				RateLimit:   a.cfg.HTTP.RateLimit,
				Burst:       a.cfg.HTTP.Burst,
			})
			g.Go(func() error {
				return api.Serve(gctx, addr, router)
			})
		}

		if serveMCP {
			s := mcptools.NewServer(ws, "symbridge", version)
			g.Go(func() error {
				return mcptools.ServeStdio(gctx, s, os.Stdin, os.Stdout)
			})
		}

		slog.Info("Serving workspace",
			slog.String("root", a.root),
			slog.String("language", a.cfg.Language),
			slog.Int("files", w.Store().Len()),
			slog.String("http", addr),
			slog.Bool("mcp", serveMCP),
		)
		return g.Wait()
	})
}

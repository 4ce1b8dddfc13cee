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
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("symbridge.lsp")
	meter  = otel.Meter("symbridge.lsp")
)

// instruments holds the session's OTel instruments. They are created on first
// use; a creation failure disables recording for the process.
type instruments struct {
	latency  metric.Float64Histogram
	requests metric.Int64Counter
	acquires metric.Int64Counter
	results  metric.Int64Histogram
}

var (
	inst     *instruments
	instOnce sync.Once
)

func loadInstruments() *instruments {
	instOnce.Do(func() {
		var i instruments
		var errs [4]error
		i.latency, errs[0] = meter.Float64Histogram("lsp_request_duration_seconds",
			metric.WithDescription("Round trip of one definition, rename or sync request"),
			metric.WithUnit("s"))
		i.requests, errs[1] = meter.Int64Counter("lsp_request_total",
			metric.WithDescription("Requests sent to the language server by method"))
		i.acquires, errs[2] = meter.Int64Counter("lsp_session_acquire_total",
			metric.WithDescription("Language server sessions started or dialed"))
		i.results, errs[3] = meter.Int64Histogram("lsp_result_count",
			metric.WithDescription("Locations or edited files returned per request"))
		if err := errors.Join(errs[:]...); err != nil {
			slog.Debug("LSP metrics disabled", slog.String("error", err.Error()))
			return
		}
		inst = &i
	})
	return inst
}

func startRequestSpan(ctx context.Context, method, language, uri string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Session."+method, trace.WithAttributes(
		attribute.String("lsp.method", method),
		attribute.String("lsp.language", language),
		attribute.String("lsp.uri", uri),
	))
}

func setRequestSpanResult(span trace.Span, results int, success bool) {
	span.SetAttributes(attribute.Int("lsp.result_count", results), attribute.Bool("lsp.success", success))
}

func recordRequestMetrics(ctx context.Context, method, language string, d time.Duration, results int, success bool) {
	i := loadInstruments()
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("language", language),
		attribute.Bool("success", success),
	)
	i.latency.Record(ctx, d.Seconds(), attrs)
	i.requests.Add(ctx, 1, attrs)
	if success {
		i.results.Record(ctx, int64(results), metric.WithAttributes(attribute.String("method", method)))
	}
}

func recordSessionAcquire(ctx context.Context, language string, success bool) {
	if i := loadInstruments(); i != nil {
		i.acquires.Add(ctx, 1, metric.WithAttributes(
			attribute.String("language", language),
			attribute.Bool("success", success),
		))
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("symbridge.store")
	meter  = otel.Meter("symbridge.store")
)

// loadMetrics are recorded once per Load.
type loadMetrics struct {
	duration metric.Float64Histogram
	files    metric.Int64Histogram
	failures metric.Int64Counter
}

var loadMetricsOnce = sync.OnceValues(func() (*loadMetrics, error) {
	duration, err := meter.Float64Histogram("store_load_duration_seconds",
		metric.WithDescription("Walk and parse time of a workspace load"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	files, err := meter.Int64Histogram("store_loaded_files",
		metric.WithDescription("Files held by the store after a load"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("store_parse_failures_total",
		metric.WithDescription("Files excluded from the store at load time"))
	if err != nil {
		return nil, err
	}
	return &loadMetrics{duration: duration, files: files, failures: failures}, nil
})

func startLoadSpan(ctx context.Context, root, ext string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "store.Load", trace.WithAttributes(
		attribute.String("store.root", root),
		attribute.String("store.extension", ext),
	))
}

func setLoadSpanResult(span trace.Span, files, failures int) {
	span.SetAttributes(attribute.Int("store.files", files), attribute.Int("store.parse_failures", failures))
}

func recordLoadMetrics(ctx context.Context, language string, d time.Duration, files, failures int) {
	m, err := loadMetricsOnce()
	if err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("language", language))
	m.duration.Record(ctx, d.Seconds(), attrs)
	m.files.Record(ctx, int64(files), attrs)
	if failures > 0 {
		m.failures.Add(ctx, int64(failures), attrs)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("symbridge.workspace")
	meter  = otel.Meter("symbridge.workspace")
)

// operationMetrics count definition and rename outcomes.
type operationMetrics struct {
	definitions        metric.Int64Counter
	definitionDuration metric.Float64Histogram
	renames            metric.Int64Counter
	renameFiles        metric.Int64Histogram
}

var opMetrics = sync.OnceValues(func() (*operationMetrics, error) {
	var m operationMetrics
	var err error
	if m.definitions, err = meter.Int64Counter("workspace_definitions_total",
		metric.WithDescription("Definition resolutions by outcome")); err != nil {
		return nil, err
	}
	if m.definitionDuration, err = meter.Float64Histogram("workspace_definition_duration_seconds",
		metric.WithDescription("Definition resolution including the server round trip"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.renames, err = meter.Int64Counter("workspace_renames_total",
		metric.WithDescription("Rename applications by outcome")); err != nil {
		return nil, err
	}
	if m.renameFiles, err = meter.Int64Histogram("workspace_rename_files_modified",
		metric.WithDescription("Files modified per applied rename")); err != nil {
		return nil, err
	}
	return &m, nil
})

func startSpan(ctx context.Context, name, path string, line, character int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("workspace.path", path),
			attribute.Int("workspace.line", line),
			attribute.Int("workspace.character", character),
		),
	)
}

func endSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func recordDefinitionMetrics(ctx context.Context, outcome string, d time.Duration) {
	m, err := opMetrics()
	if err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.definitions.Add(ctx, 1, attrs)
	m.definitionDuration.Record(ctx, d.Seconds(), attrs)
}

func recordRenameMetrics(ctx context.Context, outcome string, files int) {
	m, err := opMetrics()
	if err != nil {
		return
	}
	m.renames.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "applied" {
		m.renameFiles.Record(ctx, int64(files))
	}
}

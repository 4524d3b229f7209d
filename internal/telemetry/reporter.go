package telemetry

import (
	"context"
	"log/slog"

	"github.com/dunamismax/pixelpress/internal/compress"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// LogReporter writes engine events to a structured logger. Strategy events
// go out at debug level, selections at info.
type LogReporter struct {
	Logger *slog.Logger
}

func (r LogReporter) StrategyFinished(ctx context.Context, ev compress.StrategyEvent) {
	if r.Logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("strategy", ev.Strategy),
		slog.String("format", string(ev.Format)),
		slog.Int("source_bytes", ev.SourceBytes),
		slog.Duration("duration", ev.Duration),
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
		r.Logger.LogAttrs(ctx, slog.LevelDebug, "strategy failed", attrs...)
		return
	}
	attrs = append(attrs,
		slog.String("path", ev.Path),
		slog.Int("output_bytes", ev.OutputBytes),
		slog.Float64("raw_ratio", ev.RawRatio),
	)
	r.Logger.LogAttrs(ctx, slog.LevelDebug, "strategy finished", attrs...)
}

func (r LogReporter) SelectionFinished(ctx context.Context, ev compress.SelectionEvent) {
	if r.Logger == nil {
		return
	}
	r.Logger.LogAttrs(ctx, slog.LevelInfo, "compression selected",
		slog.String("strategy", ev.Strategy),
		slog.String("format", string(ev.Format)),
		slog.Bool("pass_through", ev.PassThrough),
		slog.Float64("ratio_percent", ev.RatioPercent),
		slog.Float64("raw_ratio", ev.RawRatio),
		slog.Int("attempts", ev.Attempts),
		slog.Int("failures", ev.Failures),
		slog.Duration("duration", ev.Duration),
	)
}

// SpanReporter records engine events on the span carried by ctx. Events on
// a non-recording span are dropped by the otel SDK.
type SpanReporter struct{}

func (SpanReporter) StrategyFinished(ctx context.Context, ev compress.StrategyEvent) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("compress.strategy", ev.Strategy),
		attribute.String("compress.format", string(ev.Format)),
		attribute.Int("compress.source_bytes", ev.SourceBytes),
		attribute.Int64("compress.duration_ms", ev.Duration.Milliseconds()),
	}
	if ev.Err != nil {
		attrs = append(attrs, attribute.String("compress.error", ev.Err.Error()))
	} else {
		attrs = append(attrs,
			attribute.String("compress.path", ev.Path),
			attribute.Int("compress.output_bytes", ev.OutputBytes),
			attribute.Float64("compress.raw_ratio", ev.RawRatio),
		)
	}
	span.AddEvent("compress.strategy", trace.WithAttributes(attrs...))
}

func (SpanReporter) SelectionFinished(ctx context.Context, ev compress.SelectionEvent) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent("compress.selection", trace.WithAttributes(
		attribute.String("compress.strategy", ev.Strategy),
		attribute.String("compress.format", string(ev.Format)),
		attribute.Bool("compress.pass_through", ev.PassThrough),
		attribute.Float64("compress.ratio_percent", ev.RatioPercent),
		attribute.Int("compress.attempts", ev.Attempts),
		attribute.Int("compress.failures", ev.Failures),
	))
}

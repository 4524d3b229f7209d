package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelpress/internal/compress"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := LogReporter{Logger: newLogger(&buf, "test", slog.LevelDebug)}

	r.StrategyFinished(context.Background(), compress.StrategyEvent{
		Strategy:    "webp",
		Format:      compress.FormatWebP,
		Path:        compress.PathRaster,
		SourceBytes: 1000,
		OutputBytes: 400,
		RawRatio:    0.6,
		Duration:    time.Millisecond,
	})
	r.StrategyFinished(context.Background(), compress.StrategyEvent{
		Strategy: "jpeg",
		Format:   compress.FormatJPEG,
		Err:      errors.New("decoder exploded"),
	})
	r.SelectionFinished(context.Background(), compress.SelectionEvent{
		Strategy:     "webp",
		Format:       compress.FormatWebP,
		RatioPercent: 60,
		Attempts:     2,
		Failures:     1,
	})

	out := buf.String()
	for _, want := range []string{
		"component=test",
		"msg=\"strategy finished\"",
		"output_bytes=400",
		"msg=\"strategy failed\"",
		"error=\"decoder exploded\"",
		"msg=\"compression selected\"",
		"failures=1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestLogReporterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	r := LogReporter{Logger: newLogger(&buf, "test", slog.LevelInfo)}
	r.StrategyFinished(context.Background(), compress.StrategyEvent{Strategy: "webp"})
	if buf.Len() != 0 {
		t.Fatalf("expected strategy events to be debug only, got %s", buf.String())
	}
}

func TestSpanReporterAddsEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "compress")

	var r SpanReporter
	r.StrategyFinished(ctx, compress.StrategyEvent{Strategy: "webp", Format: compress.FormatWebP, OutputBytes: 10})
	r.SelectionFinished(ctx, compress.SelectionEvent{Strategy: "webp", Format: compress.FormatWebP, Attempts: 1})
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 2 || events[0].Name != "compress.strategy" || events[1].Name != "compress.selection" {
		t.Fatalf("unexpected span events %+v", events)
	}

	// No span in context: must not panic.
	r.StrategyFinished(context.Background(), compress.StrategyEvent{Strategy: "webp"})
}

package compress

import (
	"context"
	"time"
)

// StrategyEvent is emitted once per attempted strategy. RawRatio is the
// unclamped (source-output)/source and is negative when the output grew.
type StrategyEvent struct {
	Strategy    string
	Format      Format
	Path        string
	SourceBytes int
	OutputBytes int
	RawRatio    float64
	Duration    time.Duration
	Err         error
}

// SelectionEvent is emitted once per request after the winner is chosen.
// Err is ErrExhausted for a pass-through.
type SelectionEvent struct {
	Strategy     string
	Format       Format
	PassThrough  bool
	RawRatio     float64
	RatioPercent float64
	Attempts     int
	Failures     int
	Duration     time.Duration
	Err          error
}

// Reporter observes the engine. Implementations must be safe for
// concurrent use; batch requests report from several goroutines.
type Reporter interface {
	StrategyFinished(ctx context.Context, ev StrategyEvent)
	SelectionFinished(ctx context.Context, ev SelectionEvent)
}

type NopReporter struct{}

func (NopReporter) StrategyFinished(context.Context, StrategyEvent)   {}
func (NopReporter) SelectionFinished(context.Context, SelectionEvent) {}

// MultiReporter fans events out in order.
type MultiReporter []Reporter

func (m MultiReporter) StrategyFinished(ctx context.Context, ev StrategyEvent) {
	for _, r := range m {
		if r != nil {
			r.StrategyFinished(ctx, ev)
		}
	}
}

func (m MultiReporter) SelectionFinished(ctx context.Context, ev SelectionEvent) {
	for _, r := range m {
		if r != nil {
			r.SelectionFinished(ctx, ev)
		}
	}
}

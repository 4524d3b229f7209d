package compress

import (
	"context"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Config wires the engine. The zero value is usable: NumCPU workers,
// libvips when compiled in, the standard raster codec and no reporter.
type Config struct {
	Workers        int
	DisablePrimary bool
	// Primary overrides the build's primary encoder.
	Primary  PrimaryEncoder
	Codec    RasterCodec
	Reporter Reporter
}

// Request is one compression job as supplied by the caller. Quality outside
// 0..100 is clamped. Zero MaxWidth/MaxHeight means unbounded.
type Request struct {
	Source              []byte
	MimeType            string
	Quality             int
	Format              Format
	MaxWidth            int
	MaxHeight           int
	MaintainAspectRatio bool
}

// Result is owned by the caller once returned.
type Result struct {
	OriginalSize         int        `json:"original_size"`
	CompressedSize       int        `json:"compressed_size"`
	RatioPercent         float64    `json:"compression_ratio_percent"`
	OutputFormat         Format     `json:"output_format"`
	OriginalDimensions   Dimensions `json:"original_dimensions"`
	CompressedDimensions Dimensions `json:"compressed_dimensions"`
	Output               []byte     `json:"-"`
	Strategy             string     `json:"strategy"`
	PassThrough          bool       `json:"pass_through"`
}

// BatchOutcome is one element of a batch: a result or an error, never both.
type BatchOutcome struct {
	Result Result
	Err    error
}

type Engine struct {
	selector *Selector
	reporter Reporter
	workers  int
}

func NewEngine(cfg Config) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = NopReporter{}
	}

	primary := cfg.Primary
	if primary == nil {
		primary = newPrimaryEncoder()
	}
	if cfg.DisablePrimary {
		primary = unavailablePrimary{}
	}

	encoder := NewCandidateEncoder(primary, NewRasterEncoder(cfg.Codec))
	return &Engine{
		selector: NewSelector(encoder, reporter),
		reporter: reporter,
		workers:  workers,
	}
}

func (e *Engine) Workers() int { return e.workers }

// Compress returns the smallest encoding of req.Source that is strictly
// smaller than the source, or the source itself as a pass-through. Only
// invalid input and cancellation produce an error.
func (e *Engine) Compress(ctx context.Context, req Request) (Result, error) {
	format, requested, err := validate(req)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	startedAt := time.Now()
	src := probe(req.Source, format)
	plan := Plan{
		Tier:       MapQuality(req.Quality),
		MaxWidth:   req.MaxWidth,
		MaxHeight:  req.MaxHeight,
		KeepAspect: req.MaintainAspectRatio,
	}

	sel := e.selector.Run(ctx, src, requested, plan)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	result := Result{
		OriginalSize:       src.Size(),
		OriginalDimensions: Dimensions{Width: src.Width, Height: src.Height},
	}
	ev := SelectionEvent{
		Attempts: len(sel.Outcomes),
		Failures: sel.Failures(),
	}

	if sel.Best < 0 {
		result.CompressedSize = src.Size()
		result.OutputFormat = src.Format
		result.CompressedDimensions = result.OriginalDimensions
		result.Output = src.Data
		result.Strategy = StrategyPassThrough
		result.PassThrough = true

		ev.Strategy = StrategyPassThrough
		ev.Format = src.Format
		ev.PassThrough = true
		ev.Err = ErrExhausted
	} else {
		cand := sel.Outcomes[sel.Best].Candidate
		raw := rawRatio(src.Size(), cand.Size())
		result.CompressedSize = cand.Size()
		result.RatioPercent = displayRatio(raw)
		result.OutputFormat = cand.Format
		result.CompressedDimensions = Dimensions{Width: cand.Width, Height: cand.Height}
		result.Output = cand.Data
		result.Strategy = cand.Strategy

		ev.Strategy = cand.Strategy
		ev.Format = cand.Format
		ev.RawRatio = raw
		ev.RatioPercent = result.RatioPercent
	}
	ev.Duration = time.Since(startedAt)
	e.reporter.SelectionFinished(ctx, ev)

	return result, nil
}

// CompressBatch compresses every request independently on a bounded pool.
// Outcomes are positional. Requests that had not started when ctx was
// cancelled report ctx.Err().
func (e *Engine) CompressBatch(ctx context.Context, reqs []Request) []BatchOutcome {
	out := make([]BatchOutcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := range reqs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i] = BatchOutcome{Err: err}
				return nil
			}
			res, err := e.Compress(ctx, reqs[i])
			out[i] = BatchOutcome{Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func validate(req Request) (Format, Format, error) {
	if len(req.Source) == 0 {
		return "", "", invalid("source", "empty")
	}
	format, ok := FormatFromMIME(req.MimeType)
	if !ok {
		return "", "", invalid("mime_type", "unsupported type "+quoteOrEmpty(req.MimeType))
	}
	requested, ok := ParseFormat(string(req.Format))
	if !ok {
		return "", "", invalid("format", "unknown format "+quoteOrEmpty(string(req.Format)))
	}
	if req.MaxWidth < 0 {
		return "", "", invalid("max_width", "must not be negative")
	}
	if req.MaxHeight < 0 {
		return "", "", invalid("max_height", "must not be negative")
	}
	return format, requested, nil
}

func quoteOrEmpty(s string) string {
	if s == "" {
		return `""`
	}
	return `"` + s + `"`
}

// displayRatio clamps a raw ratio to a 0..100 percentage.
func displayRatio(raw float64) float64 {
	if math.IsNaN(raw) || raw <= 0 {
		return 0
	}
	pct := raw * 100
	if pct > 100 {
		return 100
	}
	return pct
}

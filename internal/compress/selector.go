package compress

import (
	"context"
	"time"
)

// PreserveQuality is the lossy quality of the resize-only strategy, the
// common canvas export default.
const PreserveQuality = 0.92

const (
	StrategyWebP        = "webp"
	StrategyPNGOptimize = "png-optimize"
	StrategyJPEG        = "jpeg"
	StrategyResizeOnly  = "resize-only"
	StrategyPassThrough = "passthrough"
)

// Strategies returns the ordered strategy set for a request. WebP is always
// first in auto mode; fixed formats get a direct attempt and an independent
// raster-only second opinion.
func Strategies(requested Format, src Source) []Strategy {
	if requested != FormatAuto {
		return []Strategy{
			{Name: "direct-" + string(requested), Format: requested},
			{Name: "raster-" + string(requested), Format: requested, RasterOnly: true},
		}
	}

	out := []Strategy{{Name: StrategyWebP, Format: FormatWebP}}
	if src.Format == FormatPNG {
		out = append(out, Strategy{Name: StrategyPNGOptimize, Format: FormatPNG})
	}
	if !src.MayHaveAlpha {
		out = append(out, Strategy{Name: StrategyJPEG, Format: FormatJPEG})
	}
	out = append(out, Strategy{Name: StrategyResizeOnly, Format: src.Format, Quality: PreserveQuality})
	return out
}

// Outcome is the result of one strategy: a candidate or an error, never both.
type Outcome struct {
	Strategy  Strategy
	Candidate Candidate
	Err       error
}

// Selection holds every outcome in strategy order. Best indexes the winner
// or is -1 when the request must pass through.
type Selection struct {
	Outcomes []Outcome
	Best     int
}

func (s Selection) Failures() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Selector runs every strategy once, in order, and picks the smallest
// output. It does not stop at the first improvement.
type Selector struct {
	encoder  *CandidateEncoder
	reporter Reporter
}

func NewSelector(encoder *CandidateEncoder, reporter Reporter) *Selector {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Selector{encoder: encoder, reporter: reporter}
}

func (s *Selector) Run(ctx context.Context, src Source, requested Format, plan Plan) Selection {
	strategies := Strategies(requested, src)
	outcomes := make([]Outcome, 0, len(strategies))

	for _, strategy := range strategies {
		startedAt := time.Now()
		cand, err := s.encoder.Attempt(ctx, src, strategy, plan)
		outcomes = append(outcomes, Outcome{Strategy: strategy, Candidate: cand, Err: err})

		ev := StrategyEvent{
			Strategy:    strategy.Name,
			Format:      strategy.Format,
			SourceBytes: src.Size(),
			Duration:    time.Since(startedAt),
			Err:         err,
		}
		if err == nil {
			ev.Path = cand.Path
			ev.OutputBytes = cand.Size()
			ev.RawRatio = rawRatio(src.Size(), cand.Size())
		}
		s.reporter.StrategyFinished(ctx, ev)
	}

	return Selection{Outcomes: outcomes, Best: pickBest(src.Size(), outcomes)}
}

// pickBest returns the index of the candidate with the highest compression
// ratio, earliest wins on ties. Candidates that are not strictly smaller
// than the source never win.
func pickBest(sourceSize int, outcomes []Outcome) int {
	best := -1
	for i, o := range outcomes {
		if o.Err != nil || o.Candidate.Size() == 0 {
			continue
		}
		if o.Candidate.Size() >= sourceSize {
			continue
		}
		if best < 0 || rawRatio(sourceSize, o.Candidate.Size()) > rawRatio(sourceSize, outcomes[best].Candidate.Size()) {
			best = i
		}
	}
	return best
}

func rawRatio(original, compressed int) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-compressed) / float64(original)
}

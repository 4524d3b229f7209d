package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/sniff"
)

const SourceTypeLocalFile = domain.SourceTypeLocalFile

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrSourceTooLarge        = errors.New("source exceeds size limit")
	// ErrAllStepsFailed means no step produced an output. Retrying will
	// not help; the cause is in each step's error.
	ErrAllStepsFailed = errors.New("every pipeline step failed")
)

type Request struct {
	JobID       string
	SourceType  string
	ObjectKey   string
	ContentType string
	Pipeline    []domain.PipelineStep
}

type Result struct {
	SourceBytes int
	MimeType    string
	Outputs     []domain.StepOutput
}

// Succeeded counts the steps that produced an output.
func (r Result) Succeeded() int {
	n := 0
	for _, o := range r.Outputs {
		if o.Success {
			n++
		}
	}
	return n
}

// Source is the fetched input. ContentType is whatever the origin declared
// and may be empty.
type Source struct {
	Data        []byte
	ContentType string
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Source, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, step domain.PipelineStep, res compress.Result) (domain.StepOutput, error)
}

// Compressor is the slice of *compress.Engine the processor needs.
type Compressor interface {
	CompressBatch(ctx context.Context, reqs []compress.Request) []compress.BatchOutcome
}

type Processor struct {
	fetcher Fetcher
	engine  Compressor
	emitter Emitter
}

func NewProcessor(fetcher Fetcher, emitter Emitter, engine Compressor) (*Processor, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if emitter == nil {
		return nil, errors.New("emitter is required")
	}
	if engine == nil {
		return nil, errors.New("compression engine is required")
	}
	return &Processor{fetcher: fetcher, engine: engine, emitter: emitter}, nil
}

func NewLocalProcessor(outputDir string, maxSourceBytes int64, engine Compressor) (*Processor, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("output directory is required")
	}
	return NewProcessor(
		LocalFileFetcher{MaxBytes: maxSourceBytes},
		LocalFileEmitter{OutputDir: outputDir},
		engine,
	)
}

// Process fetches the source once and compresses it into one output per
// step. Failed steps are reported in the result; Process only fails when
// the source cannot be fetched, an output cannot be written, or every step
// failed.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return Result{}, errors.New("job_id is required")
	}
	if len(req.Pipeline) == 0 {
		return Result{}, errors.New("pipeline must contain at least one step")
	}

	src, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	declared := req.ContentType
	if declared == "" {
		declared = src.ContentType
	}
	mimeType := sniff.Resolve(src.Data, declared)

	compressReqs := make([]compress.Request, len(req.Pipeline))
	for i, step := range req.Pipeline {
		compressReqs[i] = compress.Request{
			Source:              src.Data,
			MimeType:            mimeType,
			Quality:             step.Quality,
			Format:              step.CompressFormat(),
			MaxWidth:            step.MaxWidth,
			MaxHeight:           step.MaxHeight,
			MaintainAspectRatio: step.KeepAspect(),
		}
	}

	outcomes := p.engine.CompressBatch(ctx, compressReqs)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	out := Result{
		SourceBytes: len(src.Data),
		MimeType:    mimeType,
		Outputs:     make([]domain.StepOutput, 0, len(req.Pipeline)),
	}
	var firstErr error
	for i, step := range req.Pipeline {
		outcome := outcomes[i]
		if outcome.Err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("step=%s: %w", step.ID, outcome.Err)
			}
			out.Outputs = append(out.Outputs, domain.StepOutput{
				StepID:        step.ID,
				Error:         outcome.Err.Error(),
				OriginalBytes: len(src.Data),
			})
			continue
		}

		written, err := p.emitter.Emit(ctx, req, step, outcome.Result)
		if err != nil {
			return Result{}, fmt.Errorf("emit stage step=%s: %w", step.ID, err)
		}
		out.Outputs = append(out.Outputs, written)
	}

	if out.Succeeded() == 0 {
		return out, fmt.Errorf("%w: %w", ErrAllStepsFailed, firstErr)
	}
	return out, nil
}

// OutputName is the content-addressed file name of a step output.
func OutputName(stepID string, res compress.Result) string {
	return fmt.Sprintf("%s-%016x.%s", sanitizePathToken(stepID), xxhash.Sum64(res.Output), res.OutputFormat.Extension())
}

func stepOutput(step domain.PipelineStep, res compress.Result, path string) domain.StepOutput {
	return domain.StepOutput{
		StepID:               step.ID,
		Success:              true,
		Path:                 path,
		Format:               string(res.OutputFormat),
		Strategy:             res.Strategy,
		PassThrough:          res.PassThrough,
		OriginalBytes:        res.OriginalSize,
		Bytes:                res.CompressedSize,
		RatioPercent:         res.RatioPercent,
		OriginalDimensions:   res.OriginalDimensions,
		CompressedDimensions: res.CompressedDimensions,
	}
}

type LocalFileFetcher struct {
	MaxBytes int64
}

func (f LocalFileFetcher) Fetch(ctx context.Context, req Request) (Source, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return Source{}, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}
	if err := ctx.Err(); err != nil {
		return Source{}, err
	}

	if f.MaxBytes > 0 {
		info, err := os.Stat(req.ObjectKey)
		if err != nil {
			return Source{}, fmt.Errorf("stat input file %s: %w", req.ObjectKey, err)
		}
		if info.Size() > f.MaxBytes {
			return Source{}, fmt.Errorf("%w: %s is %d bytes", ErrSourceTooLarge, req.ObjectKey, info.Size())
		}
	}

	data, err := os.ReadFile(req.ObjectKey)
	if err != nil {
		return Source{}, fmt.Errorf("read input file %s: %w", req.ObjectKey, err)
	}
	return Source{Data: data}, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, step domain.PipelineStep, res compress.Result) (domain.StepOutput, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return domain.StepOutput{}, errors.New("output directory is required")
	}
	if strings.TrimSpace(step.ID) == "" {
		return domain.StepOutput{}, errors.New("pipeline step id is required")
	}

	jobDir := filepath.Join(e.OutputDir, sanitizePathToken(req.JobID))
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return domain.StepOutput{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(jobDir, OutputName(step.ID, res))
	if err := os.WriteFile(fullPath, res.Output, 0o644); err != nil {
		return domain.StepOutput{}, fmt.Errorf("write output file: %w", err)
	}

	return stepOutput(step, res, fullPath), nil
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

package compress

import (
	"context"
	"errors"
)

const (
	PathPrimary = "primary"
	PathRaster  = "raster"
)

// Candidate is one successful encoding attempt. It only lives for the
// duration of a selection pass.
type Candidate struct {
	Strategy string
	Data     []byte
	Format   Format
	Width    int
	Height   int
	// Path records which encoder produced Data.
	Path string
}

func (c Candidate) Size() int { return len(c.Data) }

// Strategy is one (format, parameter set) combination tried against a source.
type Strategy struct {
	Name   string
	Format Format
	// RasterOnly skips the primary encoder.
	RasterOnly bool
	// Quality overrides the tier's lossy quality when non-zero.
	Quality float64
}

// CandidateEncoder runs one strategy: the primary encoder first, the raster
// fallback on any error or empty output.
type CandidateEncoder struct {
	primary PrimaryEncoder
	raster  *RasterEncoder
}

func NewCandidateEncoder(primary PrimaryEncoder, raster *RasterEncoder) *CandidateEncoder {
	if primary == nil {
		primary = unavailablePrimary{}
	}
	if raster == nil {
		raster = NewRasterEncoder(nil)
	}
	return &CandidateEncoder{primary: primary, raster: raster}
}

func (c *CandidateEncoder) Attempt(ctx context.Context, src Source, s Strategy, plan Plan) (Candidate, error) {
	if s.Quality > 0 {
		plan.Quality = s.Quality
	}

	var primaryErr error
	if !s.RasterOnly {
		cand, err := c.primary.Encode(ctx, src, s.Format, plan)
		if err == nil && cand.Size() == 0 {
			err = ErrEmptyOutput
		}
		if err == nil {
			cand.Strategy = s.Name
			cand.Path = PathPrimary
			return cand, nil
		}
		primaryErr = err
	}

	cand, err := c.raster.Encode(ctx, src, s.Format, plan)
	if err != nil {
		cause := err
		if primaryErr != nil {
			cause = errors.Join(primaryErr, err)
		}
		return Candidate{}, &EncodeFailure{Strategy: s.Name, Format: s.Format, Stage: "attempt", Err: cause}
	}
	cand.Strategy = s.Name
	return cand, nil
}

// unavailablePrimary stands in when libvips is not compiled in or is
// disabled by configuration.
type unavailablePrimary struct{}

func (unavailablePrimary) Encode(context.Context, Source, Format, Plan) (Candidate, error) {
	return Candidate{}, ErrPrimaryUnavailable
}

//go:build govips && cgo

package compress

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type vipsEncoder struct{}

func (vipsEncoder) Encode(ctx context.Context, src Source, format Format, plan Plan) (Candidate, error) {
	select {
	case <-ctx.Done():
		return Candidate{}, ctx.Err()
	default:
	}

	img, err := vips.NewImageFromBuffer(src.Data)
	if err != nil {
		return Candidate{}, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	w, h := img.Width(), img.Height()
	if w <= 0 || h <= 0 {
		return Candidate{}, fmt.Errorf("source image has invalid dimensions")
	}

	dstW, dstH := plan.Target(w, h)
	if dstW != w || dstH != h {
		hscale := float64(dstW) / float64(w)
		vscale := float64(dstH) / float64(h)
		if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return Candidate{}, fmt.Errorf("resize image: %w", err)
		}
	}

	data, err := exportVips(img, format, plan.quality())
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{
		Data:   data,
		Format: format,
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}

func exportVips(img *vips.ImageRef, format Format, quality int) ([]byte, error) {
	switch format {
	case FormatJPEG:
		if img.HasAlpha() {
			if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
				return nil, fmt.Errorf("flatten alpha: %w", err)
			}
		}
		params := vips.NewJpegExportParams()
		params.Quality = quality
		params.StripMetadata = true
		params.OptimizeCoding = true
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return data, nil
	case FormatPNG:
		params := vips.NewPngExportParams()
		params.StripMetadata = true
		params.Compression = 9
		data, _, err := img.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
		return data, nil
	case FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		params.StripMetadata = true
		params.ReductionEffort = 4
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

package compress

import (
	"context"
	"image"

	"golang.org/x/image/draw"
)

// MaxCanvasPixels caps the area of a raster target canvas. It matches the
// largest canvas area browsers allocate.
const MaxCanvasPixels = 268_435_456

// RasterEncoder is the decode, resample, re-encode recovery path. It only
// uses its RasterCodec and never the primary encoder.
type RasterEncoder struct {
	codec     RasterCodec
	maxPixels int
}

func NewRasterEncoder(codec RasterCodec) *RasterEncoder {
	if codec == nil {
		codec = StdCodec{}
	}
	return &RasterEncoder{codec: codec, maxPixels: MaxCanvasPixels}
}

func (r *RasterEncoder) Encode(ctx context.Context, src Source, format Format, plan Plan) (Candidate, error) {
	if err := ctx.Err(); err != nil {
		return Candidate{}, &EncodeFailure{Format: format, Stage: "raster", Err: err}
	}
	if src.Width > 0 && src.Height > 0 && src.Width*src.Height > r.maxPixels {
		return Candidate{}, &EncodeFailure{Format: format, Stage: "raster.decode", Err: ErrCanvasTooLarge}
	}

	img, err := r.codec.Decode(src.Data)
	if err != nil {
		return Candidate{}, &EncodeFailure{Format: format, Stage: "raster.decode", Err: err}
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= 0 || srcH <= 0 {
		return Candidate{}, &EncodeFailure{Format: format, Stage: "raster.decode", Err: image.ErrFormat}
	}

	dstW, dstH := plan.Target(srcW, srcH)
	if dstW*dstH > r.maxPixels {
		return Candidate{}, &EncodeFailure{Format: format, Stage: "raster.allocate", Err: ErrCanvasTooLarge}
	}

	out := img
	if dstW != srcW || dstH != srcH {
		out = resample(img, dstW, dstH)
	}

	quality := plan.quality()
	if format.lossless() {
		quality = 0
	}
	data, err := r.codec.Encode(out, format, quality)
	if err != nil {
		return Candidate{}, &EncodeFailure{Format: format, Stage: "raster.encode", Err: err}
	}
	if len(data) == 0 {
		return Candidate{}, &EncodeFailure{Format: format, Stage: "raster.encode", Err: ErrEmptyOutput}
	}

	return Candidate{
		Data:   data,
		Format: format,
		Width:  dstW,
		Height: dstH,
		Path:   PathRaster,
	}, nil
}

func resample(img image.Image, w, h int) image.Image {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

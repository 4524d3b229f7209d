package compress

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
)

// RasterCodec is the pixel-buffer capability the raster fallback runs on.
// Implementations must not depend on the primary encoder.
type RasterCodec interface {
	Decode(data []byte) (image.Image, error)
	Encode(img image.Image, format Format, quality int) ([]byte, error)
}

// StdCodec decodes with the registered image decoders (jpeg, png, x/image
// webp) and encodes with image/jpeg, image/png and libwebp via chai2010/webp.
type StdCodec struct{}

func (StdCodec) Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	return img, nil
}

func (StdCodec) Encode(img image.Image, format Format, quality int) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case FormatJPEG:
		if quality <= 0 || quality > 100 {
			quality = 80
		}
		if err := jpeg.Encode(&buf, flattenOnWhite(img), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		encoder := png.Encoder{CompressionLevel: png.BestCompression}
		out := img
		if p := palettize(img, 256); p != nil {
			out = p
		}
		if err := encoder.Encode(&buf, out); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case FormatWebP:
		if quality <= 0 || quality > 100 {
			quality = 80
		}
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return buf.Bytes(), nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}

// flattenOnWhite composites transparent pixels over white so JPEG output
// does not turn them black.
func flattenOnWhite(img image.Image) image.Image {
	if isOpaque(img) {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// palettize returns an exact indexed copy of img, or nil when it uses more
// than maxColors colours. Palette order follows first appearance so the
// output is deterministic.
func palettize(img image.Image, maxColors int) *image.Paletted {
	if _, ok := img.(*image.Paletted); ok {
		return nil
	}

	b := img.Bounds()
	index := make(map[color.NRGBA]uint8, maxColors)
	palette := make(color.Palette, 0, maxColors)
	pix := make([]uint8, 0, b.Dx()*b.Dy())

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i, ok := index[c]
			if !ok {
				if len(palette) == maxColors {
					return nil
				}
				i = uint8(len(palette))
				index[c] = i
				palette = append(palette, c)
			}
			pix = append(pix, i)
		}
	}

	out := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette)
	copy(out.Pix, pix)
	return out
}

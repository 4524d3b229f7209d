package compress

import (
	"bytes"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Source is the validated input plus what the header says about it.
// Width and Height are zero when the header could not be parsed; the
// strategies then fail on decode and the request passes through.
type Source struct {
	Data         []byte
	Format       Format
	Width        int
	Height       int
	MayHaveAlpha bool
}

func (s Source) Size() int { return len(s.Data) }

func probe(data []byte, format Format) Source {
	src := Source{Data: data, Format: format}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return src
	}
	src.Width = cfg.Width
	src.Height = cfg.Height
	src.MayHaveAlpha = modelMayHaveAlpha(cfg.ColorModel)
	return src
}

// modelMayHaveAlpha is conservative: a true result means the encoded
// color type can carry transparency, not that any pixel is transparent.
func modelMayHaveAlpha(m color.Model) bool {
	switch m {
	case color.NRGBAModel, color.NRGBA64Model, color.AlphaModel, color.Alpha16Model, color.NYCbCrAModel:
		return true
	}
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

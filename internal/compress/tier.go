package compress

import "math"

// Tier is the concrete encoder parameter bundle for an abstract quality level.
type Tier struct {
	Level          int
	LossyQuality   float64
	MaxDimensionPx int
	// LockResolution forbids the tier from downscaling; only encoder
	// parameters change.
	LockResolution bool
}

// MapQuality clamps level into [0,100] and returns its tier. It never fails.
func MapQuality(level int) Tier {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	switch {
	case level <= 30:
		return Tier{Level: level, LossyQuality: 0.15, MaxDimensionPx: 800}
	case level <= 60:
		return Tier{Level: level, LossyQuality: 0.40, MaxDimensionPx: 1200}
	case level <= 80:
		return Tier{Level: level, LossyQuality: 0.60, MaxDimensionPx: 1600, LockResolution: true}
	default:
		return Tier{Level: level, LossyQuality: 0.80, MaxDimensionPx: 1920, LockResolution: true}
	}
}

// EncoderQuality converts LossyQuality to the 1-100 scale used by libvips,
// image/jpeg and libwebp.
func (t Tier) EncoderQuality() int {
	return encoderQuality(t.LossyQuality)
}

func encoderQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// Dimensions is a pixel width and height.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Plan carries everything an encoder needs besides the pixels: the tier and
// the caller's optional bounds.
type Plan struct {
	Tier       Tier
	MaxWidth   int
	MaxHeight  int
	KeepAspect bool
	// Quality overrides Tier.LossyQuality when non-zero.
	Quality float64
}

func (p Plan) quality() int {
	if p.Quality > 0 {
		return encoderQuality(p.Quality)
	}
	return p.Tier.EncoderQuality()
}

// Target returns the output dimensions for a w x h source. The tier rule
// runs first; explicit caller bounds are applied after it regardless of
// LockResolution. Images are never upscaled.
func (p Plan) Target(w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}

	if !p.Tier.LockResolution && p.Tier.MaxDimensionPx > 0 {
		longest := max(w, h)
		if longest > p.Tier.MaxDimensionPx {
			scale := float64(p.Tier.MaxDimensionPx) / float64(longest)
			w = scaleSide(w, scale)
			h = scaleSide(h, scale)
		}
	}

	if p.MaxWidth <= 0 && p.MaxHeight <= 0 {
		return w, h
	}

	if !p.KeepAspect {
		if p.MaxWidth > 0 && w > p.MaxWidth {
			w = p.MaxWidth
		}
		if p.MaxHeight > 0 && h > p.MaxHeight {
			h = p.MaxHeight
		}
		return w, h
	}

	scale := 1.0
	if p.MaxWidth > 0 && w > p.MaxWidth {
		scale = math.Min(scale, float64(p.MaxWidth)/float64(w))
	}
	if p.MaxHeight > 0 && h > p.MaxHeight {
		scale = math.Min(scale, float64(p.MaxHeight)/float64(h))
	}
	if scale < 1 {
		w = scaleSide(w, scale)
		h = scaleSide(h, scale)
	}
	return w, h
}

func scaleSide(v int, scale float64) int {
	out := int(math.Round(float64(v) * scale))
	if out < 1 {
		return 1
	}
	return out
}

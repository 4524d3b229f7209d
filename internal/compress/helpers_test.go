package compress

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
)

func testPNG(t testing.TB, w, h int, transparent bool) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if transparent {
				a = uint8((x * 255) / max(w, 1))
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / max(w, 1)),
				G: uint8((y * 255) / max(h, 1)),
				B: 140,
				A: a,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png fixture: %v", err)
	}
	return buf.Bytes()
}

func testJPEG(t testing.TB, w, h, quality int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: uint8(((x + y) * 255) / (w + h)),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("encode jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

// sizedCodec decodes to a blank canvas of the configured size and encodes
// to a fixed number of bytes per format.
type sizedCodec struct {
	width, height int
	sizes         map[Format]int
	errs          map[Format]error
	decodeErr     error

	mu      sync.Mutex
	encoded []Format
}

func (c *sizedCodec) Decode([]byte) (image.Image, error) {
	if c.decodeErr != nil {
		return nil, c.decodeErr
	}
	return image.NewNRGBA(image.Rect(0, 0, c.width, c.height)), nil
}

func (c *sizedCodec) Encode(_ image.Image, format Format, _ int) ([]byte, error) {
	c.mu.Lock()
	c.encoded = append(c.encoded, format)
	c.mu.Unlock()

	if err := c.errs[format]; err != nil {
		return nil, err
	}
	return make([]byte, c.sizes[format]), nil
}

type stubPrimary struct {
	size  int
	err   error
	calls int
}

func (p *stubPrimary) Encode(_ context.Context, src Source, format Format, plan Plan) (Candidate, error) {
	p.calls++
	if p.err != nil {
		return Candidate{}, p.err
	}
	w, h := plan.Target(src.Width, src.Height)
	return Candidate{Data: make([]byte, p.size), Format: format, Width: w, Height: h}, nil
}

type recordingReporter struct {
	mu         sync.Mutex
	strategies []StrategyEvent
	selections []SelectionEvent
}

func (r *recordingReporter) StrategyFinished(_ context.Context, ev StrategyEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, ev)
}

func (r *recordingReporter) SelectionFinished(_ context.Context, ev SelectionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selections = append(r.selections, ev)
}

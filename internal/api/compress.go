package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/sniff"
)

const (
	HeaderOriginalSize   = "X-Pixelpress-Original-Size"
	HeaderCompressedSize = "X-Pixelpress-Compressed-Size"
	HeaderRatio          = "X-Pixelpress-Ratio"
	HeaderStrategy       = "X-Pixelpress-Strategy"
	HeaderPassThrough    = "X-Pixelpress-Pass-Through"
	HeaderWidth          = "X-Pixelpress-Width"
	HeaderHeight         = "X-Pixelpress-Height"
)

// handleCompress compresses the raw request body synchronously. Options come
// from the query string; the output is the response body.
func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	if s.compressor == nil {
		writeError(w, http.StatusServiceUnavailable, "compression is unavailable")
		return
	}

	req, err := s.compressRequestFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	req.Source = body
	req.MimeType = sniff.Resolve(body, r.Header.Get("Content-Type"))

	res, err := s.compressor.Compress(r.Context(), req)
	if err != nil {
		if compress.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if r.Context().Err() != nil {
			return
		}
		s.logger.Error("compress failed", "mime_type", req.MimeType, "bytes", len(body), "err", err)
		writeError(w, http.StatusInternalServerError, "compression failed")
		return
	}

	s.metrics.observeCompress(res.Strategy, string(res.OutputFormat), res.OriginalSize, res.CompressedSize)

	etag := fmt.Sprintf("%q", strconv.FormatUint(xxhash.Sum64(res.Output), 16))
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Cache-Control", "no-store")
	h.Set(HeaderOriginalSize, strconv.Itoa(res.OriginalSize))
	h.Set(HeaderCompressedSize, strconv.Itoa(res.CompressedSize))
	h.Set(HeaderRatio, strconv.FormatFloat(res.RatioPercent, 'f', 2, 64))
	h.Set(HeaderStrategy, res.Strategy)
	h.Set(HeaderPassThrough, strconv.FormatBool(res.PassThrough))
	h.Set(HeaderWidth, strconv.Itoa(res.CompressedDimensions.Width))
	h.Set(HeaderHeight, strconv.Itoa(res.CompressedDimensions.Height))

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Content-Type", res.OutputFormat.MIMEType())
	h.Set("Content-Length", strconv.Itoa(len(res.Output)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Output)
}

func (s *Server) compressRequestFromQuery(r *http.Request) (compress.Request, error) {
	q := r.URL.Query()
	req := compress.Request{
		Quality:             s.defaultQuality,
		Format:              compress.FormatAuto,
		MaintainAspectRatio: true,
	}

	if v := q.Get("quality"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("quality must be an integer: %q", v)
		}
		req.Quality = n
	}
	if v := q.Get("format"); v != "" {
		f, ok := compress.ParseFormat(v)
		if !ok {
			return req, fmt.Errorf("unsupported format: %q", v)
		}
		req.Format = f
	}
	var err error
	if req.MaxWidth, err = queryInt(q.Get("max_width"), "max_width"); err != nil {
		return req, err
	}
	if req.MaxHeight, err = queryInt(q.Get("max_height"), "max_height"); err != nil {
		return req, err
	}
	if v := q.Get("keep_aspect"); v != "" {
		keep, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("keep_aspect must be a boolean: %q", v)
		}
		req.MaintainAspectRatio = keep
	}
	return req, nil
}

func queryInt(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %q", name, v)
	}
	return n, nil
}

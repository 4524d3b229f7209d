package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelpress/internal/compress"
	"github.com/dunamismax/pixelpress/internal/domain"
	"github.com/dunamismax/pixelpress/internal/queue"
	"github.com/dunamismax/pixelpress/internal/ratelimit"
	"github.com/dunamismax/pixelpress/internal/store"
	"github.com/hibiken/asynq"
)

type fakeQueue struct {
	payloads []queue.CompressImagePayload
}

func (q *fakeQueue) EnqueueCompressImage(_ context.Context, payload queue.CompressImagePayload) (*asynq.TaskInfo, error) {
	q.payloads = append(q.payloads, payload)
	return &asynq.TaskInfo{
		ID:            payload.JobID,
		Queue:         "default",
		State:         asynq.TaskStatePending,
		NextProcessAt: time.Now().UTC(),
	}, nil
}

type fakeStorage struct {
	objects map[string]bool
}

func (s *fakeStorage) PresignedPutURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://storage.example.com/" + objectKey + "?signature=abc", nil
}

func (s *fakeStorage) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	return s.objects[objectKey], nil
}

type fakeLimiter struct {
	allow    bool
	subjects []string
	costs    []int64
}

func (l *fakeLimiter) AllowN(_ context.Context, subject string, cost int64) (ratelimit.Decision, error) {
	l.subjects = append(l.subjects, subject)
	l.costs = append(l.costs, cost)
	if l.allow {
		return ratelimit.Decision{Allowed: true, Remaining: 9}, nil
	}
	return ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}, nil
}

type testServer struct {
	*Server
	queue   *fakeQueue
	jobs    *store.MemoryJobStore
	storage *fakeStorage
}

func newTestServer(t *testing.T, mutate func(*Options)) testServer {
	t.Helper()
	q := &fakeQueue{}
	jobs := store.NewMemoryJobStore()
	storage := &fakeStorage{objects: map[string]bool{}}
	opts := Options{
		Queue:      q,
		Jobs:       jobs,
		Storage:    storage,
		Compressor: compress.NewEngine(compress.Config{Workers: 2, DisablePrimary: true}),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return testServer{Server: NewServer(nil, opts), queue: q, jobs: jobs, storage: storage}
}

func (ts testServer) do(t *testing.T, method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateJobPresignsUpload(t *testing.T) {
	ts := newTestServer(t, nil)
	body := []byte(`{"source_type":"s3_presigned","pipeline":[{"id":"web","quality":60,"format":"webp"}]}`)

	rec := ts.do(t, http.MethodPost, "/v1/jobs", body, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	out := decodeBody(t, rec)
	jobID, _ := out["job_id"].(string)
	upload, _ := out["upload"].(map[string]any)
	if !strings.HasPrefix(upload["presigned_put_url"].(string), "https://storage.example.com/uploads/"+jobID) {
		t.Fatalf("unexpected upload block: %+v", upload)
	}

	job, ok, err := ts.jobs.Get(context.Background(), jobID)
	if err != nil || !ok {
		t.Fatalf("job not stored: ok=%v err=%v", ok, err)
	}
	if job.Status != domain.JobStatusCreated || job.ObjectKey != "uploads/"+jobID+"/source" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestCreateJobRejectsInvalidRequests(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := map[string]string{
		"empty pipeline":  `{"source_type":"s3_presigned","pipeline":[]}`,
		"unknown format":  `{"source_type":"s3_presigned","pipeline":[{"id":"a","format":"gif"}]}`,
		"duplicate steps": `{"source_type":"s3_presigned","pipeline":[{"id":"a"},{"id":"a"}]}`,
		"unknown field":   `{"source_type":"s3_presigned","pipeline":[{"id":"a"}],"extra":1}`,
		"not json":        `{`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/v1/jobs", []byte(body), nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStartJobEnqueuesOnce(t *testing.T) {
	ts := newTestServer(t, nil)
	source := filepath.Join(t.TempDir(), "input.png")
	if err := os.WriteFile(source, gradientPNG(t, 8, 8), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	body, _ := json.Marshal(domain.CreateJobRequest{
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  source,
		Pipeline:   []domain.PipelineStep{{ID: "web", Quality: 60}},
	})
	created := decodeBody(t, ts.do(t, http.MethodPost, "/v1/jobs", body, nil))
	jobID := created["job_id"].(string)

	rec := ts.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil, nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.queue.payloads) != 1 || ts.queue.payloads[0].ObjectKey != source {
		t.Fatalf("unexpected enqueued payloads: %+v", ts.queue.payloads)
	}

	job, _, _ := ts.jobs.Get(context.Background(), jobID)
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}

	rec = ts.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second start, got %d", rec.Code)
	}
	if len(ts.queue.payloads) != 1 {
		t.Fatalf("expected no second enqueue, got %d", len(ts.queue.payloads))
	}
}

func TestStartJobErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	if rec := ts.do(t, http.MethodPost, "/v1/jobs/not-an-id/start", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPost, "/v1/jobs/0123456789abcdef0123456789abcdef/start", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown job, got %d", rec.Code)
	}

	body := []byte(`{"source_type":"s3_presigned","pipeline":[{"id":"web"}]}`)
	jobID := decodeBody(t, ts.do(t, http.MethodPost, "/v1/jobs", body, nil))["job_id"].(string)
	if rec := ts.do(t, http.MethodPost, "/v1/jobs/"+jobID+"/start", nil, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before upload, got %d", rec.Code)
	}
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t, nil)
	now := time.Now().UTC()
	if err := ts.jobs.Create(context.Background(), domain.Job{
		ID:         "0123456789abcdef0123456789abcdef",
		Status:     domain.JobStatusSucceeded,
		SourceType: domain.SourceTypeLocalFile,
		ObjectKey:  "in.png",
		Pipeline:   []domain.PipelineStep{{ID: "web"}},
		Outputs:    []domain.StepOutput{{StepID: "web", Success: true, Bytes: 10, OriginalBytes: 20, RatioPercent: 50}},
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	rec := ts.do(t, http.MethodGet, "/v1/jobs/0123456789abcdef0123456789abcdef", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var job domain.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if len(job.Outputs) != 1 || job.Outputs[0].RatioPercent != 50 {
		t.Fatalf("unexpected outputs: %+v", job.Outputs)
	}

	if rec := ts.do(t, http.MethodGet, "/v1/jobs/missing", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCompressEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)
	src := gradientPNG(t, 120, 80)

	rec := ts.do(t, http.MethodPost, "/v1/compress?quality=50&format=webp&max_width=60", src, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	h := rec.Header()
	if got := h.Get(HeaderOriginalSize); got != strconv.Itoa(len(src)) {
		t.Fatalf("original size header %s, want %d", got, len(src))
	}
	if got := h.Get(HeaderCompressedSize); got != strconv.Itoa(rec.Body.Len()) {
		t.Fatalf("compressed size header %s, body %d", got, rec.Body.Len())
	}
	if rec.Body.Len() > len(src) {
		t.Fatalf("output %d larger than source %d", rec.Body.Len(), len(src))
	}
	if h.Get(HeaderStrategy) == "" || h.Get("ETag") == "" {
		t.Fatalf("missing strategy or etag headers: %v", h)
	}
	passThrough, _ := strconv.ParseBool(h.Get(HeaderPassThrough))
	if !passThrough && h.Get("Content-Type") != "image/webp" {
		t.Fatalf("expected webp output, got %s", h.Get("Content-Type"))
	}
	if w, _ := strconv.Atoi(h.Get(HeaderWidth)); !passThrough && w > 60 {
		t.Fatalf("expected width <= 60, got %d", w)
	}

	rec = ts.do(t, http.MethodPost, "/v1/compress?quality=50&format=webp&max_width=60", src, http.Header{"If-None-Match": {h.Get("ETag")}})
	if rec.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rec.Code)
	}
}

func TestCompressEndpointRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, func(o *Options) { o.MaxUploadBytes = 256 })
	small := []byte("plain text is not an image")

	tests := []struct {
		name   string
		target string
		body   []byte
		want   int
	}{
		{"bad quality", "/v1/compress?quality=high", small, http.StatusBadRequest},
		{"bad format", "/v1/compress?format=gif", small, http.StatusBadRequest},
		{"bad keep_aspect", "/v1/compress?keep_aspect=maybe", small, http.StatusBadRequest},
		{"negative bound", "/v1/compress?max_width=-5", gradientPNG(t, 2, 2), http.StatusBadRequest},
		{"not an image", "/v1/compress", small, http.StatusBadRequest},
		{"too large", "/v1/compress", bytes.Repeat([]byte{0xff}, 512), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.target, tt.body, nil)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRateLimitRejectsPosts(t *testing.T) {
	limiter := &fakeLimiter{}
	ts := newTestServer(t, func(o *Options) { o.RateLimiter = limiter })

	rec := ts.do(t, http.MethodPost, "/v1/jobs", []byte(`{}`), http.Header{"X-User-Id": {"alice"}})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After 2, got %q", rec.Header().Get("Retry-After"))
	}
	if limiter.subjects[0] != "alice:/v1/jobs" {
		t.Fatalf("unexpected subject %q", limiter.subjects[0])
	}

	if rec := ts.do(t, http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("GET requests must not be limited, got %d", rec.Code)
	}
	if len(limiter.subjects) != 1 {
		t.Fatalf("expected one limiter call, got %d", len(limiter.subjects))
	}
}

func TestRateLimitChargesCompressByBodySize(t *testing.T) {
	limiter := &fakeLimiter{allow: true}
	ts := newTestServer(t, func(o *Options) { o.RateLimiter = limiter })

	ts.do(t, http.MethodPost, "/v1/compress", bytes.Repeat([]byte{1}, 3<<20), nil)
	if len(limiter.costs) != 1 || limiter.costs[0] != 3 {
		t.Fatalf("expected cost 3, got %v", limiter.costs)
	}
	if limiter.subjects[0] != "anonymous:/v1/compress" {
		t.Fatalf("unexpected subject %q", limiter.subjects[0])
	}
}

func TestRouteLabel(t *testing.T) {
	tests := map[string]string{
		"/v1/jobs":           "/v1/jobs",
		"/v1/jobs/abc":       "/v1/jobs/{id}",
		"/v1/jobs/abc/start": "/v1/jobs/{id}/start",
		"/v1/compress":       "/v1/compress",
		"/metrics":           "/metrics",
		"/favicon.ico":       "other",
	}
	for path, want := range tests {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q)=%q want %q", path, got, want)
		}
	}
}

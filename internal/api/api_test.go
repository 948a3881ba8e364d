package api

import (
	"bytes"
	"context"
	"encoding/json"
	goerrors "errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

var fakeJPEG = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}

// fakeProcessor walks the stages through req.Sink and, when asked, the
// verifier. A non-nil block holds the run in translating until closed.
type fakeProcessor struct {
	verifier  processor.Verifier
	block     chan struct{}
	cancelled chan struct{}
}

func (f *fakeProcessor) ProcessImage(ctx context.Context, req *processor.ProcessRequest) (*processor.PipelineResult, error) {
	publish := func(stage processor.Stage, progress int) {
		req.Sink.Publish(ctx, processor.TranslationState{
			JobID: req.JobID, Stage: stage, Progress: progress, UpdatedAt: time.Now(),
		})
	}
	boxes := []processor.TextBox{{Text: "你好", BBox: processor.Rect{X0: 1, Y0: 1, X1: 20, Y1: 10}}}

	publish(processor.StageDetecting, 0)
	if req.RequireVerification && f.verifier != nil {
		publish(processor.StageVerifying, 20)
		d, err := f.verifier.Verify(ctx, req.JobID, boxes)
		if err != nil {
			return nil, err
		}
		if len(d.Boxes) > 0 {
			boxes = d.Boxes
		}
	}
	publish(processor.StageTranslating, 40)

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			if f.cancelled != nil {
				close(f.cancelled)
			}
			return nil, ctx.Err()
		}
	}

	publish(processor.StageCompleted, 100)
	return &processor.PipelineResult{
		JobID:           req.JobID,
		TranslatedImage: fakeJPEG,
		OriginalText:    boxes[0].Text,
		TranslatedText:  "Hello",
		TextBoxes:       boxes,
		Translations:    []string{"Hello"},
		Recognizer:      "fake",
	}, nil
}

func newTestServer(t *testing.T, proc *fakeProcessor) *Server {
	t.Helper()
	store := NewJobStore()
	proc.verifier = store
	srv := NewServer(ServerConfig{
		Processor: proc,
		Store:     store,
		Logs:      logging.NewBuffer(10),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func uploadRequest(t *testing.T, filename string, data []byte, verify bool) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	if verify {
		mw.WriteField("verify", "true")
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/translate", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func submit(t *testing.T, srv *Server, req *http.Request) string {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/translate = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["jobId"] == "" {
		t.Fatal("missing jobId")
	}
	return resp["jobId"]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stageIs(srv *Server, id string, stage processor.Stage) func() bool {
	return func() bool {
		job, ok := srv.Store().Get(id)
		return ok && job.State.Stage == stage
	}
}

func do(srv *Server, method, path string, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeProcessor{})
	rec := do(srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestTranslateUploadCompletes(t *testing.T) {
	srv := newTestServer(t, &fakeProcessor{})
	id := submit(t, srv, uploadRequest(t, "../../page.png", []byte("png bytes"), false))

	waitFor(t, "completed", stageIs(srv, id, processor.StageCompleted))

	rec := do(srv, http.MethodGet, "/api/jobs/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET job = %d", rec.Code)
	}
	var view JobView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Filename != "page.png" {
		t.Errorf("Filename = %q", view.Filename)
	}
	if view.TranslatedText != "Hello" || view.Recognizer != "fake" || view.State.Progress != 100 {
		t.Errorf("view = %+v", view)
	}

	rec = do(srv, http.MethodGet, "/api/jobs/"+id+"/image", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET image = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.Equal(rec.Body.Bytes(), fakeJPEG) {
		t.Errorf("image body = %v", rec.Body.Bytes())
	}

	rec = do(srv, http.MethodGet, "/api/jobs", "")
	if !strings.Contains(rec.Body.String(), `"count":1`) {
		t.Errorf("list = %s", rec.Body.String())
	}
}

func TestTranslateRejectsBadInput(t *testing.T) {
	srv := newTestServer(t, &fakeProcessor{})

	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{"json without url", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/api/translate", strings.NewReader(`{"filename":"a.png"}`))
			r.Header.Set("Content-Type", "application/json")
			return r
		}},
		{"malformed json", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/api/translate", strings.NewReader(`{`))
			r.Header.Set("Content-Type", "application/json")
			return r
		}},
		{"multipart without image", func() *http.Request {
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			mw.WriteField("verify", "true")
			mw.Close()
			r := httptest.NewRequest(http.MethodPost, "/api/translate", &body)
			r.Header.Set("Content-Type", mw.FormDataContentType())
			return r
		}},
		{"empty image", func() *http.Request {
			return uploadRequest(t, "empty.png", nil, false)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, tt.req())
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
		})
	}
	if n := srv.Store().Len(); n != 0 {
		t.Errorf("store has %d jobs after rejected requests", n)
	}
}

func TestTranslateJSONURL(t *testing.T) {
	srv := newTestServer(t, &fakeProcessor{})
	r := httptest.NewRequest(http.MethodPost, "/api/translate",
		strings.NewReader(`{"imageUrl":"http://example.test/p.png","filename":"p.png"}`))
	r.Header.Set("Content-Type", "application/json; charset=utf-8")

	id := submit(t, srv, r)
	waitFor(t, "completed", stageIs(srv, id, processor.StageCompleted))
}

func TestImageConflictWhileRunning(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	srv := newTestServer(t, proc)
	id := submit(t, srv, uploadRequest(t, "p.png", []byte("x"), false))

	waitFor(t, "translating", stageIs(srv, id, processor.StageTranslating))
	if rec := do(srv, http.MethodGet, "/api/jobs/"+id+"/image", ""); rec.Code != http.StatusConflict {
		t.Errorf("image while running = %d, want 409", rec.Code)
	}
	if rec := do(srv, http.MethodGet, "/api/jobs/missing/image", ""); rec.Code != http.StatusNotFound {
		t.Errorf("image of unknown job = %d, want 404", rec.Code)
	}
	close(proc.block)
	waitFor(t, "completed", stageIs(srv, id, processor.StageCompleted))
}

func TestVerificationOverAPI(t *testing.T) {
	srv := newTestServer(t, &fakeProcessor{})
	id := submit(t, srv, uploadRequest(t, "p.png", []byte("x"), true))

	waitFor(t, "pending boxes", func() bool {
		job, ok := srv.Store().Get(id)
		return ok && job.State.Stage == processor.StageVerifying && len(job.PendingBoxes) == 1
	})

	edited := `{"accept":true,"boxes":[{"text":"早上好","bbox":{"x0":0,"y0":0,"x1":30,"y1":12}}]}`
	if rec := do(srv, http.MethodPost, "/api/jobs/"+id+"/verify", edited); rec.Code != http.StatusOK {
		t.Fatalf("verify = %d: %s", rec.Code, rec.Body.String())
	}

	waitFor(t, "result", func() bool {
		job, _ := srv.Store().Get(id)
		return job.OriginalText == "早上好"
	})

	if rec := do(srv, http.MethodPost, "/api/jobs/"+id+"/verify", `{"accept":true}`); rec.Code != http.StatusConflict {
		t.Errorf("second verify = %d, want 409", rec.Code)
	}
	if rec := do(srv, http.MethodPost, "/api/jobs/missing/verify", `{"accept":true}`); rec.Code != http.StatusNotFound {
		t.Errorf("verify unknown = %d, want 404", rec.Code)
	}
	if rec := do(srv, http.MethodPost, "/api/jobs/"+id+"/verify", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("verify bad body = %d, want 400", rec.Code)
	}
}

func TestDeleteCancelsRun(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{}), cancelled: make(chan struct{})}
	srv := newTestServer(t, proc)
	id := submit(t, srv, uploadRequest(t, "p.png", []byte("x"), false))
	waitFor(t, "translating", stageIs(srv, id, processor.StageTranslating))

	if rec := do(srv, http.MethodDelete, "/api/jobs/"+id, ""); rec.Code != http.StatusOK {
		t.Fatalf("delete = %d", rec.Code)
	}
	select {
	case <-proc.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("run was not cancelled")
	}
	if rec := do(srv, http.MethodGet, "/api/jobs/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", rec.Code)
	}
	if rec := do(srv, http.MethodDelete, "/api/jobs/"+id, ""); rec.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", rec.Code)
	}
}

func TestClearJobs(t *testing.T) {
	srv := newTestServer(t, &fakeProcessor{})
	for i := 0; i < 3; i++ {
		submit(t, srv, uploadRequest(t, "p.png", []byte("x"), false))
	}
	rec := do(srv, http.MethodDelete, "/api/jobs", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":3`) {
		t.Errorf("clear = %d %s", rec.Code, rec.Body.String())
	}
	if n := srv.Store().Len(); n != 0 {
		t.Errorf("Len = %d after clear", n)
	}
}

func TestLogsEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeProcessor{})
	srv.cfg.Logs.Add(logging.Entry{Severity: "INFO", Category: logging.CategoryAPI, Message: "hello"})

	rec := do(srv, http.MethodGet, "/api/logs", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"message":"hello"`) {
		t.Fatalf("logs = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(srv, http.MethodDelete, "/api/logs", ""); rec.Code != http.StatusNoContent {
		t.Errorf("clear logs = %d", rec.Code)
	}
	if n := len(srv.cfg.Logs.Entries()); n != 0 {
		t.Errorf("entries after clear = %d", n)
	}
}

func TestJobStoreSweep(t *testing.T) {
	store := NewJobStore()
	store.Create("old-done", "", nil)
	store.Create("old-running", "", nil)
	store.Create("new-done", "", nil)

	old := time.Now().Add(-2 * time.Hour)
	store.Publish(context.Background(), processor.TranslationState{JobID: "old-done", Stage: processor.StageError, UpdatedAt: old})
	store.Publish(context.Background(), processor.TranslationState{JobID: "old-running", Stage: processor.StageTranslating, UpdatedAt: old})
	store.Publish(context.Background(), processor.TranslationState{JobID: "new-done", Stage: processor.StageCompleted, UpdatedAt: time.Now()})

	if n := store.Sweep(time.Hour); n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}
	if _, ok := store.Get("old-done"); ok {
		t.Error("old finished job survived the sweep")
	}
	if store.Len() != 2 {
		t.Errorf("Len = %d, want 2", store.Len())
	}
}

func TestJobStoreHoldsCompletedUntilResult(t *testing.T) {
	store := NewJobStore()
	store.Create("j", "page.png", nil)
	ctx := context.Background()

	store.Publish(ctx, processor.TranslationState{JobID: "j", Stage: processor.StageRendering, Progress: 70})
	store.Publish(ctx, processor.TranslationState{JobID: "j", Stage: processor.StageCompleted, Progress: 100})

	view, _ := store.Get("j")
	if view.State.Stage != processor.StageRendering {
		t.Errorf("stage before result = %s, want rendering", view.State.Stage)
	}
	if _, stage, _ := store.Image("j"); stage == processor.StageCompleted {
		t.Error("image reported completed without a result")
	}

	store.SetResult("j", &processor.PipelineResult{JobID: "j", TranslatedImage: fakeJPEG, TranslatedText: "Hello"})

	view, _ = store.Get("j")
	if view.State.Stage != processor.StageCompleted || view.State.Progress != 100 {
		t.Errorf("state after result = %+v", view.State)
	}
	if view.TranslatedText != "Hello" {
		t.Errorf("TranslatedText = %q", view.TranslatedText)
	}
	data, stage, err := store.Image("j")
	if err != nil || stage != processor.StageCompleted || !bytes.Equal(data, fakeJPEG) {
		t.Errorf("Image = %v, %s, %v", data, stage, err)
	}
}

func TestJobStoreVerifyContext(t *testing.T) {
	store := NewJobStore()
	store.Create("j", "", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := store.Verify(ctx, "j", nil)
	if !goerrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if err := store.Resolve("j", processor.VerificationDecision{Accept: true}); !goerrors.Is(err, ErrNotAwaitingVerification) {
		t.Errorf("Resolve after timeout = %v", err)
	}
	if _, err := store.Verify(context.Background(), "missing", nil); !goerrors.Is(err, ErrJobNotFound) {
		t.Errorf("Verify unknown = %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"page.png":            "page.png",
		"../../etc/passwd":    "passwd",
		`C:\scans\page 1.jpg`: "page 1.jpg",
		"":                    "unnamed",
		"a..b.png":            "a_b.png",
	}
	for in, want := range tests {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

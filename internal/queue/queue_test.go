package queue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	goerrors "errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

func TestJobPayloadUnmarshal(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0, 255}

	tests := []struct {
		name    string
		json    string
		want    []byte
		wantErr bool
	}{
		{
			name: "base64 string",
			json: `{"jobId":"j1","imageBuffer":"` + base64.StdEncoding.EncodeToString(raw) + `"}`,
			want: raw,
		},
		{
			name: "node buffer",
			json: `{"jobId":"j1","imageBuffer":{"type":"Buffer","data":[137,80,78,71,0,255]}}`,
			want: raw,
		},
		{
			name: "url only",
			json: `{"jobId":"j1","imageUrl":"https://example.com/p.png"}`,
		},
		{name: "bad base64", json: `{"jobId":"j1","imageBuffer":"%%%"}`, wantErr: true},
		{name: "wrong buffer type", json: `{"jobId":"j1","imageBuffer":{"type":"Blob","data":[1]}}`, wantErr: true},
		{name: "byte out of range", json: `{"jobId":"j1","imageBuffer":{"type":"Buffer","data":[256]}}`, wantErr: true},
		{name: "number", json: `{"jobId":"j1","imageBuffer":42}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JobPayload
			err := json.Unmarshal([]byte(tt.json), &p)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if p.JobID != "j1" {
				t.Errorf("JobID = %q", p.JobID)
			}
			if !bytes.Equal(p.ImageBuffer, tt.want) {
				t.Errorf("ImageBuffer = %v, want %v", p.ImageBuffer, tt.want)
			}
		})
	}
}

func TestJobPayloadSubmittedFormIsConsumable(t *testing.T) {
	in := JobPayload{JobID: "j2", Filename: "p1.png", ImageBuffer: []byte("image"), RequireVerification: true}
	data, err := json.Marshal(RedisJobData{ID: in.JobID, Type: TaskTypeTranslateImage, Payload: in})
	if err != nil {
		t.Fatal(err)
	}

	var out RedisJobData
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Payload.JobID != "j2" || string(out.Payload.ImageBuffer) != "image" || !out.Payload.RequireVerification {
		t.Errorf("payload = %+v", out.Payload)
	}
}

type fakeProcessor struct {
	err      error
	deadline bool
	got      *processor.ProcessRequest
}

func (f *fakeProcessor) ProcessImage(ctx context.Context, req *processor.ProcessRequest) (*processor.PipelineResult, error) {
	f.got = req
	_, f.deadline = ctx.Deadline()
	if f.err != nil {
		return nil, f.err
	}
	return &processor.PipelineResult{
		JobID:           req.JobID,
		TranslatedImage: []byte{0xFF, 0xD8},
		OriginalText:    "你好",
		TranslatedText:  "Hello",
		Translations:    []string{"Hello"},
		Recognizer:      "tesseract",
		Duration:        1500 * time.Millisecond,
	}, nil
}

type recorder struct {
	filenames []string
}

func (r *recorder) RecordResult(ctx context.Context, filename string, res *processor.PipelineResult) error {
	r.filenames = append(r.filenames, filename)
	return nil
}

func TestRunJob(t *testing.T) {
	proc := &fakeProcessor{}
	rec := &recorder{}
	res := runJob(context.Background(), proc, time.Minute, &JobPayload{JobID: "j3", Filename: "p.png", ImageURL: "http://x/p.png"}, nil, rec)

	if res.Status != "completed" || res.TranslatedText != "Hello" || res.DurationMs != 1500 {
		t.Errorf("result = %+v", res)
	}
	if res.Image != base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8}) {
		t.Errorf("Image = %q", res.Image)
	}
	if !proc.deadline {
		t.Error("processor ran without a deadline")
	}
	if proc.got.ImageURL != "http://x/p.png" {
		t.Errorf("request = %+v", proc.got)
	}

	proc.err = errors.NewNoTextDetectedError("j4", "tesseract")
	res = runJob(context.Background(), proc, time.Minute, &JobPayload{JobID: "j4"}, nil, rec)
	if res.Status != "failed" || res.ErrorCode != string(errors.ErrorNoTextDetected) || res.Image != "" {
		t.Errorf("failed result = %+v", res)
	}
	if len(rec.filenames) != 1 || rec.filenames[0] != "p.png" {
		t.Errorf("recorded = %v, want only the completed job", rec.filenames)
	}
}

func TestHandleTranslateImage(t *testing.T) {
	proc := &fakeProcessor{}
	c := &Consumer{
		processor: proc,
		config:    &ConsumerConfig{QueueName: "q", ProcessingTimeout: time.Minute},
		logger:    logging.NewLogger(logging.CategoryQueue),
	}

	task, err := NewTranslateImageTask(JobPayload{JobID: "j5", ImageBuffer: []byte("img")}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if task.Type() != TaskTypeTranslateImage {
		t.Errorf("type = %s", task.Type())
	}

	if err := c.handleTranslateImage(context.Background(), task); err != nil {
		t.Fatalf("handleTranslateImage: %v", err)
	}
	if proc.got.JobID != "j5" || string(proc.got.ImageBuffer) != "img" {
		t.Errorf("request = %+v", proc.got)
	}

	proc.err = errors.NewDecodeError("j5", goerrors.New("bad"))
	err = c.handleTranslateImage(context.Background(), task)
	if !goerrors.Is(err, asynq.SkipRetry) {
		t.Errorf("failed job should skip retry, got %v", err)
	}

	bad := asynq.NewTask(TaskTypeTranslateImage, []byte("{not json"))
	if err := c.handleTranslateImage(context.Background(), bad); !goerrors.Is(err, asynq.SkipRetry) {
		t.Errorf("bad payload should skip retry, got %v", err)
	}
}

func TestProgressEvent(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := newProgressEvent(processor.TranslationState{
		JobID: "j6", Stage: processor.StageTranslating, Progress: 40, Message: "Translating 3 text regions...", UpdatedAt: ts,
	})
	if ev.Event != "job:translating" || ev.Progress != 40 || ev.Timestamp != "2025-01-02T03:04:05Z" {
		t.Errorf("event = %+v", ev)
	}
}

func TestKeysFor(t *testing.T) {
	k := keysFor("mangatrans:jobs")
	if k.data != "mangatrans:jobs:data" || k.events != "mangatrans:jobs:events" || k.result("abc") != "mangatrans:jobs:result:abc" {
		t.Errorf("keys = %+v", k)
	}
}

// slowProcessor takes d to finish unless its context ends first.
type slowProcessor struct {
	d time.Duration
}

func (s *slowProcessor) ProcessImage(ctx context.Context, req *processor.ProcessRequest) (*processor.PipelineResult, error) {
	select {
	case <-time.After(s.d):
		return &processor.PipelineResult{JobID: req.JobID, TranslatedImage: []byte{0xFF, 0xD8}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRedisConsumerStopDrainsRunningJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &RedisConsumer{
		processor: &slowProcessor{d: 200 * time.Millisecond},
		config:    &RedisConsumerConfig{ProcessingTimeout: time.Second},
		logger:    logging.NewLogger(logging.CategoryQueue),
		ctx:       ctx,
		cancel:    cancel,
	}

	time.AfterFunc(20*time.Millisecond, cancel)
	res := c.runPayload(&JobPayload{JobID: "j7", ImageBuffer: []byte("img")})

	if ctx.Err() == nil {
		t.Fatal("consumer context was not cancelled during the job")
	}
	if res.Status != "completed" {
		t.Errorf("status = %s (%s), want completed", res.Status, res.Error)
	}
}

func TestRedisConsumerJobKeepsProcessingTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &RedisConsumer{
		processor: &slowProcessor{d: time.Second},
		config:    &RedisConsumerConfig{ProcessingTimeout: 30 * time.Millisecond},
		logger:    logging.NewLogger(logging.CategoryQueue),
		ctx:       ctx,
		cancel:    cancel,
	}

	res := c.runPayload(&JobPayload{JobID: "j8"})
	if res.Status != "failed" {
		t.Errorf("status = %s, want failed on processing timeout", res.Status)
	}
}

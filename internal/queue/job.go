package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
	"github.com/adverant/nexus/mangatrans-worker/internal/processor"
)

// DefaultQueueName is used when no queue name is configured.
const DefaultQueueName = "mangatrans:jobs"

// DefaultProcessingTimeout bounds a single job.
const DefaultProcessingTimeout = 5 * time.Minute

// JobPayload is the job submitted by producers. Exactly one of ImageURL
// and ImageBuffer is expected.
type JobPayload struct {
	JobID               string `json:"jobId"`
	Filename            string `json:"filename,omitempty"`
	ImageURL            string `json:"imageUrl,omitempty"`
	ImageBuffer         []byte `json:"imageBuffer,omitempty"` // set by UnmarshalJSON
	RequireVerification bool   `json:"requireVerification,omitempty"`
}

// UnmarshalJSON accepts imageBuffer either as a base64 string or as a
// Node.js Buffer object ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		ImageBuffer interface{} `json:"imageBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	if aux.ImageBuffer == nil {
		return nil
	}

	switch v := aux.ImageBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 imageBuffer: %w", err)
		}
		p.ImageBuffer = decoded

	case map[string]interface{}:
		bufferType, ok := v["type"].(string)
		if !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.ImageBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.ImageBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("imageBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

func (p *JobPayload) request(sink processor.ProgressSink) *processor.ProcessRequest {
	return &processor.ProcessRequest{
		JobID:               p.JobID,
		Filename:            p.Filename,
		ImageURL:            p.ImageURL,
		ImageBuffer:         p.ImageBuffer,
		RequireVerification: p.RequireVerification,
		Sink:                sink,
	}
}

// JobResult is the stored outcome of a job.
type JobResult struct {
	JobID          string              `json:"jobId"`
	Status         string              `json:"status"`
	Image          string              `json:"image,omitempty"` // base64 JPEG
	OriginalText   string              `json:"originalText,omitempty"`
	TranslatedText string              `json:"translatedText,omitempty"`
	TextBoxes      []processor.TextBox `json:"textBoxes,omitempty"`
	Translations   []string            `json:"translations,omitempty"`
	Degraded       int                 `json:"degraded,omitempty"`
	Recognizer     string              `json:"recognizer,omitempty"`
	DurationMs     int64               `json:"durationMs"`
	Error          string              `json:"error,omitempty"`
	ErrorCode      string              `json:"errorCode,omitempty"`
	CompletedAt    time.Time           `json:"completedAt"`
}

func completedJobResult(res *processor.PipelineResult) *JobResult {
	return &JobResult{
		JobID:          res.JobID,
		Status:         "completed",
		Image:          base64.StdEncoding.EncodeToString(res.TranslatedImage),
		OriginalText:   res.OriginalText,
		TranslatedText: res.TranslatedText,
		TextBoxes:      res.TextBoxes,
		Translations:   res.Translations,
		Degraded:       res.Degraded,
		Recognizer:     res.Recognizer,
		DurationMs:     res.Duration.Milliseconds(),
		CompletedAt:    time.Now(),
	}
}

func failedJobResult(jobID string, err error, duration time.Duration) *JobResult {
	result := &JobResult{
		JobID:       jobID,
		Status:      "failed",
		Error:       err.Error(),
		ErrorCode:   string(errors.CodeOf(err)),
		DurationMs:  duration.Milliseconds(),
		CompletedAt: time.Now(),
	}
	return result
}

// ResultRecorder stores the summary of a completed run.
type ResultRecorder interface {
	RecordResult(ctx context.Context, filename string, res *processor.PipelineResult) error
}

// runJob runs one payload through the pipeline under the processing
// timeout. Failures are never retried.
func runJob(ctx context.Context, proc processor.ImageProcessorInterface, timeout time.Duration, payload *JobPayload, sink processor.ProgressSink, recorder ResultRecorder) *JobResult {
	logger := logging.NewLogger(logging.CategoryQueue)
	startTime := time.Now()

	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	logger.Info("Processing job", "jobId", payload.JobID, "filename", payload.Filename, "timeout", timeout)

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := proc.ProcessImage(processCtx, payload.request(sink))
	duration := time.Since(startTime)

	if err != nil {
		logger.Error("Job failed", "jobId", payload.JobID, "duration", duration, "error", err)
		return failedJobResult(payload.JobID, err, duration)
	}

	logger.Info("Job completed", "jobId", payload.JobID, "duration", duration,
		"boxes", len(result.TextBoxes), "degraded", result.Degraded, "recognizer", result.Recognizer)

	if recorder != nil {
		if err := recorder.RecordResult(ctx, payload.Filename, result); err != nil {
			logger.Warn("Failed to record job result", "jobId", payload.JobID, "error", err)
		}
	}
	return completedJobResult(result)
}

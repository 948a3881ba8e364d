/**
 * Image Processor - layout-preserving translation pipeline
 *
 * detecting -> (verifying) -> translating -> rendering -> completed
 *
 * Detection walks the recognizer cascade (OCR.space, Tesseract words,
 * edge regions) until one tier finds text. Every box is translated
 * concurrently; a box whose provider chain is exhausted keeps its source
 * text. The render stage blanks each box and typesets the translation.
 */

package processor

import (
	"bytes"
	"context"
	goerrors "errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
)

// ImageProcessorInterface is what queue consumers and the HTTP API drive.
type ImageProcessorInterface interface {
	ProcessImage(ctx context.Context, req *ProcessRequest) (*PipelineResult, error)
}

// Translator translates one source string.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// VerificationDecision is a human answer to the detection gate. On accept,
// a non-empty Boxes replaces the detected boxes.
type VerificationDecision struct {
	Accept bool      `json:"accept"`
	Boxes  []TextBox `json:"boxes,omitempty"`
}

// Verifier asks someone to confirm detected boxes before translation.
type Verifier interface {
	Verify(ctx context.Context, jobID string, boxes []TextBox) (VerificationDecision, error)
}

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Recognizers  []Recognizer
	Translator   Translator
	Renderer     *Renderer
	ReadingOrder ReadingOrderConfig
	// Sink receives every state change of every run.
	Sink     ProgressSink
	Verifier Verifier

	MaxFileSize           int64
	BoxConcurrency        int
	MaxVerificationRounds int
	HTTPClient            *http.Client
}

// ProcessRequest describes one image run.
type ProcessRequest struct {
	JobID               string
	Filename            string
	ImageURL            string
	ImageBuffer         []byte
	RequireVerification bool
	// Sink receives this run's updates in addition to the processor sink.
	Sink ProgressSink
}

// ImageProcessor runs the translation pipeline for one image at a time per
// call; concurrent calls share no mutable state.
type ImageProcessor struct {
	config     *ProcessorConfig
	assembler  *ReadingOrderAssembler
	httpClient *http.Client
	logger     *logging.Logger
}

// NewImageProcessor creates a new image processor
func NewImageProcessor(cfg *ProcessorConfig) (*ImageProcessor, error) {
	if len(cfg.Recognizers) == 0 {
		return nil, fmt.Errorf("at least one recognizer is required")
	}
	if cfg.Translator == nil {
		return nil, fmt.Errorf("translator is required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if cfg.BoxConcurrency <= 0 {
		cfg.BoxConcurrency = 8
	}
	if cfg.MaxVerificationRounds <= 0 {
		cfg.MaxVerificationRounds = 3
	}
	if cfg.ReadingOrder.BandTolerance <= 0 {
		cfg.ReadingOrder = DefaultReadingOrderConfig()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}

	return &ImageProcessor{
		config:     cfg,
		assembler:  NewReadingOrderAssembler(cfg.ReadingOrder),
		httpClient: httpClient,
		logger:     logging.NewLogger(logging.CategoryImage),
	}, nil
}

// ProcessImage runs the pipeline for req. On failure the returned error
// is also the reason recorded in the final error state.
func (p *ImageProcessor) ProcessImage(ctx context.Context, req *ProcessRequest) (*PipelineResult, error) {
	startTime := time.Now()
	tracker := newStateTracker(req.JobID, MultiSink{p.config.Sink, req.Sink})

	fail := func(err error) (*PipelineResult, error) {
		if goerrors.Is(ctx.Err(), context.DeadlineExceeded) && errors.CodeOf(err) == "" {
			err = errors.NewProcessingTimeoutError(req.JobID, time.Since(startTime), err)
		}
		p.logger.Error("Image processing failed", "jobId", req.JobID, "stage", tracker.snapshot().Stage, "error", err)
		return nil, tracker.fail(ctx, err)
	}

	// Step 1: load and decode
	tracker.advance(ctx, StageDetecting, progressDetecting, "Detecting text...")
	p.logger.Info("Step 1: Loading image", "jobId", req.JobID, "filename", req.Filename)

	data, err := p.loadImage(ctx, req)
	if err != nil {
		return fail(err)
	}
	mimeType := detectImageType(data)
	if mimeType != "" && !isSupportedImageType(mimeType) {
		return fail(errors.NewUnsupportedFormatError(req.JobID, mimeType))
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fail(errors.NewDecodeError(req.JobID, err))
	}
	p.logger.Info("Image decoded", "jobId", req.JobID, "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	// Step 2: detect (and optionally verify)
	boxes, recognizer, err := p.detectAndVerify(ctx, tracker, req, data, img)
	if err != nil {
		return fail(err)
	}

	// Step 3: translate
	tracker.advance(ctx, StageTranslating, progressTranslating,
		fmt.Sprintf("Translating %d text regions...", len(boxes)))
	p.logger.Info("Step 3: Translating", "jobId", req.JobID, "boxes", len(boxes))

	translations, degraded := p.translateAll(ctx, req.JobID, boxes)
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Step 4: render
	tracker.advance(ctx, StageRendering, progressRendering, "Rendering translations...")
	p.logger.Info("Step 4: Rendering", "jobId", req.JobID)

	rendered, err := p.config.Renderer.Render(img, boxes, translations)
	if err != nil {
		return fail(errors.NewRenderError(req.JobID, err))
	}
	encoded, err := p.config.Renderer.EncodeJPEG(rendered)
	if err != nil {
		return fail(errors.NewRenderError(req.JobID, err))
	}

	original := make([]string, len(boxes))
	for i, b := range boxes {
		original[i] = b.Text
	}

	result := &PipelineResult{
		JobID:           req.JobID,
		TranslatedImage: encoded,
		OriginalText:    strings.Join(original, "\n"),
		TranslatedText:  strings.Join(translations, "\n"),
		TextBoxes:       boxes,
		Translations:    translations,
		Degraded:        degraded,
		Recognizer:      recognizer,
		Duration:        time.Since(startTime),
	}

	tracker.advance(ctx, StageCompleted, progressCompleted, "Translation completed")
	p.logger.Info("Image processing completed", "jobId", req.JobID,
		"boxes", len(boxes), "degraded", degraded, "duration", result.Duration)

	return result, nil
}

// detectAndVerify runs detection and, when gated, loops back to detection
// on rejection up to MaxVerificationRounds times.
func (p *ImageProcessor) detectAndVerify(ctx context.Context, tracker *stateTracker, req *ProcessRequest, data []byte, img image.Image) ([]TextBox, string, error) {
	gated := req.RequireVerification && p.config.Verifier != nil
	rejections := 0

	for {
		p.logger.Info("Step 2: Detecting text", "jobId", req.JobID, "round", rejections+1)
		boxes, recognizer, err := p.detect(ctx, req.JobID, data, img)
		if err != nil {
			return nil, "", err
		}
		boxes = p.assembler.Order(boxes)

		if !gated {
			return boxes, recognizer, nil
		}

		tracker.advance(ctx, StageVerifying, progressVerifying,
			fmt.Sprintf("Waiting for confirmation of %d text regions", len(boxes)))

		decision, err := p.config.Verifier.Verify(ctx, req.JobID, boxes)
		if err != nil {
			return nil, "", err
		}

		if decision.Accept {
			if len(decision.Boxes) > 0 {
				boxes = p.assembler.Order(sanitizeBoxes(decision.Boxes))
				if len(boxes) == 0 {
					return nil, "", errors.NewNoTextDetectedError(req.JobID, "verifier")
				}
				recognizer = "verifier"
			}
			for i := range boxes {
				boxes[i].Verified = true
			}
			return boxes, recognizer, nil
		}

		rejections++
		p.logger.Warn("Detected text rejected", "jobId", req.JobID, "rejections", rejections)
		if rejections >= p.config.MaxVerificationRounds {
			return nil, "", errors.NewVerificationRejectedError(req.JobID, rejections)
		}
		tracker.advance(ctx, StageDetecting, progressDetecting, "Re-running text detection...")
	}
}

// detect walks the recognizer cascade. A tier that errors or finds nothing
// escalates to the next one.
func (p *ImageProcessor) detect(ctx context.Context, jobID string, data []byte, img image.Image) ([]TextBox, string, error) {
	var lastErr error
	var lastTier string
	failures := 0

	for i, r := range p.config.Recognizers {
		p.logger.Info(fmt.Sprintf("Tier %d: Attempting %s", i+1, r.Name()), "jobId", jobID)

		boxes, err := r.Recognize(ctx, data, img)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			failures++
			lastErr, lastTier = err, r.Name()
			p.logger.Warn("Recognizer failed, escalating", "jobId", jobID, "tier", r.Name(), "error", err)
			continue
		}

		boxes = sanitizeBoxes(boxes)
		if len(boxes) == 0 {
			p.logger.Info("Recognizer found no text, escalating", "jobId", jobID, "tier", r.Name())
			continue
		}

		p.logger.Info("Text detected", "jobId", jobID, "tier", r.Name(), "boxes", len(boxes))
		return boxes, r.Name(), nil
	}

	if failures == len(p.config.Recognizers) {
		return nil, "", errors.NewOCRFailedError(jobID, lastTier, lastErr)
	}
	return nil, "", errors.NewNoTextDetectedError(jobID, lastTier)
}

// translateAll translates every box concurrently into its own slot. A
// failed box falls back to its source text.
func (p *ImageProcessor) translateAll(ctx context.Context, jobID string, boxes []TextBox) ([]string, int) {
	translations := make([]string, len(boxes))
	var degraded atomic.Int32

	var g errgroup.Group
	g.SetLimit(p.config.BoxConcurrency)

	for i, box := range boxes {
		i, box := i, box // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			translated, err := p.config.Translator.Translate(ctx, box.Text)
			if err != nil {
				degraded.Add(1)
				translations[i] = box.Text
				logging.NewLogger(logging.CategoryTranslation).Warn("Translation failed, keeping source text",
					"jobId", jobID, "box", i, "text", box.Text, "error", err)
				return nil
			}
			translations[i] = translated
			return nil
		})
	}
	_ = g.Wait()

	return translations, int(degraded.Load())
}

// sanitizeBoxes drops empty boxes and normalizes geometry.
func sanitizeBoxes(boxes []TextBox) []TextBox {
	out := make([]TextBox, 0, len(boxes))
	for _, b := range boxes {
		b.Text = strings.TrimSpace(b.Text)
		if b.Text == "" {
			continue
		}
		b.BBox = NewRect(b.BBox.X0, b.BBox.Y0, b.BBox.X1, b.BBox.Y1)
		out = append(out, b)
	}
	return out
}

// IsNoTextDetected reports whether err means the image had no text.
func IsNoTextDetected(err error) bool {
	return goerrors.Is(err, errors.ErrNoTextDetected)
}

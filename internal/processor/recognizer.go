package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/adverant/nexus/mangatrans-worker/internal/clients"
	"github.com/adverant/nexus/mangatrans-worker/internal/logging"
)

// Recognizer turns a page into text boxes. data is the encoded page and
// img the decoded one; implementations use whichever they need.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, data []byte, img image.Image) ([]TextBox, error)
}

// WordSource returns word tokens for an encoded page.
type WordSource interface {
	Words(ctx context.Context, imageData []byte) ([]WordToken, error)
}

// TextReader returns the text of a single encoded region.
type TextReader interface {
	Text(ctx context.Context, imageData []byte) (string, error)
}

// ClusteringRecognizer runs a WordSource and clusters its tokens.
type ClusteringRecognizer struct {
	name      string
	source    WordSource
	clusterer *WordClusterer
}

// NewClusteringRecognizer creates a recognizer named name over source.
func NewClusteringRecognizer(name string, source WordSource, clusterer *WordClusterer) *ClusteringRecognizer {
	return &ClusteringRecognizer{name: name, source: source, clusterer: clusterer}
}

func (r *ClusteringRecognizer) Name() string { return r.name }

func (r *ClusteringRecognizer) Recognize(ctx context.Context, data []byte, _ image.Image) ([]TextBox, error) {
	tokens, err := r.source.Words(ctx, data)
	if err != nil {
		return nil, err
	}
	return r.clusterer.Cluster(tokens), nil
}

// OCRSpaceWords adapts the OCR.space client to a WordSource.
type OCRSpaceWords struct {
	Client *clients.OCRSpaceClient
}

func (o OCRSpaceWords) Words(ctx context.Context, imageData []byte) ([]WordToken, error) {
	words, err := o.Client.ParseImage(ctx, imageData, "")
	if err != nil {
		return nil, err
	}
	tokens := make([]WordToken, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, WordToken{
			Text:       w.WordText,
			Left:       w.Left,
			Top:        w.Top,
			Width:      w.Width,
			Height:     w.Height,
			Confidence: w.Confidence,
		})
	}
	return tokens, nil
}

// RegionRecognizer finds regions on the edge map and reads each crop
// with a TextReader. Used when no word-level recognizer found anything.
type RegionRecognizer struct {
	detector *EdgeDetector
	reader   TextReader
	logger   *logging.Logger
}

// NewRegionRecognizer creates a region-based recognizer.
func NewRegionRecognizer(detector *EdgeDetector, reader TextReader) *RegionRecognizer {
	return &RegionRecognizer{
		detector: detector,
		reader:   reader,
		logger:   logging.NewLogger(logging.CategoryOCR),
	}
}

func (r *RegionRecognizer) Name() string { return "edge-regions" }

func (r *RegionRecognizer) Recognize(ctx context.Context, _ []byte, img image.Image) ([]TextBox, error) {
	if img == nil {
		return nil, fmt.Errorf("region recognizer needs a decoded image")
	}

	regions := r.detector.Detect(img)
	r.logger.Debug("Edge regions detected", "regions", len(regions))

	var (
		boxes   []TextBox
		failed  int
		lastErr error
	)
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, region.Pixels); err != nil {
			return nil, fmt.Errorf("failed to encode region: %w", err)
		}

		text, err := r.reader.Text(ctx, buf.Bytes())
		if err != nil {
			r.logger.Warn("Region recognition failed", "x", region.X, "y", region.Y, "error", err)
			failed++
			lastErr = err
			continue
		}
		if text == "" {
			continue
		}

		boxes = append(boxes, TextBox{
			Text: text,
			BBox: NewRect(
				float64(region.X),
				float64(region.Y),
				float64(region.X+region.Width),
				float64(region.Y+region.Height),
			),
		})
	}
	// A reader that fails on every region is broken, not looking at a blank page.
	if failed > 0 && failed == len(regions) {
		return nil, fmt.Errorf("all %d regions failed: %w", failed, lastErr)
	}
	return boxes, nil
}

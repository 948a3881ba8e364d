/**
 * Tesseract OCR - local recognition fallback
 *
 * Word-level boxes for the clustering path, and plain text for single
 * regions cut out by the edge detector.
 */

package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR wraps a gosseract client per call; gosseract clients are
// not safe for concurrent use.
type TesseractOCR struct {
	language string
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	// Language is a traineddata name such as "chi_sim".
	Language string
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) (*TesseractOCR, error) {
	if cfg.Language == "" {
		cfg.Language = "chi_sim"
	}

	return &TesseractOCR{
		language: cfg.Language,
	}, nil
}

func (t *TesseractOCR) newClient(imageData []byte) (*gosseract.Client, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(t.language); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set language %s: %w", t.language, err)
	}
	if err := client.SetImageFromBytes(imageData); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	return client, nil
}

// Words returns word tokens with pixel boxes and 0-100 confidences.
func (t *TesseractOCR) Words(ctx context.Context, imageData []byte) ([]WordToken, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := t.newClient(imageData)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	tokens := make([]WordToken, 0, len(boxes))
	for _, b := range boxes {
		tokens = append(tokens, WordToken{
			Text:       b.Word,
			Left:       float64(b.Box.Min.X),
			Top:        float64(b.Box.Min.Y),
			Width:      float64(b.Box.Dx()),
			Height:     float64(b.Box.Dy()),
			Confidence: b.Confidence,
		})
	}
	return tokens, nil
}

// Text recognizes a single block and returns it with whitespace removed,
// since chi_sim output separates every glyph with a space.
func (t *TesseractOCR) Text(ctx context.Context, imageData []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client, err := t.newClient(imageData)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}
	return strings.Join(strings.Fields(text), ""), nil
}

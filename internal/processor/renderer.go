package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

// RendererConfig holds typesetting parameters.
type RendererConfig struct {
	// FontPath is an optional TTF file; empty uses the embedded Go Regular
	// face. A CJK-capable font is needed to draw untranslated fallback text.
	FontPath    string
	JPEGQuality int
	// OcclusionPadding grows every box on each side before it is blanked.
	OcclusionPadding float64
	MinFontSize      float64
	MaxFontSize      float64
	LineSpacing      float64
}

// DefaultRendererConfig returns the typesetting defaults.
func DefaultRendererConfig() RendererConfig {
	return RendererConfig{
		JPEGQuality:      95,
		OcclusionPadding: 2,
		MinFontSize:      12,
		MaxFontSize:      24,
		LineSpacing:      1.2,
	}
}

const (
	heightFill      = 0.85
	widthFill       = 0.95
	avgAdvanceRatio = 0.6
)

// Renderer paints translations back into the source image.
type Renderer struct {
	config RendererConfig
	font   *truetype.Font
}

// NewRenderer parses the configured font.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	ttf := goregular.TTF
	if cfg.FontPath != "" {
		data, err := os.ReadFile(cfg.FontPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read font %s: %w", cfg.FontPath, err)
		}
		ttf = data
	}

	f, err := truetype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 95
	}

	return &Renderer{config: cfg, font: f}, nil
}

// FontSize estimates a size that fits text into a w x h box, clamped to
// [minSize, maxSize]. Glyph advance is approximated as 0.6em.
func FontSize(w, h float64, text string, minSize, maxSize float64) float64 {
	size := h * heightFill
	if n := utf8.RuneCountInString(text); n > 0 {
		size = math.Min(size, (w*widthFill)/(float64(n)*avgAdvanceRatio))
	}
	return math.Min(math.Max(size, minSize), maxSize)
}

// WrapText greedily fills lines with space-separated words while the
// measured width stays within maxWidth. A single word wider than maxWidth
// gets a line of its own.
func WrapText(text string, maxWidth float64, measure func(string) float64) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, w := range words[1:] {
		candidate := current + " " + w
		if measure(candidate) > maxWidth {
			lines = append(lines, current)
			current = w
			continue
		}
		current = candidate
	}
	return append(lines, current)
}

// Render blanks every box and draws translations[i] centered in boxes[i].
// Empty translations leave the blank patch.
func (r *Renderer) Render(img image.Image, boxes []TextBox, translations []string) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("no source image")
	}
	if len(boxes) != len(translations) {
		return nil, fmt.Errorf("box/translation count mismatch: %d boxes, %d translations", len(boxes), len(translations))
	}

	if img.Bounds().Min != (image.Point{}) {
		img = crop(img, image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	}
	dc := gg.NewContextForImage(img)

	// Pass 1: occlusion
	pad := r.config.OcclusionPadding
	dc.SetRGB(1, 1, 1)
	for _, b := range boxes {
		dc.DrawRectangle(b.BBox.X0-pad, b.BBox.Y0-pad, b.BBox.Width()+2*pad, b.BBox.Height()+2*pad)
		dc.Fill()
	}

	// Pass 2: typeset
	for i, b := range boxes {
		text := strings.TrimSpace(translations[i])
		if text == "" {
			continue
		}

		w, h := b.BBox.Width(), b.BBox.Height()
		size := FontSize(w, h, text, r.config.MinFontSize, r.config.MaxFontSize)
		dc.SetFontFace(truetype.NewFace(r.font, &truetype.Options{Size: size}))

		lines := WrapText(text, w*widthFill, func(s string) float64 {
			lw, _ := dc.MeasureString(s)
			return lw
		})

		lineHeight := size * r.config.LineSpacing
		total := float64(len(lines)) * lineHeight
		x := b.BBox.X0 + w/2
		y := b.BBox.Y0 + (h-total)/2 + lineHeight/2

		for _, line := range lines {
			dc.SetRGBA(1, 1, 1, 0.8)
			dc.DrawStringAnchored(line, x+1, y+1, 0.5, 0.5)
			dc.SetRGBA(0, 0, 0, 0.9)
			dc.DrawStringAnchored(line, x, y, 0.5, 0.5)
			y += lineHeight
		}
	}

	return dc.Image(), nil
}

// EncodeJPEG encodes img at the configured quality.
func (r *Renderer) EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.config.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

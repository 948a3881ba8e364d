/**
 * OCR Types - Shared data structures for the translation pipeline
 *
 * Recognizers produce WordTokens or TextBoxes; every later stage works on
 * the ordered TextBox list.
 */

package processor

import (
	"image"
	"math"
	"time"
)

// PixelRegion is a connected component found on the edge map, with a copy
// of the source pixels it covers.
type PixelRegion struct {
	X      int
	Y      int
	Width  int
	Height int
	Pixels *image.RGBA
}

// Area returns the bounding-box area in pixels.
func (r PixelRegion) Area() int {
	return r.Width * r.Height
}

// WordToken is one recognized word with its box in source-image pixels.
type WordToken struct {
	Text       string
	Left       float64
	Top        float64
	Width      float64
	Height     float64
	Confidence float64 // 0..100
}

// Right returns the token's right edge.
func (w WordToken) Right() float64 { return w.Left + w.Width }

// Bottom returns the token's bottom edge.
func (w WordToken) Bottom() float64 { return w.Top + w.Height }

// TextLine is a run of tokens sharing a vertical band.
type TextLine struct {
	Words     []WordToken
	MinTop    float64
	MaxHeight float64
}

// Rect is an axis-aligned box with X0<=X1 and Y0<=Y1.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// NewRect builds a normalized Rect: corners are ordered, NaN and negative
// coordinates are clamped to 0.
func NewRect(x0, y0, x1, y1 float64) Rect {
	x0, y0, x1, y1 = clampCoord(x0), clampCoord(y0), clampCoord(x1), clampCoord(y1)
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

func clampCoord(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if math.IsInf(v, 1) {
		return math.MaxFloat32
	}
	return v
}

// Width returns X1-X0.
func (r Rect) Width() float64 { return r.X1 - r.X0 }

// Height returns Y1-Y0.
func (r Rect) Height() float64 { return r.Y1 - r.Y0 }

// Union returns the smallest Rect containing r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		X0: math.Min(r.X0, o.X0),
		Y0: math.Min(r.Y0, o.Y0),
		X1: math.Max(r.X1, o.X1),
		Y1: math.Max(r.Y1, o.Y1),
	}
}

// Valid reports whether the box invariant holds.
func (r Rect) Valid() bool {
	for _, v := range []float64{r.X0, r.Y0, r.X1, r.Y1} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return r.X0 <= r.X1 && r.Y0 <= r.Y1
}

// TextBox is the unit of translation and rendering.
type TextBox struct {
	Text       string   `json:"text"`
	BBox       Rect     `json:"bbox"`
	Confidence *float64 `json:"confidence,omitempty"`
	Verified   bool     `json:"verified,omitempty"`
}

// PipelineResult is produced once per completed image.
type PipelineResult struct {
	JobID           string        `json:"jobId"`
	TranslatedImage []byte        `json:"-"`
	OriginalText    string        `json:"originalText"`
	TranslatedText  string        `json:"translatedText"`
	TextBoxes       []TextBox     `json:"textBoxes"`
	Translations    []string      `json:"translations"`
	Degraded        int           `json:"degraded"`
	Recognizer      string        `json:"recognizer"`
	Duration        time.Duration `json:"duration"`
}

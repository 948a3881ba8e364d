package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"reflect"
	"strings"
	"testing"
)

func TestFontSizeClamping(t *testing.T) {
	tests := []struct {
		name string
		w, h float64
		text string
		want float64
	}{
		{"short box saturates low", 200, 5, "hello", 12},
		{"long translation saturates low", 100, 40, strings.Repeat("word ", 40), 12},
		{"tiny translation in huge box saturates high", 1000, 200, "hi", 24},
		{"in range follows height", 200, 20, "hello", 17},
		{"in range follows width", 57, 100, "abcde", 57 * 0.95 / 3},
		{"empty text uses height", 10, 20, "", 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FontSize(tt.w, tt.h, tt.text, 12, 24)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("FontSize = %v, want %v", got, tt.want)
			}
			if got < 12 || got > 24 {
				t.Errorf("FontSize %v outside [12, 24]", got)
			}
		})
	}
}

func TestFontSizeCountsRunes(t *testing.T) {
	// Four CJK runes, not twelve bytes.
	got := FontSize(100, 100, "你好世界", 12, 24)
	want := 100 * 0.95 / (4 * 0.6)
	if want > 24 {
		want = 24
	}
	if got != want {
		t.Errorf("FontSize = %v, want %v", got, want)
	}
}

func TestWrapText(t *testing.T) {
	measure := func(s string) float64 { return float64(len(s)) * 10 }

	tests := []struct {
		name     string
		text     string
		maxWidth float64
		want     []string
	}{
		{"empty", "   ", 50, nil},
		{"fits on one line", "aa bb", 50, []string{"aa bb"}},
		{"breaks when exceeded", "aa bb cc", 50, []string{"aa bb", "cc"}},
		{"overlong word kept whole", "supercalifragilistic x", 50, []string{"supercalifragilistic", "x"}},
		{"no lookahead", "a bbbb c", 60, []string{"a bbbb", "c"}},
		{"collapses repeated spaces", "aa   bb", 50, []string{"aa bb"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapText(tt.text, tt.maxWidth, measure)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("WrapText = %q, want %q", got, tt.want)
			}
		})
	}
}

func blackImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	return img
}

func isWhite(c color.Color) bool {
	r, g, b, _ := c.RGBA()
	return r>>8 == 255 && g>>8 == 255 && b>>8 == 255
}

func TestRenderOcclusionWithoutTranslation(t *testing.T) {
	r, err := NewRenderer(DefaultRendererConfig())
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	src := blackImage(120, 80)
	boxes := []TextBox{{Text: "你好", BBox: NewRect(20, 20, 80, 50)}}

	out, err := r.Render(src, boxes, []string{""})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, p := range []image.Point{{50, 35}, {18, 18}, {81, 51}} {
		if !isWhite(out.At(p.X, p.Y)) {
			t.Errorf("pixel %v = %v, want white", p, out.At(p.X, p.Y))
		}
	}
	if isWhite(out.At(10, 10)) {
		t.Errorf("pixel outside padded box was painted")
	}
	if isWhite(src.At(50, 35)) {
		t.Errorf("source image was modified")
	}
}

func TestRenderDrawsTranslation(t *testing.T) {
	r, err := NewRenderer(DefaultRendererConfig())
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	boxes := []TextBox{{Text: "你好", BBox: NewRect(10, 10, 190, 60)}}
	out, err := r.Render(blackImage(200, 80), boxes, []string{"Hello there"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	dark := 0
	for y := 10; y < 60; y++ {
		for x := 10; x < 190; x++ {
			rr, _, _, _ := out.At(x, y).RGBA()
			if rr>>8 < 128 {
				dark++
			}
		}
	}
	if dark == 0 {
		t.Errorf("expected ink inside the box")
	}
}

func TestRenderMismatchedLengths(t *testing.T) {
	r, err := NewRenderer(DefaultRendererConfig())
	if err != nil {
		t.Fatal(err)
	}
	_, err = r.Render(blackImage(10, 10), []TextBox{{BBox: NewRect(0, 0, 5, 5)}}, nil)
	if err == nil {
		t.Fatal("expected error for mismatched slices")
	}
}

func TestEncodeJPEG(t *testing.T) {
	r, err := NewRenderer(DefaultRendererConfig())
	if err != nil {
		t.Fatal(err)
	}
	data, err := r.EncodeJPEG(blackImage(32, 16))
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 32 || img.Bounds().Dy() != 16 {
		t.Errorf("bounds = %v", img.Bounds())
	}
}

func TestNewRendererMissingFont(t *testing.T) {
	cfg := DefaultRendererConfig()
	cfg.FontPath = "/nonexistent/font.ttf"
	if _, err := NewRenderer(cfg); err == nil {
		t.Fatal("expected error for missing font file")
	}
}

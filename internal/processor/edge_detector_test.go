package processor

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
)

func whiteImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return img
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func TestDefaultEdgeDetectorConfig(t *testing.T) {
	cfg := DefaultEdgeDetectorConfig()
	if cfg.EdgeThreshold != 50 {
		t.Errorf("EdgeThreshold = %v, want 50", cfg.EdgeThreshold)
	}
	if cfg.MinArea != 100 || cfg.MaxArea != 100000 {
		t.Errorf("area bounds = [%d, %d]", cfg.MinArea, cfg.MaxArea)
	}
	if cfg.MinAspect != 0.1 || cfg.MaxAspect != 10 {
		t.Errorf("aspect bounds = [%v, %v]", cfg.MinAspect, cfg.MaxAspect)
	}
}

func TestEdgeDetectorFindsFilledBlock(t *testing.T) {
	img := whiteImage(100, 80)
	fillRect(img, image.Rect(30, 30, 70, 50), color.Black)

	regions := NewEdgeDetector(DefaultEdgeDetectorConfig()).Detect(img)
	if len(regions) != 1 {
		t.Fatalf("len(regions) = %d, want 1", len(regions))
	}

	r := regions[0]
	// The edge ring straddles the block boundary by one pixel on each side.
	if r.X != 29 || r.Y != 29 || r.Width != 42 || r.Height != 22 {
		t.Errorf("region = {%d,%d,%d,%d}, want {29,29,42,22}", r.X, r.Y, r.Width, r.Height)
	}
	if r.Pixels == nil || r.Pixels.Bounds().Dx() != 42 || r.Pixels.Bounds().Dy() != 22 {
		t.Fatalf("unexpected pixel payload bounds %v", r.Pixels.Bounds())
	}
	if got := r.Pixels.RGBAAt(5, 5); got.R != 0 {
		t.Errorf("payload pixel inside block = %v, want black", got)
	}
}

func TestEdgeDetectorFiltersGeometry(t *testing.T) {
	tests := []struct {
		name  string
		block image.Rectangle
	}{
		{"speck below min area", image.Rect(50, 50, 52, 52)},
		{"thin vertical rule", image.Rect(50, 20, 52, 120)},
		{"thin horizontal rule", image.Rect(20, 50, 180, 52)},
	}

	d := NewEdgeDetector(DefaultEdgeDetectorConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := whiteImage(200, 200)
			fillRect(img, tt.block, color.Black)
			if regions := d.Detect(img); len(regions) != 0 {
				t.Errorf("expected no regions, got %+v", regions[0])
			}
		})
	}
}

func TestEdgeDetectorIgnoresFlatImage(t *testing.T) {
	if regions := NewEdgeDetector(DefaultEdgeDetectorConfig()).Detect(whiteImage(64, 64)); len(regions) != 0 {
		t.Errorf("flat image produced %d regions", len(regions))
	}
}

func TestEdgeDetectorSeparatesBlocks(t *testing.T) {
	img := whiteImage(200, 100)
	fillRect(img, image.Rect(10, 10, 50, 40), color.Black)
	fillRect(img, image.Rect(120, 50, 170, 80), color.Black)

	regions := NewEdgeDetector(DefaultEdgeDetectorConfig()).Detect(img)
	if len(regions) != 2 {
		t.Fatalf("len(regions) = %d, want 2", len(regions))
	}
}

func TestDetectBytesDecodeError(t *testing.T) {
	_, err := NewEdgeDetector(DefaultEdgeDetectorConfig()).DetectBytes("job-x", []byte("not an image"))
	if !errors.HasCode(err, errors.ErrorDecodeFailed) {
		t.Fatalf("expected DECODE_FAILED, got %v", err)
	}
}

func TestLabelComponentsFourConnectivity(t *testing.T) {
	// Two diagonal pixels are separate under 4-connectivity.
	w, h := 3, 3
	mask := make([]bool, w*h)
	mask[0] = true       // (0,0)
	mask[1*w+1] = true   // (1,1)
	mask[1*w+2] = true   // (2,1)

	comps := labelComponents(mask, w, h)
	if len(comps) != 2 {
		t.Fatalf("len(comps) = %d, want 2", len(comps))
	}
	if comps[1].minX != 1 || comps[1].maxX != 2 {
		t.Errorf("second component = %+v", comps[1])
	}
}

package processor

import (
	"bytes"
	"image"
	"image/draw"
	"math"

	"github.com/adverant/nexus/mangatrans-worker/internal/errors"
)

// EdgeDetectorConfig holds the edge-map and component filter thresholds.
type EdgeDetectorConfig struct {
	// EdgeThreshold is the Sobel magnitude (0-255 luminance scale) above
	// which a pixel is an edge.
	EdgeThreshold float64
	MinArea       int
	MaxArea       int
	MinAspect     float64
	MaxAspect     float64
}

// DefaultEdgeDetectorConfig returns the thresholds tuned for manga pages.
func DefaultEdgeDetectorConfig() EdgeDetectorConfig {
	return EdgeDetectorConfig{
		EdgeThreshold: 50,
		MinArea:       100,
		MaxArea:       100000,
		MinAspect:     0.1,
		MaxAspect:     10,
	}
}

// EdgeDetector finds candidate text regions directly from pixels: a Sobel
// edge map, 4-connected component labeling and a size/aspect filter.
type EdgeDetector struct {
	config EdgeDetectorConfig
}

// NewEdgeDetector creates a detector with the given thresholds.
func NewEdgeDetector(cfg EdgeDetectorConfig) *EdgeDetector {
	return &EdgeDetector{config: cfg}
}

// DetectBytes decodes data and runs Detect. Undecodable input fails with a
// DECODE_FAILED error.
func (d *EdgeDetector) DetectBytes(jobID string, data []byte) ([]PixelRegion, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewDecodeError(jobID, err)
	}
	return d.Detect(img), nil
}

// Detect returns the regions of img that pass the geometry filter.
func (d *EdgeDetector) Detect(img image.Image) []PixelRegion {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return nil
	}

	lum := luminance(img)
	mask := sobelEdges(lum, w, h, d.config.EdgeThreshold)

	var regions []PixelRegion
	for _, c := range labelComponents(mask, w, h) {
		cw := c.maxX - c.minX + 1
		ch := c.maxY - c.minY + 1
		if !d.accept(cw, ch) {
			continue
		}
		regions = append(regions, PixelRegion{
			X:      c.minX,
			Y:      c.minY,
			Width:  cw,
			Height: ch,
			Pixels: crop(img, image.Rect(c.minX, c.minY, c.minX+cw, c.minY+ch)),
		})
	}
	return regions
}

func (d *EdgeDetector) accept(w, h int) bool {
	area := w * h
	if area < d.config.MinArea || area > d.config.MaxArea {
		return false
	}
	aspect := float64(w) / float64(h)
	return aspect >= d.config.MinAspect && aspect <= d.config.MaxAspect
}

// luminance converts img to a row-major Y plane on a 0-255 scale.
func luminance(img image.Image) []float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum[y*w+x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(bl>>8)
		}
	}
	return lum
}

// sobelEdges computes the 3x3 Sobel gradient magnitude and thresholds it.
// Border pixels are never edges.
func sobelEdges(lum []float64, w, h int, threshold float64) []bool {
	mask := make([]bool, w*h)
	at := func(x, y int) float64 { return lum[y*w+x] }

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -at(x-1, y-1) + at(x+1, y-1) +
				-2*at(x-1, y) + 2*at(x+1, y) +
				-at(x-1, y+1) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			if math.Sqrt(gx*gx+gy*gy) > threshold {
				mask[y*w+x] = true
			}
		}
	}
	return mask
}

type component struct {
	minX, minY, maxX, maxY int
}

// labelComponents finds 4-connected components of set pixels with an
// explicit stack so large regions cannot overflow the goroutine stack.
func labelComponents(mask []bool, w, h int) []component {
	visited := make([]bool, len(mask))
	var comps []component
	var stack []int

	for start, on := range mask {
		if !on || visited[start] {
			continue
		}

		c := component{minX: w, minY: h, maxX: -1, maxY: -1}
		visited[start] = true
		stack = append(stack[:0], start)

		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%w, idx/w
			c.minX = min(c.minX, x)
			c.maxX = max(c.maxX, x)
			c.minY = min(c.minY, y)
			c.maxY = max(c.maxY, y)

			push := func(nx, ny int) {
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					return
				}
				n := ny*w + nx
				if mask[n] && !visited[n] {
					visited[n] = true
					stack = append(stack, n)
				}
			}
			push(x+1, y)
			push(x-1, y)
			push(x, y+1)
			push(x, y-1)
		}

		comps = append(comps, c)
	}
	return comps
}

// crop copies r (relative to img's origin) into a fresh RGBA image.
func crop(img image.Image, r image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min.Add(r.Min), draw.Src)
	return dst
}

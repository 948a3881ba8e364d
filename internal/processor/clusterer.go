package processor

import (
	"math"
	"sort"
	"strings"
)

// ClusterConfig holds the height-relative thresholds used to group
// recognizer tokens into lines and segments.
type ClusterConfig struct {
	// SameRowTolerance is the top-edge difference (px) under which two
	// tokens sort left-to-right instead of top-to-bottom.
	SameRowTolerance float64
	// LineDistanceRatio and LineHeightRatio are fractions of the line's
	// running max height.
	LineDistanceRatio float64
	LineHeightRatio   float64
	// SegmentGapRatio and SegmentOverlapRatio are fractions of the
	// preceding token's height.
	SegmentGapRatio     float64
	SegmentOverlapRatio float64
	// OutputBandTolerance orders the resulting boxes row by row.
	OutputBandTolerance float64
}

// DefaultClusterConfig returns the thresholds used for manga speech bubbles.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{
		SameRowTolerance:    10,
		LineDistanceRatio:   0.5,
		LineHeightRatio:     0.5,
		SegmentGapRatio:     0.5,
		SegmentOverlapRatio: 0.3,
		OutputBandTolerance: 20,
	}
}

// WordClusterer groups word tokens into lines, then splits each line into
// horizontally contiguous segments. Each segment becomes one TextBox.
type WordClusterer struct {
	config ClusterConfig
}

// NewWordClusterer creates a clusterer with the given thresholds.
func NewWordClusterer(cfg ClusterConfig) *WordClusterer {
	return &WordClusterer{config: cfg}
}

// Cluster turns tokens into text boxes. Whitespace-only tokens are
// dropped; no tokens yields no boxes.
func (c *WordClusterer) Cluster(tokens []WordToken) []TextBox {
	words := make([]WordToken, 0, len(tokens))
	for _, t := range tokens {
		if strings.TrimSpace(t.Text) != "" {
			words = append(words, t)
		}
	}
	if len(words) == 0 {
		return nil
	}

	tol := c.config.SameRowTolerance
	sort.SliceStable(words, func(i, j int) bool {
		if math.Abs(words[i].Top-words[j].Top) < tol {
			return words[i].Left < words[j].Left
		}
		return words[i].Top < words[j].Top
	})

	var boxes []TextBox
	for _, line := range c.groupLines(words) {
		for _, seg := range c.splitSegments(line) {
			boxes = append(boxes, segmentBox(seg))
		}
	}

	band := c.config.OutputBandTolerance
	sort.SliceStable(boxes, func(i, j int) bool {
		if math.Abs(boxes[i].BBox.Y0-boxes[j].BBox.Y0) < band {
			return boxes[i].BBox.X0 < boxes[j].BBox.X0
		}
		return boxes[i].BBox.Y0 < boxes[j].BBox.Y0
	})
	return boxes
}

// groupLines walks sorted tokens and starts a new line whenever a token is
// too far from, or too different in height to, the line's last token.
func (c *WordClusterer) groupLines(words []WordToken) []TextLine {
	var lines []TextLine
	current := TextLine{
		Words:     []WordToken{words[0]},
		MinTop:    words[0].Top,
		MaxHeight: words[0].Height,
	}

	for _, w := range words[1:] {
		last := current.Words[len(current.Words)-1]
		distance := math.Abs(w.Top - last.Top)
		heightDiff := math.Abs(w.Height - last.Height)

		if distance < current.MaxHeight*c.config.LineDistanceRatio &&
			heightDiff < current.MaxHeight*c.config.LineHeightRatio {
			current.Words = append(current.Words, w)
			current.MinTop = math.Min(current.MinTop, w.Top)
			current.MaxHeight = math.Max(current.MaxHeight, w.Height)
			continue
		}

		lines = append(lines, current)
		current = TextLine{Words: []WordToken{w}, MinTop: w.Top, MaxHeight: w.Height}
	}
	return append(lines, current)
}

// splitSegments orders a line left to right and cuts it wherever the gap
// or vertical misalignment between neighbours is too large.
func (c *WordClusterer) splitSegments(line TextLine) [][]WordToken {
	words := make([]WordToken, len(line.Words))
	copy(words, line.Words)
	sort.SliceStable(words, func(i, j int) bool { return words[i].Left < words[j].Left })

	var segments [][]WordToken
	current := []WordToken{words[0]}

	for _, w := range words[1:] {
		last := current[len(current)-1]
		gap := w.Left - last.Right()
		overlap := math.Min(math.Abs(w.Top-last.Top), math.Abs(w.Bottom()-last.Bottom()))

		if gap < last.Height*c.config.SegmentGapRatio && overlap < last.Height*c.config.SegmentOverlapRatio {
			current = append(current, w)
			continue
		}
		segments = append(segments, current)
		current = []WordToken{w}
	}
	return append(segments, current)
}

func segmentBox(seg []WordToken) TextBox {
	var text strings.Builder
	var confSum float64
	bbox := NewRect(seg[0].Left, seg[0].Top, seg[0].Right(), seg[0].Bottom())

	for _, w := range seg {
		text.WriteString(w.Text)
		confSum += w.Confidence
		bbox = bbox.Union(NewRect(w.Left, w.Top, w.Right(), w.Bottom()))
	}

	conf := confSum / float64(len(seg))
	return TextBox{
		Text:       strings.TrimSpace(text.String()),
		BBox:       bbox,
		Confidence: &conf,
	}
}

package processor

import (
	"math"
	"sort"
)

// ReadingOrderConfig controls band grouping.
type ReadingOrderConfig struct {
	// BandTolerance is the max top-edge distance (px) between a box and
	// any member of a band for the box to join that band.
	BandTolerance float64
}

// DefaultReadingOrderConfig returns the 20px banding used for manga panels.
func DefaultReadingOrderConfig() ReadingOrderConfig {
	return ReadingOrderConfig{BandTolerance: 20}
}

// ReadingOrderAssembler orders text boxes top-to-bottom by band and
// left-to-right within a band.
type ReadingOrderAssembler struct {
	config ReadingOrderConfig
}

// NewReadingOrderAssembler creates an assembler with the given config.
func NewReadingOrderAssembler(cfg ReadingOrderConfig) *ReadingOrderAssembler {
	return &ReadingOrderAssembler{config: cfg}
}

// Order returns boxes in reading order. Banding is first-fit over the
// boxes visited by (Y0, X0), so the bands do not depend on input order and
// Order(Order(b)) == Order(b). Bands whose tops chain within the tolerance
// merge. The result contains every input box exactly once.
func (a *ReadingOrderAssembler) Order(boxes []TextBox) []TextBox {
	visit := make([]TextBox, len(boxes))
	copy(visit, boxes)
	sort.SliceStable(visit, func(i, j int) bool {
		if visit[i].BBox.Y0 != visit[j].BBox.Y0 {
			return visit[i].BBox.Y0 < visit[j].BBox.Y0
		}
		return visit[i].BBox.X0 < visit[j].BBox.X0
	})

	var bands [][]TextBox
	for _, box := range visit {
		placed := false
		for i := range bands {
			if a.fits(bands[i], box) {
				bands[i] = append(bands[i], box)
				sortByLeft(bands[i])
				placed = true
				break
			}
		}
		if !placed {
			bands = append(bands, []TextBox{box})
		}
	}

	sort.SliceStable(bands, func(i, j int) bool {
		return bands[i][0].BBox.Y0 < bands[j][0].BBox.Y0
	})

	ordered := make([]TextBox, 0, len(boxes))
	for _, band := range bands {
		ordered = append(ordered, band...)
	}
	return ordered
}

func (a *ReadingOrderAssembler) fits(band []TextBox, box TextBox) bool {
	for _, member := range band {
		if math.Abs(member.BBox.Y0-box.BBox.Y0) < a.config.BandTolerance {
			return true
		}
	}
	return false
}

func sortByLeft(band []TextBox) {
	sort.SliceStable(band, func(i, j int) bool {
		return band[i].BBox.X0 < band[j].BBox.X0
	})
}

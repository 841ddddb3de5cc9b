package export

import (
	"errors"
	"math"
)

// A4 portrait in millimetres.
const (
	PageWidthMM  = 210.0
	PageHeightMM = 297.0
)

// Plan places one image of ScaledHeight mm on consecutive pages. Offsets holds the
// vertical position of the image on each page.
type Plan struct {
	ImageWidth   int
	ImageHeight  int
	ScaledHeight float64
	Offsets      []float64
}

// Pages returns the page count.
func (p Plan) Pages() int {
	return len(p.Offsets)
}

// PlanPages scales a width x height raster to the page width and tiles it downwards.
// Page n (0-based) shows the image at offset -(n * PageHeightMM).
func PlanPages(width, height int) (Plan, error) {
	if width <= 0 || height <= 0 {
		return Plan{}, errors.New("export: empty raster")
	}
	scaled := float64(height) * PageWidthMM / float64(width)
	plan := Plan{ImageWidth: width, ImageHeight: height, ScaledHeight: scaled}

	remaining := scaled
	for n := 0; ; n++ {
		plan.Offsets = append(plan.Offsets, -float64(n)*PageHeightMM)
		remaining -= PageHeightMM
		if remaining <= 0 {
			break
		}
	}
	return plan, nil
}

// ExpectedPages is ceil(scaledHeight / PageHeightMM), at least one.
func ExpectedPages(scaledHeight float64) int {
	return max(1, int(math.Ceil(scaledHeight/PageHeightMM)))
}

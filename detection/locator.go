package detection

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Locator reduces a binary mask to a single pointer position
type Locator struct {
	MinArea float64 // Blobs smaller than this are ignored
}

// NewLocator creates a locator that accepts any non-empty blob
func NewLocator() *Locator {
	return &Locator{}
}

// Locate returns the centroid of the largest blob in mask.
// Equal areas resolve to the first contour found, so results are deterministic.
func (l *Locator) Locate(mask gocv.Mat) (image.Point, bool) {
	if mask.Empty() || gocv.CountNonZero(mask) == 0 {
		return image.Point{}, false
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	largest := -1
	largestArea := -1.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > largestArea {
			largest = i
			largestArea = area
		}
	}

	if largest < 0 {
		return centroid(mask)
	}
	if largestArea < l.MinArea {
		return image.Point{}, false
	}

	// Filled outline of the chosen blob, so other blobs do not pull the centroid
	blob := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), mask.Rows(), mask.Cols(), gocv.MatTypeCV8UC1)
	defer blob.Close()
	gocv.DrawContours(&blob, contours, largest, color.RGBA{255, 255, 255, 255}, -1)
	if p, ok := centroid(blob); ok {
		return p, true
	}

	// Degenerate blob: use its box centre
	rect := gocv.BoundingRect(contours.At(largest))
	return image.Pt(rect.Min.X+rect.Dx()/2, rect.Min.Y+rect.Dy()/2), true
}

func centroid(mask gocv.Mat) (image.Point, bool) {
	m := gocv.Moments(mask, true)
	m00 := m["m00"]
	if m00 <= 0 {
		return image.Point{}, false
	}
	return image.Pt(int(m["m10"]/m00+0.5), int(m["m01"]/m00+0.5)), true
}

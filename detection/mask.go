package detection

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Telmate/kms-pointerdetectix/calibration"
)

const (
	DefaultCloseKernel = 21 // Merges nearby fragments of the pointer into one blob
	DefaultOpenKernel  = 11 // Strips speckles smaller than the pointer
)

var ErrInvalidFrame = errors.New("frame is not a 3-channel 8-bit image")

// MaskBuilder turns a BGR frame into a denoised binary mask of the tracked colour.
// Kernels are allocated once; Close releases them.
type MaskBuilder struct {
	ValueMin int // Brightness gating; the default 0..255 disables it
	ValueMax int

	closeKernel gocv.Mat
	openKernel  gocv.Mat
}

// NewMaskBuilder creates a builder with elliptical close/open kernels of the given sizes
func NewMaskBuilder(closeSize, openSize int) *MaskBuilder {
	if closeSize <= 0 {
		closeSize = DefaultCloseKernel
	}
	if openSize <= 0 {
		openSize = DefaultOpenKernel
	}
	return &MaskBuilder{
		ValueMin:    0,
		ValueMax:    calibration.ValueMax,
		closeKernel: gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(closeSize, closeSize)),
		openKernel:  gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(openSize, openSize)),
	}
}

// Build writes the HSV conversion of frame into hsv and the denoised colour mask into mask.
// An uncalibrated range always yields an all-zero mask.
func (mb *MaskBuilder) Build(frame gocv.Mat, rng calibration.Range, hsv, mask *gocv.Mat) error {
	if frame.Empty() || frame.Type() != gocv.MatTypeCV8UC3 {
		return ErrInvalidFrame
	}

	gocv.CvtColor(frame, hsv, gocv.ColorBGRToHSV)

	if rng.IsZero() {
		zeroMask(mask, frame.Rows(), frame.Cols())
		return nil
	}

	lower := gocv.NewScalar(float64(rng.HueMin), float64(rng.SatMin), float64(mb.ValueMin), 0)
	upper := gocv.NewScalar(float64(rng.HueMax), float64(rng.SatMax), float64(mb.ValueMax), 0)
	gocv.InRangeWithScalar(*hsv, lower, upper, mask)

	// Close before open: opening first would erode the fragmented pointer away
	gocv.MorphologyEx(*mask, mask, gocv.MorphClose, mb.closeKernel)
	gocv.MorphologyEx(*mask, mask, gocv.MorphOpen, mb.openKernel)

	return nil
}

// Close releases the structuring elements
func (mb *MaskBuilder) Close() error {
	if err := mb.closeKernel.Close(); err != nil {
		return err
	}
	return mb.openKernel.Close()
}

func zeroMask(mask *gocv.Mat, rows, cols int) {
	if mask.Empty() || mask.Rows() != rows || mask.Cols() != cols || mask.Type() != gocv.MatTypeCV8UC1 {
		mask.Close()
		*mask = gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	}
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))
}

package calibration

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Channel domains in OpenCV's 8-bit HSV convention
const (
	HueMax        = 180
	SaturationMax = 255
	ValueMax      = 255
)

const (
	DefaultThreshold = 20 // Minimum pixels per histogram bin to accept a value
	DefaultMargin    = 5  // Widening applied on both sides of the accepted band
)

var (
	ErrInvalidFrame      = errors.New("frame is not a 3-channel 8-bit image")
	ErrEmptyRegion       = errors.New("calibration region has no area")
	ErrRegionOutOfBounds = errors.New("calibration region lies outside the frame")
)

// Global debug function for calibration package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, objectID ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, objectID...)
	}
}

// Range is the accepted hue/saturation band of the tracked colour.
// The zero value is the uncalibrated range and matches nothing.
type Range struct {
	HueMin int `json:"hue_min"`
	HueMax int `json:"hue_max"`
	SatMin int `json:"sat_min"`
	SatMax int `json:"sat_max"`
}

// IsZero reports whether r is the uncalibrated range
func (r Range) IsZero() bool {
	return r == Range{}
}

// Valid reports whether every bound lies in its channel domain with min <= max
func (r Range) Valid() bool {
	return r.HueMin >= 0 && r.HueMin <= r.HueMax && r.HueMax <= HueMax &&
		r.SatMin >= 0 && r.SatMin <= r.SatMax && r.SatMax <= SaturationMax
}

func (r Range) String() string {
	return fmt.Sprintf("H[%d-%d] S[%d-%d]", r.HueMin, r.HueMax, r.SatMin, r.SatMax)
}

// NewRegion builds a region from the x, y, width, height form used in configuration
func NewRegion(x, y, width, height int) image.Rectangle {
	return image.Rect(x, y, x+width, y+height)
}

// Calibrator derives a Range from the colour statistics of a sampled region
type Calibrator struct {
	Threshold int
	Margin    int
}

// NewCalibrator returns a calibrator with the default threshold and margin
func NewCalibrator() *Calibrator {
	return &Calibrator{
		Threshold: DefaultThreshold,
		Margin:    DefaultMargin,
	}
}

// Calibrate converts the region of a BGR frame to HSV and derives a new range.
// On error prev is returned unchanged.
func (c *Calibrator) Calibrate(frame gocv.Mat, region image.Rectangle, prev Range) (Range, error) {
	if frame.Empty() || frame.Type() != gocv.MatTypeCV8UC3 {
		return prev, ErrInvalidFrame
	}
	if err := checkRegion(frame, region); err != nil {
		return prev, err
	}

	roi := frame.Region(region)
	defer roi.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV)

	return c.fromHSV(hsv, prev), nil
}

// CalibrateHSV derives a new range from a region of an image that is already HSV
func (c *Calibrator) CalibrateHSV(hsv gocv.Mat, region image.Rectangle, prev Range) (Range, error) {
	if hsv.Empty() || hsv.Type() != gocv.MatTypeCV8UC3 {
		return prev, ErrInvalidFrame
	}
	if err := checkRegion(hsv, region); err != nil {
		return prev, err
	}

	roi := hsv.Region(region)
	defer roi.Close()

	// Region views are not continuous, ToBytes needs a packed copy
	packed := roi.Clone()
	defer packed.Close()

	return c.fromHSV(packed, prev), nil
}

func (c *Calibrator) fromHSV(hsv gocv.Mat, prev Range) Range {
	hueHist, satHist := Histograms(hsv.ToBytes(), hsv.Channels())
	next := RangeFromHistograms(hueHist, satHist, c.Threshold, c.Margin, prev)
	debugMsg("CALIBRATION", fmt.Sprintf("Calibrated %dx%d region: %s -> %s", hsv.Cols(), hsv.Rows(), prev, next))
	return next
}

// Histograms counts hue and saturation occurrences in packed HSV pixel data
func Histograms(pix []byte, channels int) (hue, sat []int) {
	hue = make([]int, HueMax+1)
	sat = make([]int, SaturationMax+1)
	if channels < 2 {
		return hue, sat
	}
	for i := 0; i+1 < len(pix); i += channels {
		h := int(pix[i])
		if h > HueMax {
			h = HueMax
		}
		hue[h]++
		sat[pix[i+1]]++
	}
	return hue, sat
}

// RangeFromHistograms applies the threshold crossing rule to both histograms.
// A channel whose histogram never reaches threshold keeps the bounds from prev.
func RangeFromHistograms(hue, sat []int, threshold, margin int, prev Range) Range {
	next := prev

	if lo, hi, ok := band(hue, threshold); ok {
		next.HueMin = clamp(lo-margin, 0, HueMax)
		next.HueMax = clamp(hi+margin, 0, HueMax)
	} else {
		debugMsg("CALIBRATION", fmt.Sprintf("No hue bin reached %d samples, keeping H[%d-%d]", threshold, prev.HueMin, prev.HueMax))
	}

	if lo, hi, ok := band(sat, threshold); ok {
		next.SatMin = clamp(lo-margin, 0, SaturationMax)
		next.SatMax = clamp(hi+margin, 0, SaturationMax)
	} else {
		debugMsg("CALIBRATION", fmt.Sprintf("No saturation bin reached %d samples, keeping S[%d-%d]", threshold, prev.SatMin, prev.SatMax))
	}

	return next
}

// band returns the first bins from each end whose count meets threshold
func band(hist []int, threshold int) (lo, hi int, ok bool) {
	lo = -1
	for i := 0; i < len(hist); i++ {
		if hist[i] >= threshold {
			lo = i
			break
		}
	}
	if lo < 0 {
		return 0, 0, false
	}
	for i := len(hist) - 1; i >= lo; i-- {
		if hist[i] >= threshold {
			hi = i
			break
		}
	}
	return lo, hi, true
}

func checkRegion(img gocv.Mat, region image.Rectangle) error {
	if region.Empty() {
		return ErrEmptyRegion
	}
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	if !region.In(bounds) {
		return errors.Wrapf(ErrRegionOutOfBounds, "region %v, frame %dx%d", region, img.Cols(), img.Rows())
	}
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

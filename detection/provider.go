package detection

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/Telmate/kms-pointerdetectix/calibration"
)

// DetectionResult represents the pointer found in one frame
type DetectionResult struct {
	Position image.Point // Position handed to zone tracking (smoothed when enabled)
	Raw      image.Point // Centroid straight from the mask
	Found    bool
	Elapsed  time.Duration
}

// Global debug function for detection package
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

// Options configures a Detector
type Options struct {
	CloseKernel int
	OpenKernel  int
	ValueMin    int
	ValueMax    int
	MinArea     float64
	Smooth      bool
	FPS         float64
}

// Detector runs mask building and localisation over frames, reusing its buffers.
// Not safe for concurrent use.
type Detector struct {
	masks    *MaskBuilder
	locator  *Locator
	smoother *Smoother

	hsv  gocv.Mat
	mask gocv.Mat
}

// NewDetector creates a detector from options
func NewDetector(opts Options) *Detector {
	mb := NewMaskBuilder(opts.CloseKernel, opts.OpenKernel)
	if opts.ValueMax > 0 {
		mb.ValueMin = opts.ValueMin
		mb.ValueMax = opts.ValueMax
	}
	d := &Detector{
		masks:   mb,
		locator: &Locator{MinArea: opts.MinArea},
		hsv:     gocv.NewMat(),
		mask:    gocv.NewMat(),
	}
	if opts.Smooth {
		d.smoother = NewSmoother(opts.FPS)
		debugMsg("DETECTION", fmt.Sprintf("Pointer smoothing enabled (%.0f fps)", opts.FPS))
	}
	return d
}

// Detect locates the pointer of colour rng in frame
func (d *Detector) Detect(frame gocv.Mat, rng calibration.Range) (*DetectionResult, error) {
	start := time.Now()
	if err := d.masks.Build(frame, rng, &d.hsv, &d.mask); err != nil {
		return nil, err
	}

	raw, found := d.locator.Locate(d.mask)
	res := &DetectionResult{Position: raw, Raw: raw, Found: found}

	if d.smoother != nil {
		pos, ok, err := d.smoother.Update(raw, found)
		if err != nil {
			debugMsg("DETECTION", fmt.Sprintf("Smoother reset: %v", err))
		}
		res.Position, res.Found = pos, ok
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

// HSV returns the HSV image of the last frame passed to Detect.
// It stays owned by the detector and is overwritten by the next Detect call.
func (d *Detector) HSV() gocv.Mat {
	return d.hsv
}

// Mask returns the denoised mask of the last frame passed to Detect
func (d *Detector) Mask() gocv.Mat {
	return d.mask
}

// Close releases the detector's buffers
func (d *Detector) Close() error {
	d.hsv.Close()
	d.mask.Close()
	return d.masks.Close()
}

package detection

import (
	"image"
	"math"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// Smoother damps frame-to-frame jitter of the located pointer with a 2D Kalman filter.
// It restarts from the raw measurement whenever the pointer is lost.
type Smoother struct {
	dt      float64
	stdDevA float64
	stdDevM float64
	kf      *kalman_filter.Kalman2D
}

// NewSmoother creates a smoother for a stream running at fps frames per second
func NewSmoother(fps float64) *Smoother {
	if fps <= 0 {
		fps = 30
	}
	return &Smoother{
		dt:      1.0 / fps,
		stdDevA: 2.0,
		stdDevM: 0.1,
	}
}

// Update feeds one localisation result and returns the position to use for this frame
func (s *Smoother) Update(p image.Point, ok bool) (image.Point, bool, error) {
	if !ok {
		s.Reset()
		return p, false, nil
	}
	x, y := float64(p.X), float64(p.Y)
	if s.kf == nil {
		s.kf = kalman_filter.NewKalman2D(s.dt, 1.0, 1.0, s.stdDevA, s.stdDevM, s.stdDevM, kalman_filter.WithState2D(x, y))
		return p, true, nil
	}

	s.kf.Predict()
	if err := s.kf.Update(x, y); err != nil {
		s.Reset()
		return p, true, errors.Wrap(err, "can't update pointer smoother")
	}
	sx, sy := s.kf.GetState()
	return image.Pt(int(math.Round(sx)), int(math.Round(sy))), true, nil
}

// Reset drops the filter state
func (s *Smoother) Reset() {
	s.kf = nil
}

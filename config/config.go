package config

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"github.com/Telmate/kms-pointerdetectix/calibration"
	"github.com/Telmate/kms-pointerdetectix/detection"
	"github.com/Telmate/kms-pointerdetectix/filter"
	"github.com/Telmate/kms-pointerdetectix/tracking"
)

// Region is a rectangle in the x, y, width, height form
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the region as a rectangle
func (r Region) Rect() image.Rectangle {
	return calibration.NewRegion(r.X, r.Y, r.Width, r.Height)
}

// Config holds runtime configuration for one filter instance.
// Fields may be loaded from a JSON file and overridden by command-line flags.
type Config struct {
	ShowDebug         bool `json:"show_debug_region"`
	ShowZones         bool `json:"show_windows_layout"`
	EmitNotifications bool `json:"message"`

	CalibrationArea Region              `json:"calibration_area"`
	Range           *calibration.Range  `json:"range,omitempty"` // Skips calibration when set
	Zones           []tracking.ZoneSpec `json:"windows_layout"`

	// Detection parameters
	Threshold   int     `json:"threshold"`
	Margin      int     `json:"margin"`
	CloseKernel int     `json:"close_kernel"`
	OpenKernel  int     `json:"open_kernel"`
	ValueMin    int     `json:"value_min"`
	ValueMax    int     `json:"value_max"`
	MinArea     float64 `json:"min_area"`
	Smooth      bool    `json:"smooth"`

	// Snapshot parameters, in the element's string form
	Wait      string `json:"wait"`
	Snap      string `json:"snap"`
	Path      string `json:"path"`
	Silent    bool   `json:"silent"`
	IconCache string `json:"icon_cache,omitempty"`
}

// DefaultConfig returns a Config populated with standard defaults.
func DefaultConfig() *Config {
	return &Config{
		ShowDebug:         false,
		ShowZones:         true,
		EmitNotifications: true,
		Threshold:         calibration.DefaultThreshold,
		Margin:            calibration.DefaultMargin,
		CloseKernel:       detection.DefaultCloseKernel,
		OpenKernel:        detection.DefaultOpenKernel,
		ValueMin:          0,
		ValueMax:          calibration.ValueMax,
		Wait:              "2000",
		Snap:              "0,0,0",
		Path:              "auto",
		Silent:            true,
	}
}

// Validate clamps/normalizes values to safe ranges and rejects zones that cannot be built.
func (c *Config) Validate() error {
	if c.Threshold <= 0 {
		c.Threshold = calibration.DefaultThreshold
	}
	if c.Margin < 0 {
		c.Margin = calibration.DefaultMargin
	}
	if c.CloseKernel <= 0 {
		c.CloseKernel = detection.DefaultCloseKernel
	}
	if c.OpenKernel <= 0 {
		c.OpenKernel = detection.DefaultOpenKernel
	}
	if c.ValueMin < 0 {
		c.ValueMin = 0
	}
	if c.ValueMax <= c.ValueMin || c.ValueMax > calibration.ValueMax {
		c.ValueMax = calibration.ValueMax
	}
	if c.MinArea < 0 {
		c.MinArea = 0
	}
	if c.Wait == "" {
		c.Wait = "2000"
	}
	if c.Snap == "" {
		c.Snap = "0,0,0"
	}
	if c.Path == "" {
		c.Path = "auto"
	}

	if c.Range != nil && !c.Range.Valid() {
		return errors.Errorf("range %s is outside the HSV domain", c.Range)
	}
	for _, z := range c.Zones {
		if err := tracking.ValidateSpec(z); err != nil {
			return errors.Wrap(err, "windows_layout")
		}
	}
	return nil
}

// Load attempts to read configuration from the given JSON file path. If the file does not
// exist it returns DefaultConfig(). On JSON error it returns defaults with the error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrapf(err, "can't open %s", path)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return DefaultConfig(), errors.Wrapf(err, "can't decode %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to the given path in JSON format.
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "can't create %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// DetectionOptions maps the detection fields onto detection.Options
func (c *Config) DetectionOptions(fps float64) detection.Options {
	return detection.Options{
		CloseKernel: c.CloseKernel,
		OpenKernel:  c.OpenKernel,
		ValueMin:    c.ValueMin,
		ValueMax:    c.ValueMax,
		MinArea:     c.MinArea,
		Smooth:      c.Smooth,
		FPS:         fps,
	}
}

// FilterOptions builds filter options from the configuration
func (c *Config) FilterOptions(fps float64) filter.Options {
	opts := filter.DefaultOptions()
	opts.Detection = c.DetectionOptions(fps)
	margin := c.Margin
	opts.Threshold = c.Threshold
	opts.Margin = &margin
	opts.IconScratchDir = c.IconCache
	return opts
}

// Apply pushes flags, calibration, zones and parameters into f
func (c *Config) Apply(ctx context.Context, f *filter.Filter) error {
	f.SetShowDebug(c.ShowDebug)
	f.SetShowZones(c.ShowZones)
	f.SetEmitNotifications(c.EmitNotifications)

	if c.CalibrationArea != (Region{}) {
		if err := f.SetCalibrationRegion(c.CalibrationArea.Rect()); err != nil {
			return err
		}
	}
	if c.Range != nil {
		if err := f.SetRange(*c.Range); err != nil {
			return err
		}
	}
	if len(c.Zones) > 0 {
		if err := f.SetZones(ctx, c.Zones); err != nil {
			return err
		}
	}

	params := []struct{ name, value string }{
		{filter.ParamSilent, strconv.FormatBool(c.Silent)},
		{filter.ParamPath, c.Path},
		{filter.ParamWait, c.Wait},
		{filter.ParamSnap, c.Snap},
	}
	for _, p := range params {
		if err := f.SetParam(p.name, p.value); err != nil {
			return err
		}
	}
	return nil
}

package filter

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Telmate/kms-pointerdetectix/calibration"
	"github.com/Telmate/kms-pointerdetectix/detection"
	"github.com/Telmate/kms-pointerdetectix/overlay"
	"github.com/Telmate/kms-pointerdetectix/snapshot"
	"github.com/Telmate/kms-pointerdetectix/tracking"
)

var (
	ErrNoFrame       = errors.New("no frame has been processed yet")
	ErrInvalidRegion = errors.New("calibration region must have a non-negative origin and positive size")
	ErrInvalidRange  = errors.New("colour range is outside the HSV domain")
	ErrZoneNotFound  = errors.New("zone not found")
)

// Global debug function for filter package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, zoneID ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, zoneID...)
	}
}

// Options configures a Filter
type Options struct {
	Detection       detection.Options
	Threshold       int  // Calibration histogram threshold, zero selects the default
	Margin          *int // Calibration widening, nil selects the default
	HistorySize     int
	SnapshotQueue   int
	SnapshotWorkers int
	IconScratchDir  string
	Fetcher         tracking.Fetcher
	Notifier        tracking.Notifier
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		Detection: detection.Options{
			CloseKernel: detection.DefaultCloseKernel,
			OpenKernel:  detection.DefaultOpenKernel,
			ValueMax:    calibration.ValueMax,
		},
		Threshold:       calibration.DefaultThreshold,
		HistorySize:     20,
		SnapshotQueue:   30,
		SnapshotWorkers: 1,
		Fetcher:         tracking.NewHTTPFetcher(10 * time.Second),
	}
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = def.HistorySize
	}
	if opts.SnapshotQueue <= 0 {
		opts.SnapshotQueue = def.SnapshotQueue
	}
	if opts.SnapshotWorkers <= 0 {
		opts.SnapshotWorkers = def.SnapshotWorkers
	}
	if opts.Fetcher == nil {
		opts.Fetcher = def.Fetcher
	}
	return opts
}

// ZoneInfo describes a registered zone without exposing its images
type ZoneInfo struct {
	ID              string
	Rect            image.Rectangle
	BlendWeight     float64
	HasInactiveIcon bool
	HasActiveIcon   bool
}

// Filter is one pointer detector instance. Frames go through ProcessFrame one at a time;
// configuration calls may arrive concurrently from other goroutines.
type Filter struct {
	mu sync.Mutex

	rng       calibration.Range
	region    image.Rectangle
	registry  *tracking.Registry
	tracker   *tracking.Tracker
	haveFrame bool // detector holds the HSV image of the last frame

	showDebug bool
	showZones bool
	emit      bool

	params  params
	lastErr string

	calibrator *calibration.Calibrator
	detector   *detection.Detector
	renderer   *overlay.Renderer
	loader     *tracking.IconLoader
	saver      *snapshot.Saver
	notifier   tracking.Notifier
	stats      *FrameStats
	history    *EventHistory
}

// New creates a filter. Zone outlines are shown and notifications emitted by default.
// Zero fields of opts take their value from DefaultOptions.
func New(opts Options) *Filter {
	opts = withDefaults(opts)
	c := calibration.NewCalibrator()
	c.Threshold = opts.Threshold
	if opts.Margin != nil && *opts.Margin >= 0 {
		c.Margin = *opts.Margin
	}

	p := defaultParams()
	f := &Filter{
		registry:   tracking.NewRegistry(),
		tracker:    tracking.NewTracker(),
		showZones:  true,
		emit:       true,
		params:     p,
		calibrator: c,
		detector:   detection.NewDetector(opts.Detection),
		renderer:   overlay.NewRenderer(),
		loader:     tracking.NewIconLoader(opts.Fetcher, opts.IconScratchDir),
		saver:      snapshot.NewSaver(p.path, opts.SnapshotQueue, opts.SnapshotWorkers),
		notifier:   opts.Notifier,
		stats:      NewFrameStats(),
		history:    NewEventHistory(opts.HistorySize),
	}
	f.saver.OnError(func(err error) {
		f.mu.Lock()
		f.noteLocked(err.Error())
		f.mu.Unlock()
	})
	return f
}

// ProcessFrame locates the pointer in frame, updates zone state and draws the overlay in place.
// It returns the transitions of this frame when notifications are enabled.
func (f *Filter) ProcessFrame(frame *gocv.Mat) ([]tracking.Event, error) {
	if frame == nil {
		return nil, detection.ErrInvalidFrame
	}
	f.mu.Lock()

	start := time.Now()
	res, err := f.detector.Detect(*frame, f.rng)
	if err != nil {
		f.noteLocked(err.Error())
		f.mu.Unlock()
		return nil, err
	}
	f.haveFrame = true

	trackStart := time.Now()
	zones := f.registry.Snapshot()
	events := f.tracker.Update(res.Position, res.Found, zones)
	for _, e := range events {
		f.history.Add(trackStart, e.String())
	}
	trackTime := time.Since(trackStart)
	f.stats.UpdateFrame(res.Found, len(events), trackStart.Sub(start), trackTime)

	// Snapshots carry the frame as received, before any drawing
	if f.saver.Offer(*frame, start) {
		f.stats.UpdateSnapshot()
	}

	if f.showZones || f.showDebug {
		drawStart := time.Now()
		f.renderer.Draw(frame, overlay.Input{
			Zones:             zones,
			State:             f.tracker.State(),
			ShowZones:         f.showZones,
			ShowDebug:         f.showDebug,
			CalibrationRegion: f.region,
			Range:             f.rng,
			Messages:          f.history.Recent(),
		})
		f.stats.UpdateDraw(time.Since(drawStart))
	}

	if !f.emit {
		events = nil
	}
	notifier := f.notifier
	f.mu.Unlock()

	if notifier != nil {
		for _, e := range events {
			notifier.Notify(e)
		}
	}
	return events, nil
}

// Calibrate derives a new colour range from the calibration region of the last processed frame
func (f *Filter) Calibrate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.haveFrame {
		return f.fail(ErrNoFrame)
	}
	next, err := f.calibrator.CalibrateHSV(f.detector.HSV(), f.region, f.rng)
	if err != nil {
		return f.fail(errors.Wrap(err, "calibration"))
	}
	f.info("CALIBRATION", fmt.Sprintf("Range %s -> %s", f.rng, next))
	f.rng = next
	return nil
}

// SetCalibrationRegion sets the area sampled by Calibrate.
// Frame bounds are checked when calibrating.
func (f *Filter) SetCalibrationRegion(r image.Rectangle) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	r = r.Canon()
	if r.Min.X < 0 || r.Min.Y < 0 || r.Empty() {
		return f.fail(errors.Wrapf(ErrInvalidRegion, "%v", r))
	}
	f.region = r
	f.info("CALIBRATION", fmt.Sprintf("Calibration region %v", r))
	return nil
}

// SetRange installs a colour range directly, bypassing calibration
func (f *Filter) SetRange(r calibration.Range) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !r.Valid() {
		return f.fail(errors.Wrapf(ErrInvalidRange, "%s", r))
	}
	f.rng = r
	return nil
}

// AddZone loads the zone's icons and registers it, replacing any zone with the same id.
// Icon loading may block and happens before the filter is locked.
func (f *Filter) AddZone(ctx context.Context, spec tracking.ZoneSpec) error {
	if err := tracking.ValidateSpec(spec); err != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.fail(err)
	}
	z, err := tracking.BuildZone(ctx, spec, f.loader)
	if err != nil {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.fail(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry.Add(z)
	f.info("ZONES", fmt.Sprintf("Zone %s at %v", z.ID, z.Rect), z.ID)
	return nil
}

// RemoveZone unregisters a zone. Unknown ids are reported but change nothing.
func (f *Filter) RemoveZone(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.registry.Len() == 0 {
		debugMsg("ZONES", "Zone layout is empty, nothing to remove", id)
	}
	if !f.registry.Remove(id) {
		return f.fail(errors.Wrap(ErrZoneNotFound, id))
	}
	f.info("ZONES", "Zone removed", id)
	return nil
}

// ClearZones unregisters every zone
func (f *Filter) ClearZones() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry.Clear()
	f.info("ZONES", "Zones cleared")
}

// SetZones replaces the whole layout. Nothing changes if any spec is invalid.
func (f *Filter) SetZones(ctx context.Context, specs []tracking.ZoneSpec) error {
	for _, s := range specs {
		if err := tracking.ValidateSpec(s); err != nil {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.fail(err)
		}
	}

	zones := make([]tracking.Zone, 0, len(specs))
	for _, s := range specs {
		z, err := tracking.BuildZone(ctx, s, f.loader)
		if err != nil {
			for _, built := range zones {
				built.InactiveIcon.Close()
				built.ActiveIcon.Close()
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.fail(err)
		}
		zones = append(zones, z)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry.Clear()
	for _, z := range zones {
		f.registry.Add(z)
	}
	f.info("ZONES", fmt.Sprintf("Layout replaced with %d zones", f.registry.Len()))
	return nil
}

// SetShowDebug toggles the calibration region, pointer marker and event list
func (f *Filter) SetShowDebug(on bool) {
	f.mu.Lock()
	f.showDebug = on
	f.mu.Unlock()
}

// SetShowZones toggles zone outlines and icons
func (f *Filter) SetShowZones(on bool) {
	f.mu.Lock()
	f.showZones = on
	f.mu.Unlock()
}

// SetEmitNotifications toggles delivery of enter and leave events.
// Zone state is tracked either way.
func (f *Filter) SetEmitNotifications(on bool) {
	f.mu.Lock()
	f.emit = on
	f.mu.Unlock()
}

// SetNotifier sets the receiver of enter and leave events
func (f *Filter) SetNotifier(n tracking.Notifier) {
	f.mu.Lock()
	f.notifier = n
	f.mu.Unlock()
}

// Range returns the current colour range
func (f *Filter) Range() calibration.Range {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng
}

// CalibrationRegion returns the area sampled by Calibrate
func (f *Filter) CalibrationRegion() image.Rectangle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.region
}

// Zones returns the registered zones in iteration order
func (f *Filter) Zones() []ZoneInfo {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := f.registry.Snapshot()
	out := make([]ZoneInfo, 0, len(snap))
	for _, z := range snap {
		out = append(out, ZoneInfo{
			ID:              z.ID,
			Rect:            z.Rect,
			BlendWeight:     z.BlendWeight,
			HasInactiveIcon: z.InactiveIcon != nil,
			HasActiveIcon:   z.ActiveIcon != nil,
		})
	}
	return out
}

// State returns the pointer state after the last frame
func (f *Filter) State() tracking.PointerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracker.State()
}

// Stats returns frame path statistics since the previous call
func (f *Filter) Stats() StatsReport {
	return f.stats.Report()
}

// History returns recent transitions, oldest first
func (f *Filter) History() []string {
	return f.history.Recent()
}

// Close stops the snapshot saver and releases every image the filter holds
func (f *Filter) Close() error {
	// The saver's error callback takes f.mu, so stop it first
	f.saver.Stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.registry.Close()
	if err := f.loader.Close(); err != nil {
		debugMsg("FILTER", fmt.Sprintf("Failed to remove icon scratch directory: %v", err))
	}
	return f.detector.Close()
}

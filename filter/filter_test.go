package filter

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/Telmate/kms-pointerdetectix/calibration"
	"github.com/Telmate/kms-pointerdetectix/tracking"
)

type recorder struct {
	mu     sync.Mutex
	events []tracking.Event
}

func (r *recorder) Notify(e tracking.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) take() []tracking.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

// frameWithSquare returns a grey frame with a 21x21 green square whose top-left corner is at p
func frameWithSquare(t *testing.T, p *image.Point) gocv.Mat {
	t.Helper()
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), 200, 200, gocv.MatTypeCV8UC3)
	if p != nil {
		roi := frame.Region(image.Rect(p.X, p.Y, p.X+21, p.Y+21))
		roi.SetTo(gocv.NewScalar(0, 255, 0, 0))
		roi.Close()
	}
	return frame
}

func process(t *testing.T, f *Filter, p *image.Point) []tracking.Event {
	t.Helper()
	frame := frameWithSquare(t, p)
	defer frame.Close()
	events, err := f.ProcessFrame(&frame)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	return events
}

func newTestFilter(t *testing.T, n tracking.Notifier) *Filter {
	t.Helper()
	opts := DefaultOptions()
	opts.Notifier = n
	opts.IconScratchDir = filepath.Join(t.TempDir(), "icons")
	return New(opts)
}

func TestCalibrateWithoutFrame(t *testing.T) {
	f := newTestFilter(t, nil)
	defer f.Close()

	if err := f.Calibrate(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("expected ErrNoFrame, got %v", err)
	}
	if !f.Range().IsZero() {
		t.Errorf("expected range to stay uncalibrated")
	}
	if f.LastError() == "" {
		t.Errorf("expected last error to be recorded")
	}
	if e := f.LastError(); e != "" {
		t.Errorf("expected last error to be cleared on read, got %q", e)
	}
}

func TestFilterEndToEnd(t *testing.T) {
	rec := &recorder{}
	f := newTestFilter(t, rec)
	defer f.Close()
	ctx := context.Background()

	at := func(x, y int) *image.Point { p := image.Pt(x, y); return &p }

	// Uncalibrated: nothing is located
	if ev := process(t, f, at(20, 20)); len(ev) != 0 {
		t.Fatalf("expected no events before calibration, got %v", ev)
	}
	if f.State().Located {
		t.Fatalf("expected pointer not located before calibration")
	}

	if err := f.SetCalibrationRegion(calibration.NewRegion(25, 25, 10, 10)); err != nil {
		t.Fatalf("SetCalibrationRegion: %v", err)
	}
	if err := f.Calibrate(); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	want := calibration.Range{HueMin: 55, HueMax: 65, SatMin: 250, SatMax: 255}
	if got := f.Range(); got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if err := f.AddZone(ctx, tracking.ZoneSpec{ID: "A", Width: 100, Height: 100}); err != nil {
		t.Fatalf("AddZone A: %v", err)
	}
	if err := f.AddZone(ctx, tracking.ZoneSpec{ID: "B", X: 100, Width: 100, Height: 100}); err != nil {
		t.Fatalf("AddZone B: %v", err)
	}

	process(t, f, at(20, 20))
	process(t, f, at(22, 20))
	if got := rec.take(); !reflect.DeepEqual(got, []tracking.Event{{Kind: tracking.EventEnter, ZoneID: "A"}}) {
		t.Fatalf("expected single enter A, got %v", got)
	}
	if st := f.State(); st.CurrentZone != "A" || st.LastPosition != image.Pt(32, 30) {
		t.Errorf("unexpected state %+v", st)
	}

	returned := process(t, f, at(140, 20))
	want2 := []tracking.Event{{Kind: tracking.EventLeave, ZoneID: "A"}, {Kind: tracking.EventEnter, ZoneID: "B"}}
	if got := rec.take(); !reflect.DeepEqual(got, want2) {
		t.Fatalf("expected %v, got %v", want2, got)
	}
	if !reflect.DeepEqual(returned, want2) {
		t.Errorf("expected returned events %v, got %v", want2, returned)
	}

	// Muted: state still follows the pointer
	f.SetEmitNotifications(false)
	if ev := process(t, f, nil); ev != nil {
		t.Errorf("expected no events while muted, got %v", ev)
	}
	if got := rec.take(); len(got) != 0 {
		t.Errorf("expected no notifications while muted, got %v", got)
	}
	if st := f.State(); st.InZone || st.Located {
		t.Errorf("expected pointer outside after losing it, got %+v", st)
	}

	if h := f.History(); len(h) != 4 || !strings.HasSuffix(h[3], "window-out B") {
		t.Errorf("unexpected history %v", h)
	}
	if r := f.Stats(); r.Frames != 5 || r.Located != 3 {
		t.Errorf("unexpected stats %+v", r)
	}
}

func TestZoneConfiguration(t *testing.T) {
	f := newTestFilter(t, nil)
	defer f.Close()
	ctx := context.Background()

	if err := f.AddZone(ctx, tracking.ZoneSpec{ID: "", Width: 10, Height: 10}); !errors.Is(err, tracking.ErrEmptyZoneID) {
		t.Errorf("expected ErrEmptyZoneID, got %v", err)
	}
	if err := f.RemoveZone("ghost"); !errors.Is(err, ErrZoneNotFound) {
		t.Errorf("expected ErrZoneNotFound, got %v", err)
	}

	layout := []tracking.ZoneSpec{
		{ID: "A", Width: 10, Height: 10},
		{ID: "B", X: 10, Width: 10, Height: 10},
	}
	if err := f.SetZones(ctx, layout); err != nil {
		t.Fatalf("SetZones: %v", err)
	}

	bad := []tracking.ZoneSpec{{ID: "C", Width: 10, Height: 10}, {ID: "D", Width: -1, Height: 10}}
	if err := f.SetZones(ctx, bad); !errors.Is(err, tracking.ErrInvalidZoneRect) {
		t.Errorf("expected ErrInvalidZoneRect, got %v", err)
	}
	zones := f.Zones()
	if len(zones) != 2 || zones[0].ID != "A" || zones[1].ID != "B" {
		t.Fatalf("expected layout unchanged after failed SetZones, got %+v", zones)
	}
	if zones[0].BlendWeight != 1.0 || zones[0].HasActiveIcon {
		t.Errorf("unexpected zone info %+v", zones[0])
	}

	if err := f.RemoveZone("A"); err != nil {
		t.Errorf("RemoveZone: %v", err)
	}
	f.ClearZones()
	if len(f.Zones()) != 0 {
		t.Errorf("expected no zones after clear")
	}
}

func TestConfigurationValidation(t *testing.T) {
	f := newTestFilter(t, nil)
	defer f.Close()

	if err := f.SetCalibrationRegion(image.Rect(-5, 0, 10, 10)); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("expected ErrInvalidRegion, got %v", err)
	}
	if err := f.SetRange(calibration.Range{HueMin: 10, HueMax: 200, SatMax: 10}); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("expected ErrInvalidRange, got %v", err)
	}
	if !f.Range().IsZero() || !f.CalibrationRegion().Empty() {
		t.Errorf("expected failed setters to leave state unchanged")
	}

	// Region past the frame is rejected at calibration time
	if err := f.SetCalibrationRegion(calibration.NewRegion(190, 190, 50, 50)); err != nil {
		t.Fatalf("SetCalibrationRegion: %v", err)
	}
	process(t, f, nil)
	if err := f.Calibrate(); !errors.Is(err, calibration.ErrRegionOutOfBounds) {
		t.Errorf("expected ErrRegionOutOfBounds, got %v", err)
	}
}

func TestParams(t *testing.T) {
	f := newTestFilter(t, nil)
	defer f.Close()

	if got := f.ParamsList(); got != "wait=2000\tsnap=0,0,0\tpath=auto\tnote=none\tsilent=true\t" {
		t.Errorf("unexpected params list %q", got)
	}

	if err := f.SetParam("wait", "500"); err != nil {
		t.Fatalf("SetParam wait: %v", err)
	}
	if v, _ := f.GetParam("wait"); v != "500" {
		t.Errorf("expected wait=500, got %s", v)
	}

	tests := []struct {
		name, value string
		want        error
	}{
		{"wait", "soon", ErrInvalidParam},
		{"snap", "1,2", ErrInvalidParam},
		{"silent", "maybe", ErrInvalidParam},
		{"note", "hello", ErrReadOnlyParam},
		{"link", "x", ErrUnknownParam},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.SetParam(tt.name, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			if f.LastError() == "" {
				t.Errorf("expected last error after failed SetParam")
			}
		})
	}

	// A bad frame leaves a note that is cleared by reading it
	bad := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8UC1)
	defer bad.Close()
	if _, err := f.ProcessFrame(&bad); err == nil {
		t.Fatalf("expected error for single channel frame")
	}
	if note, _ := f.GetParam("note"); note == "none" {
		t.Errorf("expected note to describe the bad frame")
	}
	if note, _ := f.GetParam("note"); note != "none" {
		t.Errorf("expected note to reset after read, got %q", note)
	}
}

func TestSnapshotsThroughParams(t *testing.T) {
	dir := t.TempDir()
	f := newTestFilter(t, nil)

	for name, value := range map[string]string{"path": dir, "wait": "0"} {
		if err := f.SetParam(name, value); err != nil {
			t.Fatalf("SetParam %s: %v", name, err)
		}
	}
	if err := f.SetParam("snap", "0,2,0"); err != nil {
		t.Fatalf("SetParam snap: %v", err)
	}
	for i := 0; i < 4; i++ {
		process(t, f, nil)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	n := 0
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, ".png") {
			n++
		}
		return nil
	})
	if n != 2 {
		t.Errorf("expected 2 snapshots, got %d", n)
	}
}

func TestNewFillsZeroOptions(t *testing.T) {
	dir := t.TempDir()
	f := New(Options{})
	defer f.Close()

	if f.loader.Fetcher == nil {
		t.Errorf("expected a default icon fetcher")
	}
	if f.calibrator.Threshold != calibration.DefaultThreshold || f.calibrator.Margin != calibration.DefaultMargin {
		t.Errorf("unexpected calibrator %+v", f.calibrator)
	}

	for _, p := range [][2]string{{"path", dir}, {"wait", "0"}, {"snap", "0,1,0"}} {
		if err := f.SetParam(p[0], p[1]); err != nil {
			t.Fatalf("SetParam %s: %v", p[0], err)
		}
	}
	process(t, f, nil)

	// Written by a worker while the filter is still open
	deadline := time.Now().Add(5 * time.Second)
	for f.saver.Stats().Saved == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("snapshot was not written before Close, stats %+v", f.saver.Stats())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestZeroMarginIsKept(t *testing.T) {
	zero := 0
	opts := DefaultOptions()
	opts.Margin = &zero
	f := New(opts)
	defer f.Close()

	if f.calibrator.Margin != 0 {
		t.Errorf("expected margin 0, got %d", f.calibrator.Margin)
	}
}

func TestConfigurationDuringProcessing(t *testing.T) {
	f := newTestFilter(t, nil)
	defer f.Close()
	if err := f.SetRange(calibration.Range{HueMin: 55, HueMax: 65, SatMin: 250, SatMax: 255}); err != nil {
		t.Fatalf("SetRange: %v", err)
	}

	ctx := context.Background()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			f.AddZone(ctx, tracking.ZoneSpec{ID: "A", Width: 100, Height: 100})
			f.AddZone(ctx, tracking.ZoneSpec{ID: "B", X: 100, Width: 100, Height: 100})
			if i%2 == 0 {
				f.RemoveZone("A")
			} else {
				f.ClearZones()
			}
			f.Zones()
		}
	}()

	positions := []image.Point{{10, 10}, {120, 10}, {60, 150}}
	for i := 0; i < 30; i++ {
		p := positions[i%len(positions)]
		process(t, f, &p)
		f.State()
	}
	close(done)
	wg.Wait()

	// The tracker only ever reports zones that were registered
	if s := f.State(); s.InZone && s.CurrentZone != "A" && s.CurrentZone != "B" {
		t.Errorf("unexpected state %v", s)
	}
}

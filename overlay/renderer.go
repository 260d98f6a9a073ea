package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/Telmate/kms-pointerdetectix/calibration"
	"github.com/Telmate/kms-pointerdetectix/tracking"
)

// debugMsgFunc is a function that will be set by main package to use unified logging
var debugMsgFunc func(component, message string, zoneID ...string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string, zoneID ...string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, zoneID ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, zoneID...)
	}
}

// Input is everything the renderer needs for one frame. It is read only.
type Input struct {
	Zones             []tracking.Zone
	State             tracking.PointerState
	ShowZones         bool
	ShowDebug         bool
	CalibrationRegion image.Rectangle
	Range             calibration.Range
	Messages          []string // Most recent last
}

// Renderer handles visualization and overlay rendering
type Renderer struct {
	zoneColor        color.RGBA
	activeColor      color.RGBA
	calibrationColor color.RGBA
	pointerColor     color.RGBA
	textColor        color.RGBA
	maxMessages      int
}

// NewRenderer creates a renderer with the default palette
func NewRenderer() *Renderer {
	return &Renderer{
		zoneColor:        color.RGBA{0, 255, 0, 255},   // Green outline for idle zones
		activeColor:      color.RGBA{255, 0, 0, 255},   // Red outline for the zone holding the pointer
		calibrationColor: color.RGBA{0, 150, 255, 255}, // System blue
		pointerColor:     color.RGBA{255, 255, 0, 255}, // Yellow crosshair
		textColor:        color.RGBA{255, 255, 255, 255},
		maxMessages:      5,
	}
}

// Draw renders zones, icons and debug information onto img
func (r *Renderer) Draw(img *gocv.Mat, in Input) {
	if img == nil || img.Empty() {
		return
	}
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())

	if in.ShowZones {
		for _, z := range in.Zones {
			active := in.State.InZone && in.State.CurrentZone == z.ID
			icon := z.InactiveIcon
			if active {
				icon = z.ActiveIcon
			}
			if icon != nil {
				r.blendIcon(img, bounds, z, icon)
			}
			r.drawZoneOutline(img, z, active)
		}
	}

	if in.ShowDebug {
		r.drawDebug(img, bounds, in)
	}
}

// blendIcon composites icon over the visible part of the zone at the zone's blend weight
func (r *Renderer) blendIcon(img *gocv.Mat, bounds image.Rectangle, z tracking.Zone, icon *tracking.Icon) {
	if z.BlendWeight <= 0 || icon.Mat.Empty() {
		return
	}
	if icon.Mat.Type() != img.Type() {
		debugMsg("OVERLAY", fmt.Sprintf("Skipping icon %s: type %v does not match frame type %v", icon.Source, icon.Mat.Type(), img.Type()), z.ID)
		return
	}
	visible := z.Rect.Intersect(bounds)
	if visible.Empty() {
		return
	}
	// Icon coordinates of the visible part, limited to the icon itself
	src := visible.Sub(z.Rect.Min).Intersect(image.Rect(0, 0, icon.Mat.Cols(), icon.Mat.Rows()))
	if src.Empty() {
		return
	}
	visible = src.Add(z.Rect.Min)

	iconROI := icon.Mat.Region(src)
	defer iconROI.Close()
	frameROI := img.Region(visible)
	defer frameROI.Close()

	if z.BlendWeight >= 1.0 {
		iconROI.CopyTo(&frameROI)
		return
	}
	gocv.AddWeighted(iconROI, z.BlendWeight, frameROI, 1.0-z.BlendWeight, 0, &frameROI)
}

func (r *Renderer) drawZoneOutline(img *gocv.Mat, z tracking.Zone, active bool) {
	c := r.zoneColor
	if active {
		c = r.activeColor
	}
	gocv.Rectangle(img, z.Rect, c, 2)
	gocv.PutText(img, z.ID, image.Pt(z.Rect.Min.X+4, z.Rect.Min.Y+14), gocv.FontHersheySimplex, 0.4, c, 1)
}

func (r *Renderer) drawDebug(img *gocv.Mat, bounds image.Rectangle, in Input) {
	if !in.CalibrationRegion.Empty() {
		gocv.Rectangle(img, in.CalibrationRegion.Intersect(bounds), r.calibrationColor, 1)
	}

	if in.State.Located {
		r.drawCrosshair(img, in.State.LastPosition)
	}

	status := fmt.Sprintf("%s  %s", in.Range, in.State)
	gocv.PutText(img, status, image.Pt(10, bounds.Dy()-10), gocv.FontHersheySimplex, 0.4, r.textColor, 1)

	// Recent events, oldest first, above the status line
	msgs := in.Messages
	if len(msgs) > r.maxMessages {
		msgs = msgs[len(msgs)-r.maxMessages:]
	}
	lineHeight := 14
	y := bounds.Dy() - 10 - lineHeight*len(msgs)
	for _, m := range msgs {
		gocv.PutText(img, m, image.Pt(10, y), gocv.FontHersheySimplex, 0.35, r.textColor, 1)
		y += lineHeight
	}
}

func (r *Renderer) drawCrosshair(img *gocv.Mat, center image.Point) {
	size := 8
	thickness := 2

	gocv.Line(img, image.Pt(center.X-size, center.Y), image.Pt(center.X+size, center.Y), r.pointerColor, thickness)
	gocv.Line(img, image.Pt(center.X, center.Y-size), image.Pt(center.X, center.Y+size), r.pointerColor, thickness)
	gocv.Circle(img, center, 2, r.pointerColor, -1)
}

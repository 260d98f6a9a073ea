package tracking

import (
	"fmt"
	"image"
)

// Global debug function for tracking package
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

// Zone is a named interactive rectangle with optional icons
type Zone struct {
	ID           string
	Rect         image.Rectangle
	InactiveIcon *Icon   // Shown while the pointer is elsewhere, may be nil
	ActiveIcon   *Icon   // Shown while the pointer is inside, may be nil
	BlendWeight  float64 // 1.0 is fully opaque
}

// Contains reports whether p lies inside the zone; the right and bottom edges are exclusive
func (z Zone) Contains(p image.Point) bool {
	return p.In(z.Rect)
}

// ZoneSpec is the configuration record for one zone
type ZoneSpec struct {
	ID           string   `json:"id"`
	X            int      `json:"x"`
	Y            int      `json:"y"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	InactiveIcon string   `json:"inactive_uri,omitempty"`
	ActiveIcon   string   `json:"active_uri,omitempty"`
	Transparency *float64 `json:"transparency,omitempty"`
}

// Rect returns the configured zone rectangle
func (s ZoneSpec) Rect() image.Rectangle {
	return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// PointerState is the tracker's view of the pointer after the last frame
type PointerState struct {
	CurrentZone  string
	InZone       bool
	LastPosition image.Point
	Located      bool
}

func (s PointerState) String() string {
	if !s.Located {
		return "pointer lost"
	}
	if s.InZone {
		return fmt.Sprintf("pointer at (%d,%d) in %s", s.LastPosition.X, s.LastPosition.Y, s.CurrentZone)
	}
	return fmt.Sprintf("pointer at (%d,%d)", s.LastPosition.X, s.LastPosition.Y)
}

// EventKind distinguishes zone entries from zone exits
type EventKind int

const (
	EventEnter EventKind = iota
	EventLeave
)

// String returns the bus message name for the kind
func (k EventKind) String() string {
	switch k {
	case EventEnter:
		return "window-in"
	case EventLeave:
		return "window-out"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one enter or leave transition
type Event struct {
	Kind   EventKind
	ZoneID string
}

func (e Event) String() string {
	return e.Kind.String() + " " + e.ZoneID
}

// Notifier receives zone transitions
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Event)

// Notify calls f(e)
func (f NotifierFunc) Notify(e Event) {
	f(e)
}

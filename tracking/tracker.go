package tracking

import (
	"fmt"
	"image"
)

// Tracker turns per-frame pointer positions into edge-triggered zone events.
// It holds only the current zone id, never a reference to a Zone, so zones may
// disappear from the registry between frames.
type Tracker struct {
	state PointerState
}

// NewTracker creates a tracker with the pointer outside every zone
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update advances the state machine by one frame.
// zones is the registry snapshot in iteration order; the first zone containing pos wins.
func (t *Tracker) Update(pos image.Point, located bool, zones []Zone) []Event {
	var events []Event

	t.state.Located = located
	if located {
		t.state.LastPosition = pos
	}

	match := ""
	found := false
	if located {
		for _, z := range zones {
			if z.Contains(pos) {
				match, found = z.ID, true
				break
			}
		}
	}

	switch {
	case found && t.state.InZone && t.state.CurrentZone == match:
		// Still inside
	case found:
		if t.state.InZone {
			events = append(events, Event{Kind: EventLeave, ZoneID: t.state.CurrentZone})
		}
		events = append(events, Event{Kind: EventEnter, ZoneID: match})
		t.state.CurrentZone, t.state.InZone = match, true
	case t.state.InZone:
		events = append(events, Event{Kind: EventLeave, ZoneID: t.state.CurrentZone})
		t.state.CurrentZone, t.state.InZone = "", false
	}

	for _, e := range events {
		debugMsg("TRACKER", fmt.Sprintf("%s at (%d,%d)", e, pos.X, pos.Y), e.ZoneID)
	}
	return events
}

// State returns the pointer state after the last update
func (t *Tracker) State() PointerState {
	return t.state
}

// Reset forgets the current zone without emitting anything
func (t *Tracker) Reset() {
	t.state = PointerState{}
}

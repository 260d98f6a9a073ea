package tracking

import (
	"image"
	"reflect"
	"testing"
)

func zone(id string, x, y, w, h int) Zone {
	return Zone{ID: id, Rect: image.Rect(x, y, x+w, y+h), BlendWeight: 1}
}

func TestTrackerEndToEnd(t *testing.T) {
	zones := []Zone{zone("A", 0, 0, 10, 10)}
	tracker := NewTracker()

	var got []Event
	for _, p := range []image.Point{{5, 5}, {5, 5}, {50, 50}} {
		got = append(got, tracker.Update(p, true, zones)...)
	}
	want := []Event{{EventEnter, "A"}, {EventLeave, "A"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	got = tracker.Update(image.Pt(5, 5), true, zones)
	if !reflect.DeepEqual(got, []Event{{EventEnter, "A"}}) {
		t.Errorf("expected re-entry, got %v", got)
	}
}

func TestTrackerDebounce(t *testing.T) {
	zones := []Zone{zone("A", 0, 0, 100, 100)}
	tracker := NewTracker()

	enters := 0
	for i := 0; i < 25; i++ {
		for _, e := range tracker.Update(image.Pt(10+i, 10+i), true, zones) {
			if e.Kind != EventEnter || e.ZoneID != "A" {
				t.Fatalf("unexpected event %v at frame %d", e, i)
			}
			enters++
		}
	}
	if enters != 1 {
		t.Errorf("expected exactly one enter, got %d", enters)
	}
	st := tracker.State()
	if !st.InZone || st.CurrentZone != "A" || st.LastPosition != image.Pt(34, 34) {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestTrackerLostPointer(t *testing.T) {
	zones := []Zone{zone("A", 0, 0, 10, 10)}
	tracker := NewTracker()

	if ev := tracker.Update(image.Point{}, false, zones); len(ev) != 0 {
		t.Errorf("expected nothing while outside and lost, got %v", ev)
	}
	tracker.Update(image.Pt(1, 1), true, zones)

	ev := tracker.Update(image.Point{}, false, zones)
	if !reflect.DeepEqual(ev, []Event{{EventLeave, "A"}}) {
		t.Errorf("expected leave on lost pointer, got %v", ev)
	}
	if st := tracker.State(); st.InZone || st.Located {
		t.Errorf("expected outside and unlocated, got %+v", st)
	}
	if ev := tracker.Update(image.Point{}, false, zones); len(ev) != 0 {
		t.Errorf("expected no repeat leave, got %v", ev)
	}
}

func TestTrackerZoneSwitch(t *testing.T) {
	zones := []Zone{zone("A", 0, 0, 10, 10), zone("B", 20, 0, 10, 10)}
	tracker := NewTracker()

	tracker.Update(image.Pt(5, 5), true, zones)
	got := tracker.Update(image.Pt(25, 5), true, zones)
	want := []Event{{EventLeave, "A"}, {EventEnter, "B"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestTrackerZoneRemovedMidTrack(t *testing.T) {
	reg := NewRegistry()
	reg.Add(zone("A", 0, 0, 10, 10))
	tracker := NewTracker()

	tracker.Update(image.Pt(5, 5), true, reg.Snapshot())
	if !reg.Remove("A") {
		t.Fatalf("expected A to be removed")
	}

	got := tracker.Update(image.Pt(5, 5), true, reg.Snapshot())
	if !reflect.DeepEqual(got, []Event{{EventLeave, "A"}}) {
		t.Errorf("expected single leave, got %v", got)
	}
	if st := tracker.State(); st.InZone {
		t.Errorf("expected outside, got %+v", st)
	}
	if ev := tracker.Update(image.Pt(5, 5), true, reg.Snapshot()); len(ev) != 0 {
		t.Errorf("expected nothing after leave, got %v", ev)
	}
}

func TestTrackerOverlapFirstWins(t *testing.T) {
	zones := []Zone{zone("B", 0, 0, 50, 50), zone("A", 10, 10, 50, 50)}

	for run := 0; run < 5; run++ {
		tracker := NewTracker()
		got := tracker.Update(image.Pt(20, 20), true, zones)
		if !reflect.DeepEqual(got, []Event{{EventEnter, "B"}}) {
			t.Fatalf("run %d: expected enter B, got %v", run, got)
		}
	}
}

func TestTrackerEdgesExclusive(t *testing.T) {
	zones := []Zone{zone("A", 0, 0, 10, 10)}
	tracker := NewTracker()

	if ev := tracker.Update(image.Pt(10, 5), true, zones); len(ev) != 0 {
		t.Errorf("expected right edge to be outside, got %v", ev)
	}
	if ev := tracker.Update(image.Pt(0, 9), true, zones); len(ev) != 1 {
		t.Errorf("expected origin column to be inside, got %v", ev)
	}
}

func TestEventKindNames(t *testing.T) {
	if EventEnter.String() != "window-in" || EventLeave.String() != "window-out" {
		t.Errorf("unexpected names %q %q", EventEnter, EventLeave)
	}
}

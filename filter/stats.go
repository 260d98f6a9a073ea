package filter

import (
	"fmt"
	"sync"
	"time"
)

// FrameStats tracks per-stage timings of the frame path.
// Each filter owns one; nothing is shared between instances.
type FrameStats struct {
	mu             sync.Mutex
	frameCount     int64
	locatedCount   int64
	eventCount     int64
	snapCount      int64
	lastReportTime time.Time

	detectTimeTotal time.Duration
	trackTimeTotal  time.Duration
	drawTimeTotal   time.Duration
	drawCount       int64
}

// StatsReport is one reporting window of FrameStats
type StatsReport struct {
	Window    time.Duration
	Frames    int64
	Located   int64
	Events    int64
	Snapshots int64
	FPS       float64
	AvgDetect time.Duration
	AvgTrack  time.Duration
	AvgDraw   time.Duration
}

func (r StatsReport) String() string {
	return fmt.Sprintf("%.1f fps, %d/%d frames located, %d events, %d snaps, detect %v, track %v, draw %v",
		r.FPS, r.Located, r.Frames, r.Events, r.Snapshots, r.AvgDetect, r.AvgTrack, r.AvgDraw)
}

// NewFrameStats creates a statistics tracker whose first window starts now
func NewFrameStats() *FrameStats {
	return &FrameStats{lastReportTime: time.Now()}
}

// UpdateFrame records one processed frame
func (ps *FrameStats) UpdateFrame(located bool, events int, detect, track time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.frameCount++
	if located {
		ps.locatedCount++
	}
	ps.eventCount += int64(events)
	ps.detectTimeTotal += detect
	ps.trackTimeTotal += track
}

// UpdateDraw records overlay rendering time
func (ps *FrameStats) UpdateDraw(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.drawTimeTotal += duration
	ps.drawCount++
}

// UpdateSnapshot counts a frame handed to the snapshot saver
func (ps *FrameStats) UpdateSnapshot() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.snapCount++
}

// Report returns the current window and starts a new one
func (ps *FrameStats) Report() StatsReport {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := time.Now()
	window := now.Sub(ps.lastReportTime)
	seconds := window.Seconds()
	if seconds <= 0 {
		seconds = 1.0 // Prevent division by zero
	}

	r := StatsReport{
		Window:    window,
		Frames:    ps.frameCount,
		Located:   ps.locatedCount,
		Events:    ps.eventCount,
		Snapshots: ps.snapCount,
		FPS:       float64(ps.frameCount) / seconds,
	}
	if ps.frameCount > 0 {
		r.AvgDetect = ps.detectTimeTotal / time.Duration(ps.frameCount)
		r.AvgTrack = ps.trackTimeTotal / time.Duration(ps.frameCount)
	}
	if ps.drawCount > 0 {
		r.AvgDraw = ps.drawTimeTotal / time.Duration(ps.drawCount)
	}

	// Reset counters but keep timestamps
	ps.frameCount = 0
	ps.locatedCount = 0
	ps.eventCount = 0
	ps.snapCount = 0
	ps.detectTimeTotal = 0
	ps.trackTimeTotal = 0
	ps.drawTimeTotal = 0
	ps.drawCount = 0
	ps.lastReportTime = now

	return r
}

package filter

import (
	"fmt"
	"sync"
	"time"
)

// EventHistory stores recent zone transitions for the overlay and diagnostics
type EventHistory struct {
	lines    []string
	maxLines int
	index    int
	full     bool
	mutex    sync.RWMutex
}

// NewEventHistory creates a circular buffer holding maxLines entries
func NewEventHistory(maxLines int) *EventHistory {
	if maxLines <= 0 {
		maxLines = 1
	}
	return &EventHistory{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Add stores a new line stamped with t
func (h *EventHistory) Add(t time.Time, line string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.lines[h.index] = fmt.Sprintf("[%s] %s", t.Format("15:04:05.000"), line)
	h.index = (h.index + 1) % h.maxLines
	if h.index == 0 {
		h.full = true
	}
}

// Recent returns the stored lines, oldest first
func (h *EventHistory) Recent() []string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if !h.full {
		out := make([]string, h.index)
		copy(out, h.lines[:h.index])
		return out
	}
	out := make([]string, 0, h.maxLines)
	for i := 0; i < h.maxLines; i++ {
		out = append(out, h.lines[(h.index+i)%h.maxLines])
	}
	return out
}

// Reset drops every entry
func (h *EventHistory) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.index = 0
	h.full = false
}

package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// AutoDir selects a directory under the system temporary folder
const AutoDir = "auto"

// Global debug function for snapshot package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, objectID ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, objectID...)
	}
}

// Policy controls which frames are snapped.
// A zero MaxSnaps disables snapping; a zero MaxFails never gives up.
type Policy struct {
	Wait     time.Duration // Delay after arming before the first snap
	Interval time.Duration // Minimum gap between snaps
	MaxSnaps int
	MaxFails int
}

// Enabled reports whether the policy snaps anything
func (p Policy) Enabled() bool {
	return p.MaxSnaps > 0
}

// ParseSnap parses the "interval,maxSnaps,maxFails" form, interval in milliseconds
func ParseSnap(s string) (Policy, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return Policy{}, fmt.Errorf("snap %q: expected interval,maxSnaps,maxFails", s)
	}
	var vals [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return Policy{}, fmt.Errorf("snap %q: field %d must be a non-negative integer", s, i+1)
		}
		vals[i] = v
	}
	return Policy{
		Interval: time.Duration(vals[0]) * time.Millisecond,
		MaxSnaps: vals[1],
		MaxFails: vals[2],
	}, nil
}

// FormatSnap is the inverse of ParseSnap
func FormatSnap(p Policy) string {
	return fmt.Sprintf("%d,%d,%d", p.Interval.Milliseconds(), p.MaxSnaps, p.MaxFails)
}

// ResolveDir maps AutoDir to a concrete directory
func ResolveDir(dir string) string {
	if dir == "" || dir == AutoDir {
		return filepath.Join(os.TempDir(), "pointerdetectix")
	}
	return dir
}

// Stats counts saver outcomes since the last Arm
type Stats struct {
	Queued  int
	Saved   int
	Failed  int
	Dropped int
}

type saveTask struct {
	dir   string
	image gocv.Mat
}

// Saver writes frames to disk from background workers.
// Offer never blocks: a full queue drops the frame.
type Saver struct {
	mu      sync.Mutex
	dir     string
	policy  Policy
	nextDue time.Time
	stats   Stats
	onError func(error)
	stopped bool

	queue   chan saveTask
	workers sync.WaitGroup
	stop    chan struct{}
	once    sync.Once
}

// NewSaver starts workers writing into dir
func NewSaver(dir string, queueSize, workers int) *Saver {
	if queueSize <= 0 {
		queueSize = 30
	}
	s := &Saver{
		dir:   ResolveDir(dir),
		queue: make(chan saveTask, queueSize),
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		s.workers.Add(1)
		go s.worker(i)
	}
	return s
}

// OnError registers a callback for failed writes; it runs on a worker goroutine
func (s *Saver) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Arm installs a policy and restarts its counters
func (s *Saver) Arm(p Policy, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
	s.nextDue = now.Add(p.Wait)
	s.stats = Stats{}
	if p.Enabled() {
		debugMsg("SNAPSHOT", fmt.Sprintf("Armed: %s, wait %v, into %s", FormatSnap(p), p.Wait, s.dir))
	}
}

// SetDir changes the destination for frames queued from now on
func (s *Saver) SetDir(dir string) {
	s.mu.Lock()
	s.dir = ResolveDir(dir)
	s.mu.Unlock()
}

// Dir returns the current destination
func (s *Saver) Dir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

// Offer queues a copy of frame if the policy wants one now
func (s *Saver) Offer(frame gocv.Mat, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.policy
	switch {
	case s.stopped, !p.Enabled(), s.stats.Queued >= p.MaxSnaps, now.Before(s.nextDue):
		return false
	case p.MaxFails > 0 && s.stats.Failed >= p.MaxFails:
		return false
	}

	clone := frame.Clone()
	select {
	case s.queue <- saveTask{dir: s.dir, image: clone}:
		s.stats.Queued++
		s.nextDue = now.Add(p.Interval)
		return true
	default:
		clone.Close()
		s.stats.Dropped++
		debugMsg("SNAPSHOT", "Save queue full - dropping frame")
		return false
	}
}

// Stats returns the counters since the last Arm
func (s *Saver) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop drains the queue and waits for workers
func (s *Saver) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		close(s.stop)
		s.workers.Wait()
		// Anything left when there were no workers
		for {
			select {
			case task := <-s.queue:
				s.save(task)
			default:
				return
			}
		}
	})
}

func (s *Saver) worker(id int) {
	defer s.workers.Done()
	for {
		select {
		case task := <-s.queue:
			s.save(task)
		case <-s.stop:
			drained := 0
			for {
				select {
				case task := <-s.queue:
					s.save(task)
					drained++
				default:
					if drained > 0 {
						debugMsg("SNAPSHOT", fmt.Sprintf("Worker %d drained %d pending frames", id, drained))
					}
					return
				}
			}
		}
	}
}

func (s *Saver) save(task saveTask) {
	defer task.image.Close()
	path, err := writeFrame(task.image, task.dir, time.Now())

	s.mu.Lock()
	onError := s.onError
	if err != nil {
		s.stats.Failed++
	} else {
		s.stats.Saved++
	}
	s.mu.Unlock()

	if err != nil {
		debugMsg("SNAPSHOT", err.Error())
		if onError != nil {
			onError(err)
		}
		return
	}
	debugMsg("SNAPSHOT", "Saved "+path)
}

// writeFrame saves frame as PNG into a date and hour subdirectory of dir
func writeFrame(frame gocv.Mat, dir string, now time.Time) (string, error) {
	subdir := filepath.Join(dir, now.Format("2006-01-02_03PM"))
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		return "", errors.Wrapf(err, "can't create snapshot directory %s", subdir)
	}

	filename := fmt.Sprintf("%s_%s.png", now.Format("20060102_150405.000"), uuid.New().String()[:8])
	path := filepath.Join(subdir, filename)
	if !gocv.IMWrite(path, frame) {
		return "", fmt.Errorf("can't write snapshot %s", path)
	}
	return path, nil
}

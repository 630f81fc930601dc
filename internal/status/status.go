// Package status provides a thread-safe tracker of the sentinel's latest
// safety reading, decision and shutdown outcome. It is read by the HTTP
// status server.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/obsy-sentinel/internal/safety"
)

// Config contains daemon configuration for display.
type Config struct {
	Interval          time.Duration
	DebounceThreshold uint
	MaxAttempts       int
	AutoResume        bool
	Broker            string
	HTTPAddr          string
}

// StepSummary is one shutdown step as displayed.
type StepSummary struct {
	Step      string
	Attempts  int
	Succeeded bool
	Skipped   bool
	Error     string
}

// ShutdownSummary describes the most recent shutdown sequence.
type ShutdownSummary struct {
	ID        string
	Started   time.Time
	Finished  time.Time
	Completed bool
	Error     string
	Steps     []StepSummary
}

// Counts are totals since startup.
type Counts struct {
	Cycles    uint64
	Idle      uint64
	Skipped   uint64
	Shutdowns uint64
	Resumes   uint64
	Errors    uint64
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Safety          safety.Status
	Action          string
	Reason          string
	WeatherDebounce uint
	Counts          Counts
	LastShutdown    *ShutdownSummary
	StartTime       time.Time
	Now             time.Time
	MQTTConnected   bool
	Config          Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// RecordCycle stores the outcome of one control cycle.
func (t *Tracker) RecordCycle(st safety.Status, action, reason string, weatherDebounce uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Safety = st
	t.snap.Action = action
	t.snap.Reason = reason
	t.snap.WeatherDebounce = weatherDebounce
	t.snap.Counts.Cycles++
	switch action {
	case "IDLE":
		t.snap.Counts.Idle++
	case "SKIP":
		t.snap.Counts.Skipped++
	case "SHUTDOWN":
		t.snap.Counts.Shutdowns++
	case "RESUME":
		t.snap.Counts.Resumes++
	}
}

// RecordError counts a cycle that failed with an error or panic, or a
// status server that could not start.
func (t *Tracker) RecordError() {
	t.mu.Lock()
	t.snap.Counts.Errors++
	t.mu.Unlock()
}

// RecordShutdown stores the most recent shutdown summary.
func (t *Tracker) RecordShutdown(sum ShutdownSummary) {
	t.mu.Lock()
	steps := append([]StepSummary(nil), sum.Steps...)
	sum.Steps = steps
	t.snap.LastShutdown = &sum
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	if s.LastShutdown != nil {
		last := *s.LastShutdown
		last.Steps = append([]StepSummary(nil), last.Steps...)
		s.LastShutdown = &last
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}

package scanstats

import (
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/os32c/internal/monitoring"
	"github.com/banshee-data/os32c/internal/timeutil"
)

// Counters tracks acquisition throughput with thread-safe operations.
type Counters struct {
	clock timeutil.Clock

	mu         sync.Mutex
	scans      int64
	beams      int64
	errors     int64
	dropped    int64
	keepalives int64
	last       Summary
	lastReset  time.Time
}

// Snapshot is the counter values for one interval.
type Snapshot struct {
	Scans      int64
	Beams      int64
	Errors     int64
	Dropped    int64
	Keepalives int64
	Last       Summary
	Duration   time.Duration
}

// NewCounters creates Counters. A nil clock uses the wall clock.
func NewCounters(clock timeutil.Clock) *Counters {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Counters{clock: clock, lastReset: clock.Now()}
}

// AddScan records one assembled scan.
func (c *Counters) AddScan(s Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scans++
	c.beams += int64(s.Beams)
	c.last = s
}

// AddError records a scan that failed to decode or arrive.
func (c *Counters) AddError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

// AddDropped records a scan that was not forwarded downstream.
func (c *Counters) AddDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped++
}

// AddKeepalive records a keepalive datagram sent to the scanner.
func (c *Counters) AddKeepalive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepalives++
}

// GetAndReset returns the current counters and starts a new interval. The
// last scan summary is kept.
func (c *Counters) GetAndReset() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	snap := Snapshot{
		Scans:      c.scans,
		Beams:      c.beams,
		Errors:     c.errors,
		Dropped:    c.dropped,
		Keepalives: c.keepalives,
		Last:       c.last,
		Duration:   now.Sub(c.lastReset),
	}
	c.scans, c.beams, c.errors, c.dropped, c.keepalives = 0, 0, 0, 0, 0
	c.lastReset = now
	return snap
}

// Line formats the snapshot as a log line. It returns "" for an idle interval.
func (s Snapshot) Line() string {
	if s.Scans == 0 && s.Errors == 0 && s.Dropped == 0 {
		return ""
	}
	secs := s.Duration.Seconds()
	if secs <= 0 {
		secs = 1
	}
	msg := fmt.Sprintf("Scan stats (/sec): %.1f scans, %.0f beams", float64(s.Scans)/secs, float64(s.Beams)/secs)
	if s.Errors > 0 {
		msg += fmt.Sprintf(", %d errors", s.Errors)
	}
	if s.Dropped > 0 {
		msg += fmt.Sprintf(", %d dropped on forward", s.Dropped)
	}
	if s.Keepalives > 0 {
		msg += fmt.Sprintf(", %d keepalives", s.Keepalives)
	}
	if s.Scans > 0 {
		msg += "; last " + s.Last.String()
	}
	return msg
}

// LogStats logs and resets the counters.
func (c *Counters) LogStats() {
	if line := c.GetAndReset().Line(); line != "" {
		monitoring.Logf("%s", line)
	}
}

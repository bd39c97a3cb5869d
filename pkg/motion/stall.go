package motion

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Motion is the result of a stall check.
type Motion int

const (
	Unknown Motion = iota
	Moving
	Blocked
)

func (m Motion) String() string {
	switch m {
	case Moving:
		return "moving"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// StallDetector watches planar acceleration while the drive is commanded
// and reports Blocked when the mean falls under the stall threshold.
type StallDetector struct {
	minThrottle float64
	threshold   float64
	interval    time.Duration
	minSamples  int

	buf       []float64
	next      int
	count     int
	lastCheck time.Time
	last      Motion
}

// NewStallDetector creates a detector from the stall fields of cfg.
func NewStallDetector(cfg Config) *StallDetector {
	size := cfg.BufferSize
	if size < cfg.MinSamples {
		size = cfg.MinSamples
	}
	if size <= 0 {
		size = 1
	}
	return &StallDetector{
		minThrottle: cfg.MinMotionThrottle,
		threshold:   cfg.StallThreshold,
		interval:    cfg.CheckInterval,
		minSamples:  cfg.MinSamples,
		buf:         make([]float64, size),
	}
}

// Observe records one cycle. ax and ay are in mg. It returns a verdict once
// per check interval, and Unknown otherwise or while samples are too few.
func (s *StallDetector) Observe(throttle, ax, ay float64, now time.Time) Motion {
	if math.Abs(throttle) < s.minThrottle {
		s.Clear()
	} else {
		s.buf[s.next] = math.Hypot(ax, ay)
		s.next = (s.next + 1) % len(s.buf)
		if s.count < len(s.buf) {
			s.count++
		}
	}

	if s.lastCheck.IsZero() {
		s.lastCheck = now
		return Unknown
	}
	if now.Sub(s.lastCheck) < s.interval {
		return Unknown
	}
	s.lastCheck = now

	if s.count < s.minSamples {
		return Unknown
	}
	if stat.Mean(s.buf[:s.count], nil) < s.threshold {
		s.last = Blocked
	} else {
		s.last = Moving
	}
	return s.last
}

// Clear drops all buffered samples.
func (s *StallDetector) Clear() {
	s.next = 0
	s.count = 0
}

// Samples returns the number of valid samples.
func (s *StallDetector) Samples() int { return s.count }

// Last returns the most recent verdict.
func (s *StallDetector) Last() Motion { return s.last }

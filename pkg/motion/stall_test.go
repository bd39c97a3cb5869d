package motion

import (
	"testing"
	"time"
)

func TestStallDetector_ReportsBlockedOncePerInterval(t *testing.T) {
	cfg := DefaultConfig()
	s := NewStallDetector(cfg)
	t0 := time.Unix(0, 0)

	// First observation starts the interval clock.
	if got := s.Observe(60, 5, 5, t0); got != Unknown {
		t.Fatalf("first observe = %v", got)
	}

	blocked := 0
	for i := 1; i <= 5; i++ {
		now := t0.Add(time.Duration(i) * 60 * time.Millisecond)
		if s.Observe(60, 10, 10, now) == Blocked {
			blocked++
		}
	}
	if blocked != 1 {
		t.Errorf("blocked reported %d times in one interval, want 1", blocked)
	}
	if s.Last() != Blocked {
		t.Errorf("Last() = %v", s.Last())
	}
}

func TestStallDetector_Moving(t *testing.T) {
	s := NewStallDetector(DefaultConfig())
	t0 := time.Unix(0, 0)

	var got Motion
	for i := 0; i <= 6; i++ {
		if m := s.Observe(80, 300, 200, t0.Add(time.Duration(i)*60*time.Millisecond)); m != Unknown {
			got = m
		}
	}
	if got != Moving {
		t.Errorf("got %v, want moving", got)
	}
}

func TestStallDetector_NeedsMinimumSamples(t *testing.T) {
	s := NewStallDetector(DefaultConfig())
	t0 := time.Unix(0, 0)

	s.Observe(60, 0, 0, t0)
	s.Observe(60, 0, 0, t0.Add(100*time.Millisecond))
	if got := s.Observe(60, 0, 0, t0.Add(400*time.Millisecond)); got != Unknown {
		t.Errorf("3 samples produced %v, want unknown", got)
	}
}

func TestStallDetector_ClearsBelowMinimumThrottle(t *testing.T) {
	s := NewStallDetector(DefaultConfig())
	t0 := time.Unix(0, 0)

	for i := 0; i < 4; i++ {
		s.Observe(60, 0, 0, t0.Add(time.Duration(i)*10*time.Millisecond))
	}
	if s.Samples() != 4 {
		t.Fatalf("samples = %d, want 4", s.Samples())
	}

	s.Observe(5, 0, 0, t0.Add(50*time.Millisecond))
	if s.Samples() != 0 {
		t.Errorf("samples = %d after low throttle, want 0", s.Samples())
	}

	// Reversing counts as commanded motion.
	s.Observe(-60, 0, 0, t0.Add(60*time.Millisecond))
	if s.Samples() != 1 {
		t.Errorf("samples = %d after reverse throttle, want 1", s.Samples())
	}
}

func TestStallDetector_RingBufferWraps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 5
	s := NewStallDetector(cfg)
	t0 := time.Unix(0, 0)

	for i := 0; i < 12; i++ {
		s.Observe(60, 0, 0, t0.Add(time.Duration(i)*time.Millisecond))
	}
	if s.Samples() != 5 {
		t.Errorf("samples = %d, want buffer size 5", s.Samples())
	}
}

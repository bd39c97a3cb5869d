package motion

import (
	"math"
	"sync"
	"time"
)

// Step is one open-loop actuator setting held for Duration.
type Step struct {
	Throttle float64       `json:"throttle" yaml:"throttle"` // percent
	Steering float64       `json:"steering" yaml:"steering"` // degrees, positive = right
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Sequence is an ordered list of steps.
type Sequence struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Duration is the total time the sequence holds the actuators.
func (s Sequence) Duration() time.Duration {
	var d time.Duration
	for _, st := range s.Steps {
		d += st.Duration
	}
	return d
}

// Catalog is a fixed list of escape maneuvers handed out round-robin.
type Catalog struct {
	mu    sync.Mutex
	seqs  []Sequence
	index int
}

// NewCatalog creates a catalog from seqs. It panics on an empty list.
func NewCatalog(seqs ...Sequence) *Catalog {
	if len(seqs) == 0 {
		panic("motion: empty maneuver catalog")
	}
	return &Catalog{seqs: seqs}
}

// DefaultCatalog backs off left, backs off right, then reverses straight
// and swings through.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Sequence{Name: "back-left", Steps: []Step{
			{Throttle: -60, Steering: -45, Duration: 800 * time.Millisecond},
			{Throttle: 50, Steering: 45, Duration: 500 * time.Millisecond},
		}},
		Sequence{Name: "back-right", Steps: []Step{
			{Throttle: -60, Steering: 45, Duration: 800 * time.Millisecond},
			{Throttle: 50, Steering: -45, Duration: 500 * time.Millisecond},
		}},
		Sequence{Name: "reverse-swing", Steps: []Step{
			{Throttle: -70, Steering: 0, Duration: 600 * time.Millisecond},
			{Throttle: -50, Steering: 45, Duration: 700 * time.Millisecond},
			{Throttle: 60, Steering: 0, Duration: 400 * time.Millisecond},
		}},
	)
}

// Next returns the next maneuver and its index.
func (c *Catalog) Next() (Sequence, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.index
	c.index = (c.index + 1) % len(c.seqs)
	return c.seqs[i], i
}

// Len returns the number of maneuvers.
func (c *Catalog) Len() int { return len(c.seqs) }

// StraightSequence drives distance centimetres at cruise throttle with the
// wheels centred. Negative distances reverse.
func (cfg Config) StraightSequence(distance float64) Sequence {
	throttle := cfg.CruiseThrottle
	if distance < 0 {
		throttle = -throttle
	}
	secs := 0.0
	if cfg.CruiseLinearSpeed > 0 {
		secs = math.Abs(distance) / cfg.CruiseLinearSpeed
	}
	return Sequence{Name: "straight", Steps: []Step{
		{Throttle: throttle, Steering: 0, Duration: seconds(secs)},
	}}
}

// SpinSequence turns by angle degrees on full lock. Positive angles turn right.
func (cfg Config) SpinSequence(angle float64) Sequence {
	if angle == 0 {
		return Sequence{Name: "spin"}
	}
	steering := cfg.MaxSteering
	if angle < 0 {
		steering = -steering
	}
	secs := 0.0
	if cfg.SpinAngularSpeed > 0 {
		secs = math.Abs(angle) / cfg.SpinAngularSpeed
	}
	return Sequence{Name: "spin", Steps: []Step{
		{Throttle: cfg.SpinThrottle, Steering: steering, Duration: seconds(secs)},
	}}
}

// HeadingReached reports whether current is within tolerance of target,
// accounting for the 0/360 wrap.
func HeadingReached(current, target, tolerance float64) bool {
	diff := math.Abs(math.Mod(current-target, 360))
	if diff > 180 {
		diff = 360 - diff
	}
	return diff <= tolerance
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package motion

import (
	"time"

	"github.com/teslashibe/go-rover/pkg/pid"
)

// Config holds all tunable parameters for the motion controller.
type Config struct {
	// Closed-loop gains
	Heading    pid.Gains     `json:"heading" yaml:"heading"`
	Speed      pid.Gains     `json:"speed" yaml:"speed"`
	SampleTime time.Duration `json:"sample_time" yaml:"sample_time"`

	// Actuator range
	MaxSteering float64 `json:"max_steering" yaml:"max_steering"` // degrees, symmetric
	MaxThrottle float64 `json:"max_throttle" yaml:"max_throttle"` // percent, symmetric

	// Stall detection
	MinMotionThrottle float64       `json:"min_motion_throttle" yaml:"min_motion_throttle"` // percent
	StallThreshold    float64       `json:"stall_threshold" yaml:"stall_threshold"`         // mg
	CheckInterval     time.Duration `json:"check_interval" yaml:"check_interval"`
	BufferSize        int           `json:"buffer_size" yaml:"buffer_size"`
	MinSamples        int           `json:"min_samples" yaml:"min_samples"`

	// Open-loop moves
	CruiseThrottle    float64 `json:"cruise_throttle" yaml:"cruise_throttle"`         // percent
	CruiseLinearSpeed float64 `json:"cruise_linear_speed" yaml:"cruise_linear_speed"` // cm/s at cruise throttle
	SpinThrottle      float64 `json:"spin_throttle" yaml:"spin_throttle"`             // percent
	SpinAngularSpeed  float64 `json:"spin_angular_speed" yaml:"spin_angular_speed"`   // deg/s at spin throttle
}

// DefaultConfig returns the recommended configuration for the arena rover.
func DefaultConfig() Config {
	return Config{
		Heading:    pid.Gains{Kp: 1.2, Ki: 0.1, Kd: 0.05},
		Speed:      pid.Gains{Kp: 1.5, Ki: 0.05, Kd: 0},
		SampleTime: pid.DefaultSampleTime,

		MaxSteering: 45,
		MaxThrottle: 100,

		MinMotionThrottle: 20,
		StallThreshold:    150,
		CheckInterval:     300 * time.Millisecond,
		BufferSize:        16,
		MinSamples:        5,

		CruiseThrottle:    50,
		CruiseLinearSpeed: 100,
		SpinThrottle:      50,
		SpinAngularSpeed:  20,
	}
}

// GentleConfig returns softer gains and a lower throttle ceiling for
// cramped arenas or low-traction floors.
func GentleConfig() Config {
	cfg := DefaultConfig()
	cfg.Heading = pid.Gains{Kp: 0.8, Ki: 0.05, Kd: 0.08}
	cfg.Speed = pid.Gains{Kp: 1.0, Ki: 0.02}
	cfg.MaxThrottle = 60
	cfg.CruiseThrottle = 35
	cfg.CruiseLinearSpeed = 70
	return cfg
}

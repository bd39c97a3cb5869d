package behavior

import (
	"time"

	"github.com/teslashibe/go-rover/pkg/vision"
)

// Config holds the thresholds and gains of the state machine.
type Config struct {
	// Timing
	GoHomeBefore time.Duration `json:"go_home_before" yaml:"go_home_before"` // head home when less match time remains
	LostGrace    time.Duration `json:"lost_grace" yaml:"lost_grace"`         // keep tracking this long without a target
	SpinDelay    time.Duration `json:"spin_delay" yaml:"spin_delay"`         // hold still this long before spinning

	// Tracking turn-in
	TrackGain         float64 `json:"track_gain" yaml:"track_gain"`                   // bearing multiplier when off-axis and near
	TrackDeadband     float64 `json:"track_deadband" yaml:"track_deadband"`           // degrees
	TrackNearDistance float64 `json:"track_near_distance" yaml:"track_near_distance"` // cm

	// Search spin
	SearchDistance float64 `json:"search_distance" yaml:"search_distance"` // cm
	SearchBearing  float64 `json:"search_bearing" yaml:"search_bearing"`   // degrees, magnitude

	// Homing
	HomeMarkerID     int     `json:"home_marker_id" yaml:"home_marker_id"`
	ArrivalDistance  float64 `json:"arrival_distance" yaml:"arrival_distance"`     // cm
	HomeSlowDistance float64 `json:"home_slow_distance" yaml:"home_slow_distance"` // cm
	HomeSpeedLimit   float64 `json:"home_speed_limit" yaml:"home_speed_limit"`     // percent
	HomeOnDanger     bool    `json:"home_on_danger" yaml:"home_on_danger"`

	// Entry side effects
	CollectorPower float64 `json:"collector_power" yaml:"collector_power"` // percent
	TiltTargets    float64 `json:"tilt_targets" yaml:"tilt_targets"`       // degrees, negative = down
	TiltMarkers    float64 `json:"tilt_markers" yaml:"tilt_markers"`       // degrees
}

// DefaultConfig returns the tuning used in competition.
func DefaultConfig() Config {
	return Config{
		GoHomeBefore: 20 * time.Second,
		LostGrace:    time.Second,
		SpinDelay:    time.Second,

		TrackGain:         2,
		TrackDeadband:     10,
		TrackNearDistance: 60,

		SearchDistance: 100,
		SearchBearing:  90,

		HomeMarkerID:     vision.MarkerHome,
		ArrivalDistance:  35,
		HomeSlowDistance: 70,
		HomeSpeedLimit:   40,
		HomeOnDanger:     true,

		CollectorPower: 50,
		TiltTargets:    -20,
		TiltMarkers:    0,
	}
}

// Cautious heads home earlier, turns in less aggressively and tolerates
// longer target dropouts. Settings the preset does not name keep c's values.
func (c Config) Cautious() Config {
	c.GoHomeBefore = 40 * time.Second
	c.LostGrace = 2 * time.Second
	c.TrackGain = 1.5
	c.HomeSpeedLimit = 30
	return c
}

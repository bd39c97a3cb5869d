package rover

import (
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-rover/pkg/arena"
	"github.com/teslashibe/go-rover/pkg/behavior"
	"github.com/teslashibe/go-rover/pkg/game"
	"github.com/teslashibe/go-rover/pkg/motion"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// Config holds the control loop timing and the settings of every core
// component.
type Config struct {
	// Timing
	Period            time.Duration `json:"period" yaml:"period"`                         // perception/decision/actuation cycle
	TelemetryInterval time.Duration `json:"telemetry_interval" yaml:"telemetry_interval"` // status publish
	CountdownInterval time.Duration `json:"countdown_interval" yaml:"countdown_interval"` // match expiry check
	SurveyInterval    time.Duration `json:"survey_interval" yaml:"survey_interval"`       // forced marker look-around
	StatusInterval    time.Duration `json:"status_interval" yaml:"status_interval"`       // status log line

	// Survey switches the detector to markers once per SurveyInterval to
	// keep the arena pose fresh while collecting.
	Survey bool `json:"survey" yaml:"survey"`

	Camera   vision.Camera   `json:"camera" yaml:"camera"`
	Motion   motion.Config   `json:"motion" yaml:"motion"`
	Behavior behavior.Config `json:"behavior" yaml:"behavior"`
	Game     game.Config     `json:"game" yaml:"game"`
	Arena    arena.Config    `json:"arena" yaml:"arena"`
}

// DefaultConfig returns the competition configuration.
func DefaultConfig() Config {
	return Config{
		Period:            20 * time.Millisecond,
		TelemetryInterval: 200 * time.Millisecond,
		CountdownInterval: time.Second,
		SurveyInterval:    3 * time.Second,
		StatusInterval:    5 * time.Second,
		Survey:            true,

		Camera:   vision.DefaultCamera(),
		Motion:   motion.DefaultConfig(),
		Behavior: behavior.DefaultConfig(),
		Game:     game.DefaultConfig(),
		Arena:    arena.DefaultConfig(),
	}
}

// BenchConfig skips the obey handshake and shortens the match for runs
// on the bench or in simulation.
func BenchConfig() Config {
	cfg := DefaultConfig()
	cfg.Game.StartInSlave = true
	cfg.Game.Duration = 2 * time.Minute
	cfg.Motion = motion.GentleConfig()
	return cfg
}

// Validate checks the settings the loop cannot run without.
func (c Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"period", c.Period},
		{"telemetry_interval", c.TelemetryInterval},
		{"countdown_interval", c.CountdownInterval},
		{"survey_interval", c.SurveyInterval},
		{"status_interval", c.StatusInterval},
	} {
		if f.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", f.name, f.d))
		}
	}
	if c.Camera.Width <= 0 || c.Camera.FOV <= 0 {
		errs = append(errs, fmt.Errorf("camera: invalid geometry %vpx / %v deg", c.Camera.Width, c.Camera.FOV))
	}
	if err := c.Arena.Layout.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

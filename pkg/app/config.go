// Package app wires the rover's control loop to its hardware (or the
// bench simulation), the game controller links and the dashboard.
package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-rover/internal/config"
	"github.com/teslashibe/go-rover/pkg/arbiter"
	"github.com/teslashibe/go-rover/pkg/rover"
	"github.com/teslashibe/go-rover/pkg/sim"
)

// Config holds all configuration for the rover application.
// Flag parsing is done in cmd/rover/main.go; this struct is data only.
type Config struct {
	LogLevel string `json:"log_level" yaml:"log_level"`

	// Sim replaces the camera, IMU and drive daemon with a simulated arena.
	Sim bool `json:"sim" yaml:"sim"`

	Rover   rover.Config  `json:"rover" yaml:"rover"`
	Drive   DriveConfig   `json:"drive" yaml:"drive"`
	Camera  CameraConfig  `json:"camera" yaml:"camera"`
	Arbiter ArbiterConfig `json:"arbiter" yaml:"arbiter"`
	Web     WebConfig     `json:"web" yaml:"web"`
	World   sim.Config    `json:"world" yaml:"world"`
}

// DriveConfig points at the motor-driver daemon.
type DriveConfig struct {
	URL     string        `json:"url" yaml:"url"`
	Rate    time.Duration `json:"rate" yaml:"rate"`         // command send period
	IMURate time.Duration `json:"imu_rate" yaml:"imu_rate"` // IMU poll period
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	Device int `json:"device" yaml:"device"`
}

// ArbiterConfig configures the game controller links. Both may run at once.
type ArbiterConfig struct {
	WS            arbiter.WSConfig     `json:"ws" yaml:"ws"` // disabled when URL is empty
	Serial        arbiter.SerialConfig `json:"serial" yaml:"serial"`
	SerialEnabled bool                 `json:"serial_enabled" yaml:"serial_enabled"`
}

// WebConfig configures the dashboard. An empty Addr disables it.
type WebConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// DefaultConfig returns the competition configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Rover:    rover.DefaultConfig(),
		Drive: DriveConfig{
			URL:     config.DefaultDriverURL,
			Rate:    20 * time.Millisecond,
			IMURate: 20 * time.Millisecond,
		},
		Arbiter: ArbiterConfig{
			WS:     arbiter.DefaultWSConfig(),
			Serial: arbiter.DefaultSerialConfig(),
		},
		Web:   WebConfig{Addr: config.DefaultWebAddr},
		World: sim.DefaultConfig(),
	}
}

// SimConfig returns the bench simulation configuration: no obey handshake,
// a short match and the simulated field's marker layout.
func SimConfig() Config {
	cfg := DefaultConfig()
	cfg.Sim = true
	cfg.Rover = rover.BenchConfig()
	return cfg
}

// LoadEnvConfig applies environment overrides.
func (c *Config) LoadEnvConfig() {
	if os.Getenv(config.EnvDriverURL) != "" {
		c.Drive.URL = config.DriverURL()
	}
	c.Arbiter.WS.URL = config.ArbiterURL(c.Arbiter.WS.URL)
	if port := config.SerialPort(""); port != "" {
		c.Arbiter.Serial.Path = port
		c.Arbiter.SerialEnabled = true
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	var errs []error
	if c.Sim {
		// The estimator must know the field the world renders.
		c.Rover.Arena.Layout = c.World.Layout
	}
	if err := c.Rover.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rover: %w", err))
	}
	if c.Drive.Rate <= 0 || c.Drive.IMURate <= 0 {
		errs = append(errs, fmt.Errorf("drive: rates must be positive, got %v / %v", c.Drive.Rate, c.Drive.IMURate))
	}
	if !c.Sim && c.Drive.URL == "" {
		errs = append(errs, errors.New("drive: url is required without -sim"))
	}
	if c.Arbiter.SerialEnabled && (c.Arbiter.Serial.Path == "" || c.Arbiter.Serial.BaudRate <= 0) {
		errs = append(errs, fmt.Errorf("arbiter: invalid serial port %q at %d baud", c.Arbiter.Serial.Path, c.Arbiter.Serial.BaudRate))
	}
	return errors.Join(errs...)
}

// Package pid implements a discrete PID controller with output clamping,
// integral anti-windup, derivative on measurement and an optional
// proportional-on-measurement mode.
package pid

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDt is returned when an update is attempted with a non-positive
// time step. It points at a broken clock source, not at bad sensor data.
var ErrInvalidDt = errors.New("pid: dt must be positive")

// DefaultSampleTime is the minimum interval between two effective updates.
const DefaultSampleTime = 10 * time.Millisecond

// defaultDt is used for the first clock-derived update after a reset.
const defaultDt = time.Millisecond

// Gains are the proportional, integral and derivative coefficients.
type Gains struct {
	Kp float64 `json:"kp" yaml:"kp"`
	Ki float64 `json:"ki" yaml:"ki"`
	Kd float64 `json:"kd" yaml:"kd"`
}

// Config describes a controller. Zero SampleTime disables the rate limit.
type Config struct {
	Gains                     Gains         `yaml:"gains"`
	Setpoint                  float64       `yaml:"setpoint"`
	Limits                    Limits        `yaml:"limits"`
	SampleTime                time.Duration `yaml:"sample_time"`
	ProportionalOnMeasurement bool          `yaml:"proportional_on_measurement"`

	// ErrorMap remaps setpoint-measurement before use, e.g. WrapDegrees.
	ErrorMap func(float64) float64 `yaml:"-"`
}

// State is a read-only snapshot of the controller terms.
type State struct {
	Proportional float64 `json:"proportional"`
	Integral     float64 `json:"integral"`
	Derivative   float64 `json:"derivative"`
	Output       float64 `json:"output"`
	Error        float64 `json:"error"`
	HasOutput    bool    `json:"has_output"`
	Auto         bool    `json:"auto"`
}

// Controller is a PID controller. It is not safe for concurrent use;
// the control loop owns it.
type Controller struct {
	gains    Gains
	setpoint float64
	limits   Limits
	sample   time.Duration
	pom      bool
	errorMap func(float64) float64

	proportional float64
	integral     float64
	derivative   float64

	auto       bool
	lastTime   time.Time
	lastInput  float64
	hasInput   bool
	lastOutput float64
	hasOutput  bool

	// now is the clock; replaced in tests.
	now func() time.Time
}

// New creates a controller in automatic mode.
// Zero-value limits (Min == Max == 0) are treated as unbounded.
func New(cfg Config) (*Controller, error) {
	limits := cfg.Limits
	if limits.Min == 0 && limits.Max == 0 {
		limits = NoLimits()
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	em := cfg.ErrorMap
	if em == nil {
		em = func(e float64) float64 { return e }
	}
	c := &Controller{
		gains:    cfg.Gains,
		setpoint: cfg.Setpoint,
		limits:   limits,
		sample:   cfg.SampleTime,
		pom:      cfg.ProportionalOnMeasurement,
		errorMap: em,
		auto:     true,
		now:      time.Now,
	}
	c.Reset()
	return c, nil
}

// Update computes the output for measurement, deriving dt from the clock.
func (c *Controller) Update(measurement float64) (float64, error) {
	if !c.auto {
		return c.lastOutput, nil
	}
	dt := defaultDt
	if !c.lastTime.IsZero() {
		dt = c.now().Sub(c.lastTime)
	}
	return c.UpdateDt(measurement, dt)
}

// UpdateDt computes the output for measurement over an explicit time step.
// In manual mode the last output is returned unchanged. A step shorter than
// the sample time also returns the last output once one exists.
func (c *Controller) UpdateDt(measurement float64, dt time.Duration) (float64, error) {
	if !c.auto {
		return c.lastOutput, nil
	}
	if dt <= 0 {
		return c.lastOutput, fmt.Errorf("%w: got %v", ErrInvalidDt, dt)
	}
	if c.sample > 0 && dt < c.sample && c.hasOutput {
		return c.lastOutput, nil
	}

	secs := dt.Seconds()
	e := c.errorMap(c.setpoint - measurement)
	dInput := 0.0
	if c.hasInput {
		dInput = measurement - c.lastInput
	}

	if c.pom {
		c.proportional -= c.gains.Kp * dInput
	} else {
		c.proportional = c.gains.Kp * e
	}

	c.integral += c.gains.Ki * e * secs
	c.integral = c.limits.Clamp(c.integral)

	c.derivative = -c.gains.Kd * dInput / secs

	out := c.limits.Clamp(c.proportional + c.integral + c.derivative)

	c.lastTime = c.now()
	c.lastInput = measurement
	c.hasInput = true
	c.lastOutput = out
	c.hasOutput = true
	return out, nil
}

// Reset zeroes the proportional and derivative terms, re-clamps the
// integral and forgets the last input, output and timestamp.
func (c *Controller) Reset() {
	c.proportional = 0
	c.derivative = 0
	c.integral = c.limits.Clamp(c.integral)
	c.lastTime = time.Time{}
	c.lastInput = 0
	c.hasInput = false
	c.lastOutput = 0
	c.hasOutput = false
}

// Clear is Reset with the integral zeroed as well.
func (c *Controller) Clear() {
	c.Reset()
	c.integral = 0
}

// SetAuto switches between automatic and manual mode. Entering automatic
// mode resets the controller and seeds the integral with lastOutput so the
// first output continues from where manual control left off.
func (c *Controller) SetAuto(enabled bool, lastOutput float64) {
	if enabled && !c.auto {
		c.Reset()
		c.integral = c.limits.Clamp(lastOutput)
	}
	c.auto = enabled
}

// Auto reports whether the controller is in automatic mode.
func (c *Controller) Auto() bool { return c.auto }

// SetLimits replaces the output limits, re-clamping integral and last output.
func (c *Controller) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	c.limits = l
	c.integral = l.Clamp(c.integral)
	if c.hasOutput {
		c.lastOutput = l.Clamp(c.lastOutput)
	}
	return nil
}

// Limits returns the output limits.
func (c *Controller) Limits() Limits { return c.limits }

// SetGains replaces the gains without touching accumulated state.
func (c *Controller) SetGains(g Gains) { c.gains = g }

// Gains returns the current gains.
func (c *Controller) Gains() Gains { return c.gains }

// SetSetpoint changes the target value.
func (c *Controller) SetSetpoint(sp float64) { c.setpoint = sp }

// Setpoint returns the target value.
func (c *Controller) Setpoint() float64 { return c.setpoint }

// State returns the current terms and last output.
func (c *Controller) State() State {
	s := State{
		Proportional: c.proportional,
		Integral:     c.integral,
		Derivative:   c.derivative,
		Output:       c.lastOutput,
		HasOutput:    c.hasOutput,
		Auto:         c.auto,
	}
	if c.hasInput {
		s.Error = c.setpoint - c.lastInput
	}
	return s
}

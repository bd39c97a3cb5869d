// Package motion turns a Waypoint into steering and throttle commands
// through two PID loops, runs timed open-loop maneuvers and detects
// stalls from the accelerometer.
package motion

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/pid"
)

// Actuators are idempotent setters for the drive layer.
type Actuators interface {
	SetSteering(degrees float64) error
	SetThrottle(percent float64) error
	SetAuxiliary(percent float64) error
}

// Waypoint is the next desired (distance, bearing) relative to the robot.
type Waypoint struct {
	Distance float64 `json:"distance"` // cm
	Bearing  float64 `json:"bearing"`  // degrees, positive = right
	// SpeedLimit caps the throttle magnitude when positive.
	SpeedLimit float64 `json:"speed_limit,omitempty"`
}

// Mode tells whether the PID loops or a scripted sequence drive the actuators.
type Mode int

const (
	ClosedLoop Mode = iota
	Scripted
)

func (m Mode) String() string {
	if m == Scripted {
		return "scripted"
	}
	return "closed-loop"
}

// Status is a telemetry snapshot.
type Status struct {
	Mode      string    `json:"mode"`
	Waypoint  Waypoint  `json:"waypoint"`
	Steering  float64   `json:"steering"`
	Throttle  float64   `json:"throttle"`
	Auxiliary float64   `json:"auxiliary"`
	Sequence  string    `json:"sequence,omitempty"`
	Heading   pid.State `json:"heading_pid"`
	Speed     pid.State `json:"speed_pid"`
}

// Controller owns the waypoint, both PID loops and the scripted-sequence
// cursor. It is driven from a single control loop and is not safe for
// concurrent use.
type Controller struct {
	cfg     Config
	act     Actuators
	logger  *slog.Logger
	heading *pid.Controller
	speed   *pid.Controller

	waypoint  Waypoint
	mode      Mode
	steering  float64
	throttle  float64
	auxiliary float64

	lastLoop time.Time

	// scripted cursor
	seq       Sequence
	step      int
	stepStart time.Time

	sleep func(time.Duration)
}

// NewController creates a motion controller in closed-loop mode.
func NewController(cfg Config, act Actuators) (*Controller, error) {
	heading, err := pid.New(pid.Config{
		Gains:      cfg.Heading,
		Limits:     pid.Symmetric(cfg.MaxSteering),
		SampleTime: cfg.SampleTime,
		ErrorMap:   pid.WrapDegrees,
	})
	if err != nil {
		return nil, fmt.Errorf("heading pid: %w", err)
	}
	speed, err := pid.New(pid.Config{
		Gains:      cfg.Speed,
		Limits:     pid.Symmetric(cfg.MaxThrottle),
		SampleTime: cfg.SampleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("speed pid: %w", err)
	}
	return &Controller{
		cfg:     cfg,
		act:     act,
		logger:  log.Component("motion"),
		heading: heading,
		speed:   speed,
		sleep:   time.Sleep,
	}, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// SetWaypoint replaces the current objective.
func (c *Controller) SetWaypoint(w Waypoint) {
	c.waypoint = w
}

// Waypoint returns the current objective.
func (c *Controller) Waypoint() Waypoint { return c.waypoint }

// Mode returns the active control mode.
func (c *Controller) Mode() Mode { return c.mode }

// Throttle returns the last dispatched throttle.
func (c *Controller) Throttle() float64 { return c.throttle }

// Steering returns the last dispatched steering.
func (c *Controller) Steering() float64 { return c.steering }

// Discontinuity resets both loops so a jump in the objective does not
// produce integral or derivative kick.
func (c *Controller) Discontinuity() {
	c.lastLoop = time.Time{}
	c.heading.Reset()
	c.speed.Reset()
}

// SetGains replaces the loop gains at runtime.
func (c *Controller) SetGains(heading, speed pid.Gains) {
	c.heading.SetGains(heading)
	c.speed.SetGains(speed)
	c.cfg.Heading = heading
	c.cfg.Speed = speed
}

// Update runs one control cycle. In closed-loop mode both loops are
// evaluated against the waypoint; in scripted mode the sequence cursor
// advances. Only an invalid control step is returned as an error, in
// which case the previous command is held.
func (c *Controller) Update(now time.Time) error {
	if c.mode == Scripted {
		c.advance(now)
		return nil
	}
	return c.closedLoop(now)
}

func (c *Controller) closedLoop(now time.Time) error {
	if c.waypoint == (Waypoint{}) {
		c.hold()
		return nil
	}

	sample := c.cfg.SampleTime
	if sample <= 0 {
		sample = pid.DefaultSampleTime
	}
	dt := sample
	if !c.lastLoop.IsZero() {
		dt = now.Sub(c.lastLoop)
		// Cycles shorter than the sample time keep the last command and
		// accumulate toward the next effective step.
		if dt > 0 && dt < c.cfg.SampleTime {
			return nil
		}
	}

	// Measurements are negated so the loop output has the sign of the
	// waypoint: positive bearing steers right, positive distance drives forward.
	steer, errH := c.heading.UpdateDt(-c.waypoint.Bearing, dt)
	thr, errS := c.speed.UpdateDt(-c.waypoint.Distance, dt)
	if err := errors.Join(errH, errS); err != nil {
		return err
	}
	c.lastLoop = now
	if lim := c.waypoint.SpeedLimit; lim > 0 {
		thr = pid.Clamp(thr, -lim, lim)
	}
	c.dispatch(steer, thr)
	return nil
}

// hold stops the robot and drops all loop state, integral included, so
// the next objective starts clean.
func (c *Controller) hold() {
	c.lastLoop = time.Time{}
	c.heading.Clear()
	c.speed.Clear()
	c.dispatch(0, 0)
}

// Start begins a scripted sequence without blocking. Update advances it and
// restores closed-loop mode when the last step has elapsed.
func (c *Controller) Start(seq Sequence, now time.Time) {
	c.seq = seq
	c.step = 0
	c.stepStart = now
	c.mode = Scripted
	c.logger.Debug("sequence started", "name", seq.Name, "steps", len(seq.Steps), "duration", seq.Duration())
	c.applyStep()
}

// Running reports whether a scripted sequence is in progress.
func (c *Controller) Running() bool { return c.mode == Scripted }

func (c *Controller) advance(now time.Time) {
	for c.step < len(c.seq.Steps) && now.Sub(c.stepStart) >= c.seq.Steps[c.step].Duration {
		c.stepStart = c.stepStart.Add(c.seq.Steps[c.step].Duration)
		c.step++
	}
	c.applyStep()
}

func (c *Controller) applyStep() {
	if c.step >= len(c.seq.Steps) {
		c.finish()
		return
	}
	st := c.seq.Steps[c.step]
	c.dispatch(st.Steering, st.Throttle)
}

// finish returns to closed-loop control with zeroed actuators.
func (c *Controller) finish() {
	name := c.seq.Name
	c.seq = Sequence{}
	c.step = 0
	c.mode = ClosedLoop
	c.Discontinuity()
	c.dispatch(0, 0)
	c.logger.Debug("sequence finished", "name", name)
}

// RunBlocking applies seq step by step, sleeping for each step. It always
// runs to completion and always restores closed-loop mode with zeroed
// actuators, even if an actuator call panics.
func (c *Controller) RunBlocking(seq Sequence) {
	c.seq = seq
	c.mode = Scripted
	defer c.finish()

	for i, st := range seq.Steps {
		c.step = i
		c.dispatch(st.Steering, st.Throttle)
		c.sleep(st.Duration)
	}
}

// MoveStraight blocks while driving distance centimetres straight.
func (c *Controller) MoveStraight(distance float64) {
	c.RunBlocking(c.cfg.StraightSequence(distance))
}

// Spin blocks while turning by angle degrees.
func (c *Controller) Spin(angle float64) {
	c.RunBlocking(c.cfg.SpinSequence(angle))
}

// Halt clears the waypoint and zeroes steering and throttle. A running
// sequence is not cancelled; it zeroes the actuators itself when it ends.
func (c *Controller) Halt() {
	c.waypoint = Waypoint{}
	if c.mode == Scripted {
		return
	}
	c.Discontinuity()
	c.dispatch(0, 0)
}

// SetAuxiliary drives the auxiliary actuator (collector), clamped to ±100.
func (c *Controller) SetAuxiliary(percent float64) {
	p := pid.Clamp(percent, -100, 100)
	c.auxiliary = p
	if c.act == nil {
		return
	}
	if err := c.act.SetAuxiliary(p); err != nil {
		c.logger.Warn("auxiliary command failed", "error", err)
	}
}

// Auxiliary returns the last auxiliary command.
func (c *Controller) Auxiliary() float64 { return c.auxiliary }

// dispatch clamps and sends the command.
func (c *Controller) dispatch(steering, throttle float64) {
	if math.IsNaN(steering) {
		steering = 0
	}
	if math.IsNaN(throttle) {
		throttle = 0
	}
	c.steering = pid.Clamp(steering, -c.cfg.MaxSteering, c.cfg.MaxSteering)
	c.throttle = pid.Clamp(throttle, -c.cfg.MaxThrottle, c.cfg.MaxThrottle)
	if c.act == nil {
		return
	}
	if err := c.act.SetSteering(c.steering); err != nil {
		c.logger.Warn("steering command failed", "error", err)
	}
	if err := c.act.SetThrottle(c.throttle); err != nil {
		c.logger.Warn("throttle command failed", "error", err)
	}
}

// Status returns a telemetry snapshot.
func (c *Controller) Status() Status {
	return Status{
		Mode:      c.mode.String(),
		Waypoint:  c.waypoint,
		Steering:  c.steering,
		Throttle:  c.throttle,
		Auxiliary: c.auxiliary,
		Sequence:  c.seq.Name,
		Heading:   c.heading.State(),
		Speed:     c.speed.State(),
	}
}

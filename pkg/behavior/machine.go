package behavior

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/librescoot/librefsm"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/motion"
	"github.com/teslashibe/go-rover/pkg/pid"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// Driver is the part of the motion controller the state machine commands
// directly. *motion.Controller satisfies it.
type Driver interface {
	Start(seq motion.Sequence, now time.Time)
	Running() bool
	Halt()
	Discontinuity()
	SetAuxiliary(percent float64)
}

var _ Driver = (*motion.Controller)(nil)

// HomeGuide is an estimate of the base position relative to the robot,
// available when the arena pose is reliable.
type HomeGuide struct {
	Distance float64 // cm
	Bearing  float64 // degrees off the current heading, positive = right
}

// Input is everything the machine reads in one cycle.
type Input struct {
	Now       time.Time
	Frame     vision.Frame
	Remaining time.Duration
	Motion    motion.Motion
	Guide     *HomeGuide
}

// Transition records one state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Snapshot is a telemetry view of the machine.
type Snapshot struct {
	State     State           `json:"state"`
	Prior     State           `json:"prior"`
	EnteredAt time.Time       `json:"entered_at"`
	Waypoint  motion.Waypoint `json:"waypoint"`
	Target    *vision.Target  `json:"target,omitempty"`
	LastSide  string          `json:"last_side"`
	Maneuver  int             `json:"maneuver"`
}

// Machine is the robot behavior state machine. It is owned by the control
// loop and is not safe for concurrent use. Transitions are declared in a
// librefsm definition and driven synchronously from the loop.
type Machine struct {
	cfg      Config
	geometry *vision.Geometry
	driver   Driver
	hooks    Hooks
	catalog  *motion.Catalog
	logger   *slog.Logger

	fsm    *librefsm.Machine
	cancel context.CancelFunc
	permit func() bool

	state     State
	prior     State
	enteredAt time.Time
	waypoint  motion.Waypoint
	target    *vision.Target
	lastSeen  time.Time
	lastSide  vision.Side
	maneuver  int

	observer func(Transition)
}

// New creates a machine that will start in the Waiting state once Init
// is called.
func New(cfg Config, geometry *vision.Geometry, driver Driver, catalog *motion.Catalog, hooks Hooks) (*Machine, error) {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if catalog == nil {
		catalog = motion.DefaultCatalog()
	}
	m := &Machine{
		cfg:      cfg,
		geometry: geometry,
		driver:   driver,
		hooks:    hooks,
		catalog:  catalog,
		logger:   log.Component("behavior"),
		state:    Waiting,
		prior:    Waiting,
		maneuver: -1,
	}
	fsm, err := m.definition().Build(librefsm.WithLogger(log.Component("fsm")))
	if err != nil {
		return nil, fmt.Errorf("behavior: %w", err)
	}
	m.fsm = fsm
	return m, nil
}

// OnTransition registers fn to be called after every state change.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.observer = fn
}

// SetStartGate installs a check consulted before a start is honoured,
// typically whether the match controller has claimed the robot.
func (m *Machine) SetStartGate(fn func() bool) {
	m.permit = fn
}

// Init enters the initial state and runs its entry actions.
func (m *Machine) Init(now time.Time) error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := m.fsm.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("behavior: %w", err)
	}
	m.cancel = cancel
	m.enteredAt = now
	return nil
}

// Close stops the event loop. Later events are ignored.
func (m *Machine) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.cancel = nil
	if err := m.fsm.Stop(); err != nil {
		m.logger.Warn("stop state machine", "error", err)
	}
}

// fire delivers one event and waits for its transition, if any, to finish.
func (m *Machine) fire(ev librefsm.EventID, in Input) {
	if m.cancel == nil {
		return
	}
	if err := m.fsm.SendSync(librefsm.Event{ID: ev, Payload: in}); err != nil {
		m.logger.Error("transition failed", "event", ev, "state", m.state, "error", err)
	}
}

// State returns the active state.
func (m *Machine) State() State { return m.state }

// Waypoint returns the last emitted waypoint.
func (m *Machine) Waypoint() motion.Waypoint { return m.waypoint }

// Config returns the machine configuration.
func (m *Machine) Config() Config { return m.cfg }

// SetTracking updates the turn-in gain and deadband at runtime.
func (m *Machine) SetTracking(gain, deadband float64) {
	if gain > 0 {
		m.cfg.TrackGain = gain
	}
	if deadband >= 0 {
		m.cfg.TrackDeadband = deadband
	}
}

// Start begins collecting. It is honoured from Waiting, Stopped and AtHome
// when the start gate, if any, allows it.
func (m *Machine) Start(now time.Time) bool {
	before := m.state
	m.fire(evStart, Input{Now: now})
	return m.state != before
}

// Stop moves to Stopped from any state.
func (m *Machine) Stop(now time.Time) {
	m.fire(evStop, Input{Now: now})
}

// Arm returns a stopped robot to Waiting once the controller has taken
// charge again.
func (m *Machine) Arm(now time.Time) {
	m.fire(evObey, Input{Now: now})
}

// Danger sends a collecting robot home when HomeOnDanger is set. An escape
// maneuver in progress resumes toward home instead.
func (m *Machine) Danger(now time.Time) bool {
	if m.state == Unblocking && m.prior.collecting() && m.cfg.HomeOnDanger {
		m.prior = SearchingHome
		return true
	}
	before := m.state
	m.fire(evDanger, Input{Now: now})
	return m.state != before
}

// Step evaluates one cycle: forced transitions first, then sensing, then
// the waypoint for the resulting state.
func (m *Machine) Step(in Input) motion.Waypoint {
	m.forced(in)
	m.sense(in)
	m.waypoint = m.nextWaypoint(in)
	return m.waypoint
}

func (m *Machine) forced(in Input) {
	if m.state == Unblocking && m.prior.collecting() && in.Remaining < m.cfg.GoHomeBefore {
		m.prior = SearchingHome
	}
	m.fire(evTime, in)
	m.fire(evStall, in)
}

func (m *Machine) sense(in Input) {
	switch m.state {
	case SearchingTargets:
		if m.acquire(in) {
			m.fire(evTarget, in)
		}

	case TrackingTarget:
		if !m.acquire(in) {
			m.fire(evLost, in)
		}

	case SearchingHome:
		if m.home(in) {
			m.fire(evMarker, in)
		}

	case GoingHome:
		if !m.home(in) {
			m.fire(evMarkerLost, in)
		} else {
			m.fire(evArrived, in)
		}

	case Unblocking:
		m.fire(evManeuverDone, in)
	}
}

// acquire selects the best ball in the frame.
func (m *Machine) acquire(in Input) bool {
	t, obj, ok := m.geometry.Select(vision.Ball, in.Frame.Balls)
	if !ok {
		m.target = nil
		return false
	}
	m.target = &t
	m.lastSeen = in.Now
	m.lastSide = m.geometry.Camera.Side(obj.X)
	return true
}

// home looks for the home marker in the frame.
func (m *Machine) home(in Input) bool {
	obj, ok := in.Frame.Marker(m.cfg.HomeMarkerID)
	if !ok {
		m.target = nil
		return false
	}
	t := m.geometry.Target(obj)
	if math.IsInf(t.Distance, 1) {
		m.target = nil
		return false
	}
	m.target = &t
	m.lastSide = m.geometry.Camera.Side(obj.X)
	return true
}

func (m *Machine) nextWaypoint(in Input) motion.Waypoint {
	switch m.state {
	case TrackingTarget:
		if m.target == nil {
			return m.waypoint
		}
		return motion.Waypoint{
			Distance: m.target.Distance,
			Bearing:  m.sharpen(m.target.Bearing, m.target.Distance),
		}

	case SearchingTargets:
		if in.Now.Sub(m.enteredAt) < m.cfg.SpinDelay {
			return motion.Waypoint{}
		}
		return m.spin()

	case SearchingHome:
		if g := in.Guide; g != nil {
			return motion.Waypoint{Distance: g.Distance, Bearing: pid.WrapDegrees(g.Bearing)}
		}
		if in.Now.Sub(m.enteredAt) < m.cfg.SpinDelay {
			return motion.Waypoint{}
		}
		return m.spin()

	case GoingHome:
		if m.target == nil {
			return motion.Waypoint{}
		}
		w := motion.Waypoint{Distance: m.target.Distance, Bearing: m.target.Bearing}
		if m.target.Distance < m.cfg.HomeSlowDistance {
			w.SpeedLimit = m.cfg.HomeSpeedLimit
			w.Bearing = m.sharpen(w.Bearing, 0)
		}
		return w

	default:
		return motion.Waypoint{}
	}
}

// sharpen applies the turn-in gain to an off-axis bearing of a near target.
func (m *Machine) sharpen(bearing, distance float64) float64 {
	if math.Abs(bearing) > m.cfg.TrackDeadband && distance < m.cfg.TrackNearDistance {
		return pid.Clamp(bearing*m.cfg.TrackGain, -180, 180)
	}
	return bearing
}

// spin turns toward the side the last object was seen on, left by default.
func (m *Machine) spin() motion.Waypoint {
	b := -m.cfg.SearchBearing
	if m.lastSide == vision.Right {
		b = m.cfg.SearchBearing
	}
	return motion.Waypoint{Distance: m.cfg.SearchDistance, Bearing: b}
}

// Snapshot returns a telemetry view.
func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		State:     m.state,
		Prior:     m.prior,
		EnteredAt: m.enteredAt,
		Waypoint:  m.waypoint,
		LastSide:  m.lastSide.String(),
		Maneuver:  m.maneuver,
	}
	if m.target != nil {
		t := *m.target
		s.Target = &t
	}
	return s
}

// Package rover runs the autonomous control loop: it drains controller
// commands, refreshes the detector, reads the IMU, steps the behavior
// state machine and drives the motion controller, all on one goroutine.
package rover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/arena"
	"github.com/teslashibe/go-rover/pkg/behavior"
	"github.com/teslashibe/go-rover/pkg/game"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/motion"
	"github.com/teslashibe/go-rover/pkg/pid"
	"github.com/teslashibe/go-rover/pkg/robot"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// IMU provides the compass heading and planar acceleration.
type IMU interface {
	Heading() float64               // compass degrees, 0 = north
	Acceleration() (ax, ay float64) // mg
}

// Telemetry is the status snapshot published to the dashboard.
type Telemetry struct {
	At           time.Time         `json:"at"`
	State        behavior.State    `json:"state"`
	Behavior     behavior.Snapshot `json:"behavior"`
	Motion       motion.Status     `json:"motion"`
	Movement     string            `json:"movement"`
	Session      game.Snapshot     `json:"session"`
	Pose         arena.Pose        `json:"pose"`
	PoseReliable bool              `json:"pose_reliable"`
	Heading      float64           `json:"heading"`
	Detector     string            `json:"detector"`
	Balls        int               `json:"balls"`
	Markers      int               `json:"markers"`
	Explored     int               `json:"explored"` // grid cells driven over
	LastCue      string            `json:"last_cue"`
}

// Rover owns every core component. Apart from the inbox, telemetry and
// tuning accessors it is driven only from Run.
type Rover struct {
	cfg      Config
	detector vision.Detector
	imu      IMU
	tilt     robot.TiltController

	geometry  *vision.Geometry
	motion    *motion.Controller
	stall     *motion.StallDetector
	machine   *behavior.Machine
	session   *game.Session
	estimator *arena.Estimator
	grid      *arena.Grid
	inbox     *game.Inbox
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// OnTelemetry is called from the loop every telemetry interval.
	OnTelemetry func(Telemetry)

	mu        sync.RWMutex
	telemetry Telemetry

	tuneMu      sync.Mutex
	tuning      TuningParams
	tunePending bool

	mode        vision.Mode
	frame       vision.Frame
	movement    motion.Motion
	cue         behavior.Cue
	lastDetWarn time.Time
	detFailures int
}

// New wires the core components. drive receives every actuator command;
// if it also implements robot.TiltController the camera tilt follows the
// active state. m may be nil.
func New(cfg Config, detector vision.Detector, imu IMU, drive motion.Actuators, m *metrics.Metrics) (*Rover, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rover config: %w", err)
	}
	if detector == nil || imu == nil || drive == nil {
		return nil, errors.New("rover: detector, imu and drive are required")
	}
	if m == nil {
		m = metrics.New()
	}

	geometry := vision.DefaultGeometry()
	geometry.Camera = cfg.Camera

	mc, err := motion.NewController(cfg.Motion, drive)
	if err != nil {
		return nil, fmt.Errorf("motion: %w", err)
	}

	r := &Rover{
		cfg:       cfg,
		detector:  detector,
		imu:       imu,
		geometry:  geometry,
		motion:    mc,
		stall:     motion.NewStallDetector(cfg.Motion),
		session:   game.NewSession(cfg.Game),
		estimator: arena.NewEstimator(cfg.Arena, geometry),
		grid:      arena.NewGrid(cfg.Arena.Layout, arena.DefaultResolution),
		inbox:     game.NewInbox(),
		metrics:   m,
		logger:    log.Component("rover"),
		tuning:    tuningFrom(cfg),
	}
	if t, ok := drive.(robot.TiltController); ok {
		r.tilt = t
	}

	r.machine, err = behavior.New(cfg.Behavior, geometry, mc, motion.DefaultCatalog(), hooks{r})
	if err != nil {
		return nil, err
	}
	r.machine.OnTransition(r.transition)
	r.machine.SetStartGate(func() bool { return r.session.Mode() == game.Slave })
	if err := r.machine.Init(time.Now()); err != nil {
		return nil, err
	}
	m.State.Store(int64(r.machine.State()))
	return r, nil
}

// Inbox is where controller transports post command events.
func (r *Rover) Inbox() *game.Inbox { return r.inbox }

// Session returns the match session.
func (r *Rover) Session() *game.Session { return r.session }

// Grid returns the occupancy grid charted from reliable poses.
func (r *Rover) Grid() *arena.Grid { return r.grid }

// Estimator returns the arena position estimator.
func (r *Rover) Estimator() *arena.Estimator { return r.estimator }

// Command parses a command word and posts it on behalf of source.
func (r *Rover) Command(name, source string) error {
	cmd, err := game.ParseCommand(name)
	if err != nil {
		return err
	}
	r.inbox.Post(game.Event{Command: cmd, At: time.Now(), Source: source})
	return nil
}

// Telemetry returns the last published snapshot.
func (r *Rover) Telemetry() Telemetry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.telemetry
}

// Run drives the loop until ctx is done. The actuators are halted on exit
// and the behavior machine is closed, so a rover runs at most once.
func (r *Rover) Run(ctx context.Context) error {
	loop := time.NewTicker(r.cfg.Period)
	telemetry := time.NewTicker(r.cfg.TelemetryInterval)
	countdown := time.NewTicker(r.cfg.CountdownInterval)
	survey := time.NewTicker(r.cfg.SurveyInterval)
	status := time.NewTicker(r.cfg.StatusInterval)
	defer loop.Stop()
	defer telemetry.Stop()
	defer countdown.Stop()
	defer survey.Stop()
	defer status.Stop()
	defer r.machine.Close()
	defer r.halt()

	r.logger.Info("control loop started",
		"period", r.cfg.Period,
		"match", r.session.Duration(),
		"mode", r.session.Mode(),
		"usable_markers", r.cfg.Arena.Layout.Resolve().Len())

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("control loop stopped")
			return ctx.Err()

		case now := <-loop.C:
			r.tick(ctx, now)

		case now := <-telemetry.C:
			r.publish(now)

		case now := <-countdown.C:
			r.countdown(now)

		case now := <-survey.C:
			if r.cfg.Survey {
				r.survey(ctx, now)
			}

		case now := <-status.C:
			r.logStatus(now)
		}
	}
}

// tick is one perception, decision and actuation cycle.
func (r *Rover) tick(ctx context.Context, now time.Time) {
	start := time.Now()

	r.applyTuning()
	r.drain(now)

	frame, err := r.detector.Refresh(ctx)
	if err != nil {
		r.detectorFailed(err, now)
		frame = vision.Frame{At: now}
	} else {
		r.detFailures = 0
	}

	heading := r.imu.Heading()
	ax, ay := r.imu.Acceleration()
	r.movement = r.stall.Observe(r.motion.Throttle(), ax, ay, now)

	if len(frame.Markers) > 0 {
		r.estimator.Update(frame.Markers, heading, now)
	}
	r.chart(now, heading)

	w := r.machine.Step(behavior.Input{
		Now:       now,
		Frame:     frame,
		Remaining: r.session.Remaining(now),
		Motion:    r.movement,
		Guide:     r.guide(now, heading),
	})
	r.motion.SetWaypoint(w)
	if err := r.motion.Update(now); err != nil {
		r.logger.Debug("motion update skipped", "error", err)
	}

	r.frame = frame
	r.metrics.ObserveLoop(time.Since(start), r.cfg.Period)
}

// bumperReach is how far ahead of the pose a blocked drive marks the grid.
const bumperReach = 15.0 // cm

// chart marks the cell under a reliable pose free, and the cell ahead of
// the bumper occupied while the drive is blocked.
func (r *Rover) chart(now time.Time, heading float64) {
	if !r.estimator.Reliable(now) {
		return
	}
	p := r.estimator.Pose()
	r.grid.MarkFree(p.X, p.Y)
	if r.movement == motion.Blocked {
		rad := heading * math.Pi / 180
		r.grid.MarkObstacle(p.X+bumperReach*math.Sin(rad), p.Y+bumperReach*math.Cos(rad))
	}
}

// drain applies the latest controller command, if any.
func (r *Rover) drain(now time.Time) {
	ev, ok := r.inbox.Drain()
	if !ok {
		return
	}
	r.metrics.Commands.WithLabelValues(ev.Command.String(), ev.Source).Inc()
	r.logger.Info("controller command", "command", ev.Command, "source", ev.Source)

	switch ev.Command {
	case game.Obey:
		r.session.Obey()
		r.machine.Arm(now)
	case game.Start:
		if !r.machine.Start(now) {
			r.logger.Warn("start ignored",
				"state", r.machine.State(), "mode", r.session.Mode())
			return
		}
		r.session.Start(now)
	case game.Stop:
		r.session.Stop()
		r.machine.Stop(now)
	case game.Danger:
		r.session.SetDanger()
		r.machine.Danger(now)
	}
}

// guide points at base camp when the arena pose can be trusted.
func (r *Rover) guide(now time.Time, heading float64) *behavior.HomeGuide {
	if !r.estimator.Reliable(now) {
		return nil
	}
	return &behavior.HomeGuide{
		Distance: r.estimator.DistanceToBase(),
		Bearing:  pid.WrapDegrees(r.estimator.BearingToBase() - heading),
	}
}

func (r *Rover) detectorFailed(err error, now time.Time) {
	r.metrics.DetectorErrors.Add(1)
	r.detFailures++
	if now.Sub(r.lastDetWarn) >= 5*time.Second {
		r.logger.Warn("detector refresh failed", "error", err, "consecutive", r.detFailures)
		r.lastDetWarn = now
	}
}

// countdown stops the robot when the match clock runs out.
func (r *Rover) countdown(now time.Time) {
	if r.session.CheckExpired(now) {
		r.logger.Info("match time over")
		r.machine.Stop(now)
	}
}

// survey looks for wall markers once, then restores the detector mode.
func (r *Rover) survey(ctx context.Context, now time.Time) {
	sw, ok := r.detector.(vision.ModeSwitcher)
	if !ok || r.mode == vision.ModeTag || !r.machine.State().Active() {
		return
	}
	if err := sw.SetMode(vision.ModeTag); err != nil {
		r.logger.Debug("survey skipped", "error", err)
		return
	}
	frame, err := r.detector.Refresh(ctx)
	if err := sw.SetMode(r.mode); err != nil {
		r.logger.Warn("detector mode restore failed", "mode", r.mode, "error", err)
	}
	if err != nil {
		r.detectorFailed(err, now)
		return
	}
	if len(frame.Markers) == 0 {
		return
	}
	pose := r.estimator.Update(frame.Markers, r.imu.Heading(), now)
	r.logger.Debug("marker survey", "markers", len(frame.Markers),
		"x", pose.X, "y", pose.Y, "confidence", pose.Confidence)
}

// publish snapshots the loop for the dashboard and metrics.
func (r *Rover) publish(now time.Time) {
	t := Telemetry{
		At:           now,
		State:        r.machine.State(),
		Behavior:     r.machine.Snapshot(),
		Motion:       r.motion.Status(),
		Movement:     r.movement.String(),
		Session:      r.session.Snapshot(now),
		Pose:         r.estimator.Pose(),
		PoseReliable: r.estimator.Reliable(now),
		Heading:      r.imu.Heading(),
		Detector:     r.mode.String(),
		Balls:        len(r.frame.Balls),
		Markers:      len(r.frame.Markers),
		Explored:     r.grid.Count(arena.Free),
		LastCue:      r.cue.String(),
	}

	r.mu.Lock()
	r.telemetry = t
	r.mu.Unlock()

	r.metrics.SetRemaining(t.Session.Remaining)
	r.metrics.SetPoseConfidence(t.Pose.Confidence)

	if r.OnTelemetry != nil {
		r.OnTelemetry(t)
	}
}

func (r *Rover) logStatus(now time.Time) {
	snap := r.session.Snapshot(now)
	r.logger.Info("status",
		"game", snap.State,
		"mode", snap.Mode,
		"remaining", snap.Remaining.Round(time.Second),
		"state", r.machine.State(),
		"movement", r.movement)
}

// transition records state changes in metrics.
func (r *Rover) transition(t behavior.Transition) {
	r.metrics.State.Store(int64(t.To))
	r.metrics.States.WithLabelValues(t.To.String()).Inc()
	if t.To == behavior.Unblocking {
		r.metrics.Stalls.Add(1)
	}
}

// halt stops the drive when the loop exits.
func (r *Rover) halt() {
	r.motion.Halt()
	r.motion.SetAuxiliary(0)
}

// hooks routes state entry side effects to the detector, tilt servo and log.
type hooks struct{ r *Rover }

var _ behavior.Hooks = hooks{}

func (h hooks) SetDetectorMode(m vision.Mode) {
	h.r.mode = m
	sw, ok := h.r.detector.(vision.ModeSwitcher)
	if !ok {
		return
	}
	if err := sw.SetMode(m); err != nil {
		h.r.logger.Warn("detector mode change failed", "mode", m, "error", err)
	}
}

func (h hooks) SetCameraTilt(degrees float64) {
	if h.r.tilt == nil {
		return
	}
	if err := h.r.tilt.SetTilt(degrees); err != nil {
		h.r.metrics.DriveErrors.Add(1)
		h.r.logger.Warn("camera tilt failed", "degrees", degrees, "error", err)
	}
}

func (h hooks) Cue(c behavior.Cue) {
	h.r.cue = c
	h.r.logger.Info("cue", "cue", c)
}

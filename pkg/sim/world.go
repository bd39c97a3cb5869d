// Package sim is a bench simulation of the arena: a bicycle-model rover,
// loose balls and wall markers. A World stands in for the camera
// detector, the compass/accelerometer and the drive daemon so the control
// loop can run without hardware.
package sim

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/arena"
	"github.com/teslashibe/go-rover/pkg/pid"
	"github.com/teslashibe/go-rover/pkg/robot"
	"github.com/teslashibe/go-rover/pkg/vision"
)

// Point is a position in arena coordinates (cm from the centre, +Y north).
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Config describes the simulated robot and field.
type Config struct {
	Layout     arena.Layout `json:"layout" yaml:"layout"`
	Balls      []Point      `json:"balls" yaml:"balls"`
	Start      Point        `json:"start" yaml:"start"`
	Heading    float64      `json:"heading" yaml:"heading"`         // compass degrees
	TopSpeed   float64      `json:"top_speed" yaml:"top_speed"`     // cm/s at full throttle
	Wheelbase  float64      `json:"wheelbase" yaml:"wheelbase"`     // cm
	Radius     float64      `json:"radius" yaml:"radius"`           // body radius, cm
	Vibration  float64      `json:"vibration" yaml:"vibration"`     // mg reported while rolling
	CollectAt  float64      `json:"collect_at" yaml:"collect_at"`   // cm, ball capture distance
	CollectFOV float64      `json:"collect_fov" yaml:"collect_fov"` // degrees either side of the nose
}

// Layout returns a field with one marker at the middle of each wall and
// the home marker in the south-west corner.
func Layout() arena.Layout {
	hw, hh := arena.DefaultWidth/2, arena.DefaultHeight/2
	return arena.Layout{
		Width:  arena.DefaultWidth,
		Height: arena.DefaultHeight,
		Markers: []arena.MarkerPosition{
			{ID: vision.MarkerNorth, X: 0, Y: hh, Cardinal: "N"},
			{ID: vision.MarkerEast, X: hw, Y: 0, Cardinal: "E"},
			{ID: vision.MarkerSouth, X: 0, Y: -hh, Cardinal: "S"},
			{ID: vision.MarkerWest, X: -hw, Y: 0, Cardinal: "W"},
		},
		Base: arena.MarkerPosition{ID: vision.MarkerHome, X: -hw, Y: -hh, Cardinal: "Base"},
	}
}

// DefaultConfig returns a field with six balls and the rover in the centre
// facing north.
func DefaultConfig() Config {
	return Config{
		Layout: Layout(),
		Balls: []Point{
			{X: 0, Y: 40}, {X: 30, Y: 30}, {X: -35, Y: 20},
			{X: 45, Y: -20}, {X: -20, Y: -40}, {X: 10, Y: -10},
		},
		TopSpeed:   60,
		Wheelbase:  15,
		Radius:     8,
		Vibration:  300,
		CollectAt:  12,
		CollectFOV: 25,
	}
}

// World is the simulated field. It implements vision.Detector,
// vision.ModeSwitcher, the rover IMU, motion.Actuators and
// robot.CommandController. It is safe for concurrent use.
type World struct {
	cfg      Config
	geometry *vision.Geometry
	logger   *slog.Logger

	mu        sync.Mutex
	pos       Point
	heading   float64
	balls     []Point
	collected int
	cmd       robot.Command
	mode      vision.Mode
	bumped    bool
	clock     time.Time
}

var (
	_ vision.Detector         = (*World)(nil)
	_ vision.ModeSwitcher     = (*World)(nil)
	_ robot.CommandController = (*World)(nil)
	_ robot.TiltController    = (*World)(nil)
)

// New creates a world seen through geometry.
func New(cfg Config, geometry *vision.Geometry) *World {
	if geometry == nil {
		geometry = vision.DefaultGeometry()
	}
	return &World{
		cfg:      cfg,
		geometry: geometry,
		logger:   log.Component("sim"),
		pos:      cfg.Start,
		heading:  compass(cfg.Heading),
		balls:    append([]Point(nil), cfg.Balls...),
	}
}

// Run advances the world every period until ctx is done.
func (w *World) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step(period)
		}
	}
}

// Step integrates the drive command over dt.
func (w *World) Step(dt time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	secs := dt.Seconds()
	w.clock = w.clock.Add(dt)
	v := w.cmd.Throttle / 100 * w.cfg.TopSpeed
	steer := w.cmd.Steering * math.Pi / 180
	if w.cfg.Wheelbase > 0 {
		w.heading = compass(w.heading + v/w.cfg.Wheelbase*math.Tan(steer)*secs*180/math.Pi)
	}

	h := w.heading * math.Pi / 180
	next := Point{X: w.pos.X + v*math.Sin(h)*secs, Y: w.pos.Y + v*math.Cos(h)*secs}
	limX := w.cfg.Layout.Width/2 - w.cfg.Radius
	limY := w.cfg.Layout.Height/2 - w.cfg.Radius
	clamped := Point{X: pid.Clamp(next.X, -limX, limX), Y: pid.Clamp(next.Y, -limY, limY)}
	w.bumped = v != 0 && clamped != next
	w.pos = clamped

	if w.cmd.Auxiliary > 0 {
		w.collect()
	}
}

func (w *World) collect() {
	kept := w.balls[:0]
	for _, b := range w.balls {
		d, bearing := w.polar(b)
		if d <= w.cfg.CollectAt && math.Abs(bearing) <= w.cfg.CollectFOV {
			w.collected++
			w.logger.Info("ball collected", "x", b.X, "y", b.Y, "total", w.collected)
			continue
		}
		kept = append(kept, b)
	}
	w.balls = kept
}

// polar returns the distance and robot-relative bearing to p.
func (w *World) polar(p Point) (float64, float64) {
	dx, dy := p.X-w.pos.X, p.Y-w.pos.Y
	abs := math.Atan2(dx, dy) * 180 / math.Pi
	return math.Hypot(dx, dy), pid.WrapDegrees(abs - w.heading)
}

// Refresh renders what the camera sees in the current mode.
func (w *World) Refresh(ctx context.Context) (vision.Frame, error) {
	if err := ctx.Err(); err != nil {
		return vision.Frame{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	f := vision.Frame{At: w.clock}
	switch w.mode {
	case vision.ModeTag:
		for _, m := range w.cfg.Layout.Markers {
			if o, ok := w.marker(m); ok {
				f.Markers = append(f.Markers, o)
			}
		}
		if o, ok := w.marker(w.cfg.Layout.Base); ok {
			f.Markers = append(f.Markers, o)
		}
	default:
		for _, b := range w.balls {
			if o, ok := w.ball(b); ok {
				f.Balls = append(f.Balls, o)
			}
		}
	}
	return f, nil
}

// ball projects a floor point into the image, inverting the planar
// distance from the projection origin.
func (w *World) ball(p Point) (vision.DetectedObject, bool) {
	cam := w.geometry.Camera
	d, bearing := w.polar(p)
	if math.Abs(bearing) > cam.FOV/2 {
		return vision.DetectedObject{}, false
	}
	scale := w.geometry.Calibrations[vision.Ball].Scale
	if scale <= 0 {
		scale = 1
	}
	px := d / scale
	x := (bearing + cam.FOV/2) * cam.Width / cam.FOV
	dx := x - cam.OriginX
	if px < math.Abs(dx) {
		return vision.DetectedObject{}, false
	}
	y := cam.OriginY - math.Sqrt(px*px-dx*dx)
	if y < 0 {
		return vision.DetectedObject{}, false
	}
	return vision.DetectedObject{
		X: x, Y: y, W: 12, H: 12,
		ClassID:  vision.ColorRed,
		Kind:     vision.Ball,
		LastSeen: w.clock,
	}, true
}

// marker renders a wall marker sized by the inverse-size calibration.
func (w *World) marker(m arena.MarkerPosition) (vision.DetectedObject, bool) {
	cam := w.geometry.Camera
	d, bearing := w.polar(Point{X: m.X, Y: m.Y})
	if d <= 0 || math.Abs(bearing) > cam.FOV/2 {
		return vision.DetectedObject{}, false
	}
	k := w.geometry.Calibrations[vision.Marker].K
	side := k / d / math.Sqrt2
	return vision.DetectedObject{
		X:        (bearing + cam.FOV/2) * cam.Width / cam.FOV,
		Y:        cam.Height / 4,
		W:        side,
		H:        side,
		ClassID:  m.ID,
		Kind:     vision.Marker,
		LastSeen: w.clock,
	}, true
}

// SetMode switches between ball and marker rendering.
func (w *World) SetMode(m vision.Mode) error {
	w.mu.Lock()
	w.mode = m
	w.mu.Unlock()
	return nil
}

// Mode returns the rendering mode.
func (w *World) Mode() vision.Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Heading returns the compass heading in degrees, 0..360.
func (w *World) Heading() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heading
}

// Acceleration reports body vibration while rolling freely and nothing
// when stopped or pressed against a wall.
func (w *World) Acceleration() (ax, ay float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cmd.Throttle == 0 || w.bumped {
		return 0, 0
	}
	return w.cfg.Vibration, 0
}

// SetCommand applies a batched drive update.
func (w *World) SetCommand(cmd robot.Command) error {
	w.mu.Lock()
	w.cmd = cmd.Clamp()
	w.mu.Unlock()
	return nil
}

// SetThrottle sets the drive throttle in percent.
func (w *World) SetThrottle(percent float64) error {
	return w.update(func(c *robot.Command) { c.Throttle = percent })
}

// SetSteering sets the steering angle in degrees.
func (w *World) SetSteering(degrees float64) error {
	return w.update(func(c *robot.Command) { c.Steering = degrees })
}

// SetAuxiliary sets the collector motor power.
func (w *World) SetAuxiliary(percent float64) error {
	return w.update(func(c *robot.Command) { c.Auxiliary = percent })
}

// SetTilt sets the camera tilt. It has no effect on rendering.
func (w *World) SetTilt(degrees float64) error {
	return w.update(func(c *robot.Command) { c.Tilt = degrees })
}

func (w *World) update(fn func(*robot.Command)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.cmd)
	w.cmd = w.cmd.Clamp()
	return nil
}

// State is a snapshot of the world for tests and telemetry.
type State struct {
	Position  Point         `json:"position"`
	Heading   float64       `json:"heading"`
	Balls     int           `json:"balls"`
	Collected int           `json:"collected"`
	Command   robot.Command `json:"command"`
	Bumped    bool          `json:"bumped"`
}

// State returns a snapshot.
func (w *World) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return State{
		Position:  w.pos,
		Heading:   w.heading,
		Balls:     len(w.balls),
		Collected: w.collected,
		Command:   w.cmd,
		Bumped:    w.bumped,
	}
}

// Place moves the robot.
func (w *World) Place(p Point, heading float64) {
	w.mu.Lock()
	w.pos = p
	w.heading = compass(heading)
	w.mu.Unlock()
}

// SetBalls replaces the loose balls.
func (w *World) SetBalls(balls ...Point) {
	w.mu.Lock()
	w.balls = append([]Point(nil), balls...)
	w.mu.Unlock()
}

func compass(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

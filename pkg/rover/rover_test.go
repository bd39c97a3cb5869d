package rover

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-rover/pkg/arena"
	"github.com/teslashibe/go-rover/pkg/behavior"
	"github.com/teslashibe/go-rover/pkg/game"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/motion"
	"github.com/teslashibe/go-rover/pkg/sim"
	"github.com/teslashibe/go-rover/pkg/vision"
)

const period = 20 * time.Millisecond

// stubDetector returns a fixed frame or error.
type stubDetector struct {
	mu    sync.Mutex
	frame vision.Frame
	err   error
	modes []vision.Mode
}

func (d *stubDetector) Refresh(context.Context) (vision.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame, d.err
}

func (d *stubDetector) SetMode(m vision.Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modes = append(d.modes, m)
	return nil
}

// stubIMU reports a still robot.
type stubIMU struct {
	heading float64
	ax, ay  float64
}

func (i *stubIMU) Heading() float64 { return i.heading }
func (i *stubIMU) Acceleration() (float64, float64) { return i.ax, i.ay }

type driveState struct {
	steering    float64
	throttle    float64
	auxiliary   float64
	tilt        float64
	minThrottle float64
}

// mockDrive records actuator commands.
type mockDrive struct {
	mu    sync.Mutex
	state driveState
}

func (m *mockDrive) SetSteering(deg float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.steering = deg
	return nil
}

func (m *mockDrive) SetThrottle(p float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.throttle = p
	m.state.minThrottle = math.Min(m.state.minThrottle, p)
	return nil
}

func (m *mockDrive) SetAuxiliary(p float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.auxiliary = p
	return nil
}

func (m *mockDrive) SetTilt(deg float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.tilt = deg
	return nil
}

func (m *mockDrive) snapshot() driveState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

type fixture struct {
	t       *testing.T
	rover   *Rover
	det     *stubDetector
	imu     *stubIMU
	drive   *mockDrive
	metrics *metrics.Metrics
	now     time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		det:     &stubDetector{},
		imu:     &stubIMU{},
		drive:   &mockDrive{},
		metrics: metrics.New(),
		now:     time.Now(),
	}
	r, err := New(cfg, f.det, f.imu, f.drive, f.metrics)
	require.NoError(t, err)
	f.rover = r
	return f
}

// run advances the loop n cycles.
func (f *fixture) run(n int) {
	for i := 0; i < n; i++ {
		f.now = f.now.Add(period)
		f.rover.tick(context.Background(), f.now)
	}
}

func (f *fixture) command(name string) {
	f.t.Helper()
	require.NoError(f.t, f.rover.Command(name, "test"))
	f.run(1)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Period = 0
	_, err := New(cfg, &stubDetector{}, &stubIMU{}, &mockDrive{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "period")

	_, err = New(DefaultConfig(), nil, &stubIMU{}, &mockDrive{}, nil)
	assert.Error(t, err)
}

func TestRover_StartsWaitingWithMarkerDetector(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	assert.Equal(t, behavior.Waiting, f.rover.machine.State())
	assert.Equal(t, []vision.Mode{vision.ModeTag}, f.det.modes)
	assert.Equal(t, f.rover.cfg.Behavior.TiltMarkers, f.drive.snapshot().tilt)
	assert.Equal(t, int64(behavior.Waiting), f.metrics.State.Load())
}

func TestRover_StartRequiresObey(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.command("start")
	assert.Equal(t, behavior.Waiting, f.rover.machine.State(), "start before obey is ignored")
	assert.Equal(t, game.Stopped, f.rover.session.State())

	f.command("obey")
	f.command("start")
	assert.Equal(t, behavior.SearchingTargets, f.rover.machine.State())
	assert.Equal(t, game.Started, f.rover.session.State())
	assert.Equal(t, vision.ModeColor, f.rover.mode)
	assert.Equal(t, f.rover.cfg.Behavior.CollectorPower, f.drive.snapshot().auxiliary)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Commands.WithLabelValues("start", "test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.States.WithLabelValues("searching_targets")))
}

func TestRover_RepeatedStartKeepsMatchClock(t *testing.T) {
	f := newFixture(t, BenchConfig())
	f.command("start")
	require.Equal(t, game.Started, f.rover.session.State())
	id := f.rover.session.ID()

	f.run(50)
	remaining := f.rover.session.Remaining(f.now)
	f.command("start")

	assert.Equal(t, id, f.rover.session.ID(), "repeated start opened a new match")
	assert.Less(t, f.rover.session.Remaining(f.now), remaining, "match clock was reset")
}

func TestRover_UnknownCommand(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	err := f.rover.Command("dance", "test")
	assert.ErrorIs(t, err, game.ErrUnknownCommand)
}

func TestRover_StopHaltsDrive(t *testing.T) {
	f := newFixture(t, BenchConfig())
	f.imu.ax = 300
	f.command("start")
	f.det.frame = vision.Frame{Balls: []vision.DetectedObject{
		{X: 160, Y: 120, W: 10, H: 10, Kind: vision.Ball, ClassID: vision.ColorRed},
	}}
	f.run(10)
	require.Equal(t, behavior.TrackingTarget, f.rover.machine.State())
	require.Greater(t, f.drive.snapshot().throttle, 0.0)

	f.command("stop")
	d := f.drive.snapshot()
	assert.Equal(t, behavior.Stopped, f.rover.machine.State())
	assert.Equal(t, game.Stopped, f.rover.session.State())
	assert.Zero(t, d.throttle)
	assert.Zero(t, d.auxiliary)
}

func TestRover_DangerSendsRobotHome(t *testing.T) {
	f := newFixture(t, BenchConfig())
	f.command("start")
	f.command("danger")

	assert.Equal(t, behavior.SearchingHome, f.rover.machine.State())
	assert.True(t, f.rover.session.Danger())
	assert.Equal(t, vision.ModeTag, f.rover.mode)
}

func TestRover_DetectorErrorIsAnEmptyFrame(t *testing.T) {
	f := newFixture(t, BenchConfig())
	f.command("start")
	f.det.err = errors.New("camera unplugged")

	f.run(5)

	assert.Equal(t, behavior.SearchingTargets, f.rover.machine.State())
	assert.Equal(t, uint64(5), f.metrics.DetectorErrors.Load())
	assert.Equal(t, uint64(6), f.metrics.LoopTicks.Load())
}

func TestRover_StallStartsEscapeManeuver(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.command("obey")
	f.command("start")

	// Nothing in view: after the spin delay the robot spins in place while
	// the accelerometer reads zero.
	f.run(150)

	assert.GreaterOrEqual(t, f.metrics.Stalls.Load(), uint64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(f.metrics.States.WithLabelValues("unblocking")), 1.0)
	assert.Less(t, f.drive.snapshot().minThrottle, 0.0, "escape maneuver reverses")
}

func TestRover_CountdownStopsMatch(t *testing.T) {
	cfg := BenchConfig()
	cfg.Game.Duration = time.Second
	f := newFixture(t, cfg)
	f.command("start")

	f.rover.countdown(f.now.Add(500 * time.Millisecond))
	assert.NotEqual(t, behavior.Stopped, f.rover.machine.State())

	f.rover.countdown(f.now.Add(2 * time.Second))
	assert.Equal(t, behavior.Stopped, f.rover.machine.State())
	assert.Equal(t, game.Stopped, f.rover.session.State())
}

func TestRover_PublishTelemetry(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	var got []Telemetry
	f.rover.OnTelemetry = func(tel Telemetry) { got = append(got, tel) }

	f.rover.publish(f.now)

	require.Len(t, got, 1)
	tel := f.rover.Telemetry()
	assert.Equal(t, behavior.Waiting, tel.State)
	assert.Equal(t, "free", tel.Session.Mode)
	assert.Equal(t, "tag", tel.Detector)
	assert.Equal(t, game.DefaultDuration.Milliseconds(), f.metrics.RemainingMs.Load())
}

func TestRover_Tuning(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	before := f.rover.GetTuningParams()

	require.Error(t, f.rover.SetTuningParams(TuningParams{TrackGain: -1}))
	require.Error(t, f.rover.SetTuningJSON([]byte("{")))

	require.NoError(t, f.rover.SetTuningJSON([]byte(`{"track_gain": 3, "heading_kp": 2.5}`)))
	after := f.rover.GetTuningParams()
	assert.Equal(t, 3.0, after.TrackGain)
	assert.Equal(t, 2.5, after.HeadingKp)
	assert.Equal(t, before.SpeedKp, after.SpeedKp, "zero values are not applied")

	// Applied by the loop, not by the setter.
	assert.Equal(t, before.TrackGain, f.rover.machine.Config().TrackGain)
	f.run(1)
	assert.Equal(t, 3.0, f.rover.machine.Config().TrackGain)
	assert.Equal(t, 2.5, f.rover.motion.Config().Heading.Kp)
}

func TestRover_RunHaltsOnCancel(t *testing.T) {
	cfg := BenchConfig()
	cfg.Period = 5 * time.Millisecond
	cfg.TelemetryInterval = 10 * time.Millisecond
	f := newFixture(t, cfg)

	var mu sync.Mutex
	published := 0
	f.rover.OnTelemetry = func(Telemetry) {
		mu.Lock()
		published++
		mu.Unlock()
	}
	require.NoError(t, f.rover.Command("start", "test"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := f.rover.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, f.drive.snapshot().throttle)
	assert.Zero(t, f.drive.snapshot().auxiliary)
	mu.Lock()
	assert.Positive(t, published)
	mu.Unlock()
	assert.Positive(t, f.metrics.LoopTicks.Load())
}

// simFixture runs the loop against the simulated field.
type simFixture struct {
	rover *Rover
	world *sim.World
	now   time.Time
}

func newSimFixture(t *testing.T, cfg Config, world sim.Config) *simFixture {
	t.Helper()
	cfg.Arena.Layout = world.Layout
	geometry := vision.DefaultGeometry()
	geometry.Camera = cfg.Camera
	w := sim.New(world, geometry)
	r, err := New(cfg, w, w, w, nil)
	require.NoError(t, err)
	return &simFixture{rover: r, world: w, now: time.Now()}
}

func (s *simFixture) run(n int) {
	for i := 0; i < n; i++ {
		s.world.Step(period)
		s.now = s.now.Add(period)
		s.rover.tick(context.Background(), s.now)
	}
}

func TestRover_CollectsBallInSimulation(t *testing.T) {
	world := sim.DefaultConfig()
	world.Balls = []sim.Point{{X: 0, Y: 30}}
	s := newSimFixture(t, BenchConfig(), world)

	require.NoError(t, s.rover.Command("start", "test"))
	for i := 0; i < 500 && s.world.State().Collected == 0; i++ {
		s.run(1)
	}

	st := s.world.State()
	assert.Equal(t, 1, st.Collected, "world: %+v", st)
	assert.Greater(t, st.Position.Y, 10.0)
}

func TestRover_SurveyLocalisesAndGuidesHome(t *testing.T) {
	world := sim.DefaultConfig()
	world.Balls = nil
	world.Start = sim.Point{X: -40, Y: -40}
	world.Heading = 45
	s := newSimFixture(t, BenchConfig(), world)

	require.NoError(t, s.rover.Command("start", "test"))
	s.rover.tick(context.Background(), s.now)
	require.Equal(t, vision.ModeColor, s.world.Mode())

	s.rover.survey(context.Background(), s.now)
	assert.Equal(t, vision.ModeColor, s.world.Mode(), "detector mode restored")

	pose := s.rover.estimator.Pose()
	assert.InDelta(t, -40, pose.X, 0.5)
	assert.InDelta(t, -40, pose.Y, 0.5)
	require.True(t, s.rover.estimator.Reliable(s.now))

	g := s.rover.guide(s.now, 45)
	require.NotNil(t, g)
	assert.InDelta(t, math.Hypot(25, 25), g.Distance, 0.5)
	assert.InDelta(t, 180, math.Abs(g.Bearing), 0.5)

	s.rover.chart(s.now, 45)
	assert.True(t, s.rover.Grid().IsFree(-40, -40), "pose cell not charted free")

	s.rover.movement = motion.Blocked
	s.rover.chart(s.now, 45)
	reach := bumperReach / math.Sqrt2
	assert.Equal(t, arena.Occupied, s.rover.Grid().At(-40+reach, -40+reach))
}

func TestRover_SurveySkippedWhenIdle(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.det.modes = nil
	f.rover.survey(context.Background(), f.now)
	assert.Empty(t, f.det.modes)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, BenchConfig().Validate())

	cfg := DefaultConfig()
	cfg.StatusInterval = 0
	cfg.Camera.FOV = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status_interval")
	assert.Contains(t, err.Error(), "camera")
}

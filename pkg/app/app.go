package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/arbiter"
	"github.com/teslashibe/go-rover/pkg/metrics"
	"github.com/teslashibe/go-rover/pkg/robot"
	"github.com/teslashibe/go-rover/pkg/rover"
	"github.com/teslashibe/go-rover/pkg/sim"
	"github.com/teslashibe/go-rover/pkg/vision"
	"github.com/teslashibe/go-rover/pkg/vision/detection"
	"github.com/teslashibe/go-rover/pkg/web"
)

// App is the rover application orchestrator.
// It manages all components and their lifecycle.
type App struct {
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Control loop
	rover *rover.Rover
	drive *robot.RateController

	// Hardware; nil in simulation
	camera *detection.CameraDetector
	imu    *robot.IMUPoller

	// Simulation; nil on hardware
	world *sim.World

	// Game controller links
	ws     *arbiter.WSClient
	serial *arbiter.SerialLink

	// Web dashboard
	webServer *web.Server

	wg sync.WaitGroup
}

// New creates a new application with the given configuration.
func New(cfg Config) (*App, error) {
	cfg.LoadEnvConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Init(cfg.LogLevel)

	return &App{
		config: cfg,
		logger: log.Component("app"),
	}, nil
}

// Init initializes all components.
// Call this after New() and before Run().
func (a *App) Init() error {
	a.metrics = metrics.New()

	detector, imu, err := a.initDevices()
	if err != nil {
		return fmt.Errorf("devices: %w", err)
	}
	a.drive.OnError = func(error) { a.metrics.DriveErrors.Add(1) }

	rv, err := rover.New(a.config.Rover, detector, imu, a.drive, a.metrics)
	if err != nil {
		return fmt.Errorf("rover: %w", err)
	}
	a.rover = rv

	if err := a.initLinks(); err != nil {
		return fmt.Errorf("arbiter: %w", err)
	}
	a.initWeb()

	a.logger.Info("rover initialized",
		"sim", a.config.Sim,
		"state", rv.Telemetry().State,
		"ws", a.ws != nil,
		"serial", a.serial != nil,
		"web", a.config.Web.Addr)
	return nil
}

// initDevices opens the camera, IMU and drive, or builds the simulated
// world that stands in for all three.
func (a *App) initDevices() (vision.Detector, rover.IMU, error) {
	if a.config.Sim {
		geometry := vision.DefaultGeometry()
		geometry.Camera = a.config.Rover.Camera
		a.world = sim.New(a.config.World, geometry)
		a.drive = robot.NewRateController(a.world, a.config.Drive.Rate)
		return a.world, a.world, nil
	}

	cam, err := detection.OpenCamera(a.config.Camera.Device, detection.DefaultColorConfig())
	if err != nil {
		return nil, nil, err
	}
	a.camera = cam
	driver := robot.NewHTTPDriver(a.config.Drive.URL)
	if state, err := driver.GetDaemonStatus(); err != nil {
		a.logger.Warn("drive daemon not reachable", "url", a.config.Drive.URL, "error", err)
	} else {
		a.logger.Info("drive daemon", "url", a.config.Drive.URL, "state", state)
	}
	a.imu = robot.NewIMUPoller(a.config.Drive.URL, a.config.Drive.IMURate)
	a.drive = robot.NewRateController(driver, a.config.Drive.Rate)
	return cam, a.imu, nil
}

func (a *App) initLinks() error {
	inbox := a.rover.Inbox()
	if a.config.Arbiter.WS.URL != "" {
		a.ws = arbiter.NewWSClient(a.config.Arbiter.WS, inbox)
	}
	if a.config.Arbiter.SerialEnabled {
		link, err := arbiter.OpenSerial(a.config.Arbiter.Serial, inbox)
		if err != nil {
			return err
		}
		a.serial = link
	}
	return nil
}

func (a *App) initWeb() {
	if a.config.Web.Addr == "" {
		return
	}
	s := web.NewServer(a.config.Web.Addr, a.metrics)
	s.OnCommand = func(name string) error { return a.rover.Command(name, "web") }
	s.OnGetTuning = func() any { return a.rover.GetTuningParams() }
	s.OnSetTuning = a.rover.SetTuningJSON
	s.OnGetGrid = func() any { return a.rover.Grid().Cells() }
	a.rover.OnTelemetry = func(t rover.Telemetry) { s.PublishStatus(t) }
	log.SetSink(s.AddLog)
	a.webServer = s
}

// Rover returns the control loop. Valid after Init.
func (a *App) Rover() *rover.Rover { return a.rover }

// World returns the simulated arena, nil on hardware.
func (a *App) World() *sim.World { return a.world }

// Run starts every component and the control loop.
// Blocks until context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.goRun(func() { a.drive.Run(ctx) })
	if a.world != nil {
		a.goRun(func() { a.world.Run(ctx, a.config.Rover.Period) })
	}
	if a.imu != nil {
		a.goRun(func() { a.imu.Run(ctx) })
	}
	if a.ws != nil {
		a.goRun(func() { a.linkDone("ws", a.ws.Run(ctx)) })
	}
	if a.serial != nil {
		a.goRun(func() { a.linkDone("serial", a.serial.Run(ctx)) })
	}
	if a.webServer != nil {
		a.webServer.StartAsync()
	}

	err := a.rover.Run(ctx)
	a.wg.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Calibrate runs the open-loop calibration moves instead of a match. The
// drive, the simulation and the IMU run only for the duration of the moves.
func (a *App) Calibrate(ctx context.Context, moves []rover.Move) ([]rover.MoveResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		a.wg.Wait()
	}()

	if a.imu != nil {
		if err := a.imu.Poll(ctx); err != nil {
			return nil, fmt.Errorf("read compass: %w", err)
		}
		a.goRun(func() { a.imu.Run(ctx) })
	}
	a.goRun(func() { a.drive.Run(ctx) })
	if a.world != nil {
		a.goRun(func() { a.world.Run(ctx, a.config.Rover.Period) })
	}

	return a.rover.Calibrate(ctx, moves)
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) linkDone(link string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		a.logger.Error("controller link stopped", "link", link, "error", err)
	}
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	log.SetSink(nil)
	if a.webServer != nil {
		if err := a.webServer.Shutdown(); err != nil {
			a.logger.Warn("web shutdown", "error", err)
		}
	}
	if a.serial != nil {
		_ = a.serial.Close()
	}
	if a.camera != nil {
		_ = a.camera.Close()
	}
	if a.drive != nil {
		a.drive.Stop()
	}
	a.logger.Info("rover stopped")
}

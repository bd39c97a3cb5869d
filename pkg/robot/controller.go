package robot

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-rover/internal/log"
	"github.com/teslashibe/go-rover/pkg/motion"
	"github.com/teslashibe/go-rover/pkg/pid"
)

// Physical actuator limits. These are safety limits to prevent sending
// impossible commands to the driver daemon.
const (
	MaxThrottle  = 100.0 // percent
	MaxSteering  = 45.0  // degrees
	MaxAuxiliary = 100.0 // percent
	MaxTilt      = 40.0  // degrees
)

// Clamp returns a copy of cmd with every field inside the physical limits.
// NaN fields become zero.
func (c Command) Clamp() Command {
	return Command{
		Throttle:  clamp(c.Throttle, MaxThrottle),
		Steering:  clamp(c.Steering, MaxSteering),
		Auxiliary: clamp(c.Auxiliary, MaxAuxiliary),
		Tilt:      clamp(c.Tilt, MaxTilt),
	}
}

func clamp(v, limit float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return pid.Clamp(v, -limit, limit)
}

// Dead-zone thresholds. Skip sending if the command hasn't changed enough;
// this keeps the daemon quiet while the robot holds still.
const (
	DeadZoneThrottle  = 0.5 // percent
	DeadZoneSteering  = 0.5 // degrees
	DeadZoneAuxiliary = 1.0 // percent
	DeadZoneTilt      = 0.5 // degrees
)

// heartbeatTicks is how often the controller logs its counters.
const heartbeatTicks = 100

// errorLogInterval limits repeated send-failure warnings.
const errorLogInterval = 5 * time.Second

// Stats are the RateController diagnostics.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Skipped uint64 `json:"skipped"`
	Errors  uint64 `json:"errors"`
}

// RateController collects actuator setpoints from the control loop and
// forwards them to the driver at a fixed rate in a single batched call.
// It implements motion.Actuators.
type RateController struct {
	robot  CommandController
	logger *slog.Logger

	// OnError is called from the loop for every failed send.
	OnError func(error)

	mu  sync.RWMutex
	cmd Command

	rate     time.Duration
	stop     chan struct{}
	stopOnce sync.Once

	// Dead-zone filtering
	lastSent Command
	skipped  atomic.Uint64

	// Diagnostics
	ticks         atomic.Uint64
	errors        atomic.Uint64
	lastErrorTime time.Time
}

var _ motion.Actuators = (*RateController)(nil)

// NewRateController creates a rate-limited controller running at the given rate.
// Typical rate is 20ms (50Hz).
func NewRateController(robot CommandController, rate time.Duration) *RateController {
	return &RateController{
		robot:  robot,
		logger: log.Component("drive"),
		rate:   rate,
		stop:   make(chan struct{}),
	}
}

// SetThrottle sets the wheel throttle.
func (c *RateController) SetThrottle(percent float64) error {
	c.mu.Lock()
	c.cmd.Throttle = percent
	c.mu.Unlock()
	return nil
}

// SetSteering sets the steering angle.
func (c *RateController) SetSteering(degrees float64) error {
	c.mu.Lock()
	c.cmd.Steering = degrees
	c.mu.Unlock()
	return nil
}

// SetAuxiliary sets the collector motor power.
func (c *RateController) SetAuxiliary(percent float64) error {
	c.mu.Lock()
	c.cmd.Auxiliary = percent
	c.mu.Unlock()
	return nil
}

// SetTilt sets the camera tilt.
func (c *RateController) SetTilt(degrees float64) error {
	c.mu.Lock()
	c.cmd.Tilt = degrees
	c.mu.Unlock()
	return nil
}

// Command returns the pending command, clamped.
func (c *RateController) Command() Command {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cmd.Clamp()
}

// Stats returns the diagnostic counters.
func (c *RateController) Stats() Stats {
	return Stats{Ticks: c.ticks.Load(), Skipped: c.skipped.Load(), Errors: c.errors.Load()}
}

// Run starts the control loop. Blocks until Stop is called or ctx is done.
// The driver is left stopped on exit.
func (c *RateController) Run(ctx context.Context) {
	ticker := time.NewTicker(c.rate)
	defer ticker.Stop()
	defer c.halt()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *RateController) halt() {
	c.mu.Lock()
	c.cmd.Throttle = 0
	c.cmd.Steering = 0
	c.cmd.Auxiliary = 0
	c.mu.Unlock()
	c.flush(true)
}

func within(a, b, zone float64) bool {
	return math.Abs(a-b) < zone
}

// tick executes one control cycle: clamp and send the pending command.
func (c *RateController) tick() {
	c.flush(false)
}

// flush sends the pending command. Unless forced, a command inside the
// dead zone of the last one sent is skipped.
func (c *RateController) flush(force bool) {
	cmd := c.Command()

	if c.robot == nil {
		return
	}

	c.ticks.Add(1)

	if !force &&
		within(cmd.Throttle, c.lastSent.Throttle, DeadZoneThrottle) &&
		within(cmd.Steering, c.lastSent.Steering, DeadZoneSteering) &&
		within(cmd.Auxiliary, c.lastSent.Auxiliary, DeadZoneAuxiliary) &&
		within(cmd.Tilt, c.lastSent.Tilt, DeadZoneTilt) {
		c.skipped.Add(1)
		c.heartbeat(cmd)
		return
	}

	if err := c.robot.SetCommand(cmd); err == nil {
		c.lastSent = cmd
	} else {
		n := c.errors.Add(1)
		if c.OnError != nil {
			c.OnError(err)
		}
		if c.lastErrorTime.IsZero() || time.Since(c.lastErrorTime) > errorLogInterval {
			c.logger.Warn("drive command failed", "error", err, "total_errors", n)
			c.lastErrorTime = time.Now()
		}
	}

	c.heartbeat(cmd)
}

func (c *RateController) heartbeat(cmd Command) {
	if st := c.Stats(); st.Ticks%heartbeatTicks == 0 {
		c.logger.Debug("drive heartbeat",
			"ticks", st.Ticks, "skipped", st.Skipped, "errors", st.Errors,
			"throttle", cmd.Throttle, "steering", cmd.Steering)
	}
}

// Stop halts the control loop gracefully. Safe to call more than once.
func (c *RateController) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

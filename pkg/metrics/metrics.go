// Package metrics exposes control-loop counters to Prometheus.
package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all rover metrics
type Metrics struct {
	// Loop counters
	LoopTicks      atomic.Uint64
	LoopOverruns   atomic.Uint64
	DetectorErrors atomic.Uint64
	DriveErrors    atomic.Uint64

	// Behavior
	Stalls   atomic.Uint64
	State    atomic.Int64 // behavior.State ordinal
	Commands *prometheus.CounterVec
	States   *prometheus.CounterVec

	// Timing
	LoopLatencyUs atomic.Uint64
	RemainingMs   atomic.Int64

	// Localisation
	poseConfidence atomic.Uint64 // float64 bits

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rover_commands_total",
			Help: "Controller commands received, by command and source",
		}, []string{"command", "source"}),
		States: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rover_state_entries_total",
			Help: "Behavior state entries, by state",
		}, []string{"state"}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	m.registry.MustRegister(m.Commands, m.States)

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "rover_loop_ticks_total",
			Help: "Control loop cycles executed",
		},
		func() float64 { return float64(m.LoopTicks.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "rover_loop_overruns_total",
			Help: "Control loop cycles that took longer than the period",
		},
		func() float64 { return float64(m.LoopOverruns.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "rover_detector_errors_total",
			Help: "Detector refresh failures",
		},
		func() float64 { return float64(m.DetectorErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "rover_drive_errors_total",
			Help: "Drive daemon command failures",
		},
		func() float64 { return float64(m.DriveErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "rover_stalls_total",
			Help: "Blocked verdicts from the stall detector",
		},
		func() float64 { return float64(m.Stalls.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rover_state",
			Help: "Active behavior state ordinal",
		},
		func() float64 { return float64(m.State.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rover_loop_latency_seconds",
			Help: "Duration of the last control loop cycle",
		},
		func() float64 { return float64(m.LoopLatencyUs.Load()) / 1e6 },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rover_match_remaining_seconds",
			Help: "Match time remaining",
		},
		func() float64 { return float64(m.RemainingMs.Load()) / 1e3 },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "rover_pose_confidence",
			Help: "Arena position estimate confidence (0-100)",
		},
		m.PoseConfidence,
	))
}

// ObserveLoop records one control cycle.
func (m *Metrics) ObserveLoop(took, period time.Duration) {
	m.LoopTicks.Add(1)
	m.LoopLatencyUs.Store(uint64(took.Microseconds()))
	if period > 0 && took > period {
		m.LoopOverruns.Add(1)
	}
}

// SetRemaining records the match time left.
func (m *Metrics) SetRemaining(d time.Duration) {
	m.RemainingMs.Store(d.Milliseconds())
}

// SetPoseConfidence records the estimator confidence.
func (m *Metrics) SetPoseConfidence(c float64) {
	m.poseConfidence.Store(math.Float64bits(c))
}

// PoseConfidence returns the last recorded estimator confidence.
func (m *Metrics) PoseConfidence() float64 {
	return math.Float64frombits(m.poseConfidence.Load())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

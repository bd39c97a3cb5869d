// Package behavior is the robot's decision layer: a finite-state machine
// that reads targets, the match clock and controller commands and emits
// the Waypoint the motion controller should pursue.
package behavior

import (
	"strings"

	"github.com/teslashibe/go-rover/pkg/vision"
)

// State is the robot's current intent. Exactly one is active.
type State int

const (
	Stopped State = iota
	Waiting
	SearchingTargets
	TrackingTarget
	SearchingHome
	GoingHome
	Unblocking
	AtHome
)

var stateNames = [...]string{
	Stopped:          "stopped",
	Waiting:          "waiting",
	SearchingTargets: "searching_targets",
	TrackingTarget:   "tracking_target",
	SearchingHome:    "searching_home",
	GoingHome:        "going_home",
	Unblocking:       "unblocking",
	AtHome:           "at_home",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// ParseState maps a name back to a State.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == strings.ToLower(name) {
			return State(i), true
		}
	}
	return Stopped, false
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether the state pursues an objective and can stall.
func (s State) Active() bool {
	switch s {
	case SearchingTargets, TrackingTarget, SearchingHome, GoingHome:
		return true
	}
	return false
}

// collecting reports whether the state is part of the collection phase.
func (s State) collecting() bool {
	return s == SearchingTargets || s == TrackingTarget
}

// Cue is a feedback signal for lights or sound.
type Cue int

const (
	CueNone Cue = iota
	CueStarted
	CueStopped
	CueTargetAcquired
	CueBlocked
	CueHomeSighted
	CueMissionComplete
)

func (c Cue) String() string {
	switch c {
	case CueStarted:
		return "started"
	case CueStopped:
		return "stopped"
	case CueTargetAcquired:
		return "target_acquired"
	case CueBlocked:
		return "blocked"
	case CueHomeSighted:
		return "home_sighted"
	case CueMissionComplete:
		return "mission_complete"
	default:
		return "none"
	}
}

// Hooks receive one-shot entry side effects. Implementations must be cheap;
// they run inside the control loop.
type Hooks interface {
	SetDetectorMode(m vision.Mode)
	SetCameraTilt(degrees float64)
	Cue(c Cue)
}

// NopHooks ignores every side effect.
type NopHooks struct{}

func (NopHooks) SetDetectorMode(vision.Mode) {}
func (NopHooks) SetCameraTilt(float64)       {}
func (NopHooks) Cue(Cue)                     {}
